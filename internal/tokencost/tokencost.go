// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package tokencost estimates the pre-flight token count and USD cost of a
// prompt before the Interventor spawns an AI session, so a diagnosis or fix
// attempt that would obviously blow its budget can be skipped rather than
// spent. The teacher's sculptor.TokenEstimator left its "tiktoken" method as
// a TODO falling back to a word-count heuristic; this package finishes that
// integration with tiktoken-go/tokenizer and keeps the same heuristic as a
// fallback when a model's encoding is unknown.
package tokencost

import (
	"strings"

	"github.com/tiktoken-go/tokenizer"
)

// PricePerMillionTokens holds a model's USD price per million input and
// output tokens. Supervisor sessions are prompt-heavy and response-light,
// so budget estimation weights input tokens at 1x and assumes a fixed
// output-token allowance per turn.
type PricePerMillionTokens struct {
	Input  float64
	Output float64
}

// defaultPricing is a small table of the models the Interventor is likely
// to be configured with. Unknown models fall back to DefaultPricing.
var defaultPricing = map[string]PricePerMillionTokens{
	"claude-opus-4.5":   {Input: 5.00, Output: 25.00},
	"claude-sonnet-4.5": {Input: 3.00, Output: 15.00},
	"claude-haiku-4.5":  {Input: 1.00, Output: 5.00},
	"gpt-4o":            {Input: 2.50, Output: 10.00},
	"gpt-4o-mini":       {Input: 0.15, Output: 0.60},
}

// DefaultPricing is used for a model absent from defaultPricing.
var DefaultPricing = PricePerMillionTokens{Input: 3.00, Output: 15.00}

// estimatedOutputTokensPerTurn is a conservative per-turn output allowance
// used only for pre-flight cost estimation, not an enforced cap — the AI
// driver's own budget_usd cap is the real enforcement point.
const estimatedOutputTokensPerTurn = 800

// EstimateTokens counts text's tokens using the cl100k_base encoding (the
// encoding family shared by the modern Claude and GPT-4 class models this
// supervisor targets). On any tokenizer error it falls back to the
// teacher's word-count*1.3 approximation rather than failing the caller.
func EstimateTokens(text string) int {
	enc, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return wordEstimate(text)
	}
	ids, _, err := enc.Encode(text)
	if err != nil {
		return wordEstimate(text)
	}
	return len(ids)
}

func wordEstimate(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	return int(float64(words) * 1.3)
}

// pricingFor returns the price table for model, matching by prefix so a
// dated model string (e.g. "claude-opus-4.5-20260115") still resolves.
func pricingFor(model string) PricePerMillionTokens {
	if p, ok := defaultPricing[model]; ok {
		return p
	}
	for prefix, p := range defaultPricing {
		if strings.HasPrefix(model, prefix) {
			return p
		}
	}
	return DefaultPricing
}

// EstimateCost returns the estimated USD cost of sending prompt to model
// and running maxTurns turns, each incurring the prompt once (a
// conservative over-estimate for a multi-turn session re-sending context)
// plus a fixed per-turn output allowance.
func EstimateCost(model, prompt string, maxTurns int) float64 {
	if maxTurns <= 0 {
		maxTurns = 1
	}
	price := pricingFor(model)
	promptTokens := EstimateTokens(prompt)

	inputCost := float64(promptTokens*maxTurns) / 1_000_000 * price.Input
	outputCost := float64(estimatedOutputTokensPerTurn*maxTurns) / 1_000_000 * price.Output
	return inputCost + outputCost
}

// FitsBudget reports whether EstimateCost(model, prompt, maxTurns) is at or
// under budgetUSD, letting the Interventor skip a session it can already
// tell will exceed its cap rather than spend into a budget error subtype.
func FitsBudget(model, prompt string, maxTurns int, budgetUSD float64) bool {
	return EstimateCost(model, prompt, maxTurns) <= budgetUSD
}
