// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package telegram is a stateless HTTP wrapper around the Telegram Bot API,
// used by the monitor loop to push escalation messages. Delivery is
// best-effort: a send failure is logged and swallowed, never propagated as
// a reason to block recovery or log-writing, grounded on the teacher's
// doctor.go callAIModel HTTP client shape.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const apiHost = "https://api.telegram.org"

// maxMessageRunes is Telegram's hard limit on a single sendMessage body.
const maxMessageRunes = 4096

// interChunkPause separates consecutive chunks of a split message so a
// multi-part escalation doesn't read as a burst against the bot API's
// rate limit.
const interChunkPause = 500 * time.Millisecond

// Client sends escalation messages to a single bot/chat pair.
type Client struct {
	httpClient *http.Client
	botToken   string
	chatID     string
}

// New returns a Client, or (nil, false) if either credential is empty —
// callers treat a disabled Client as "no Telegram configured" per the
// spec's "unset optional credentials disable the capability silently".
func New(botToken, chatID string) (*Client, bool) {
	if botToken == "" || chatID == "" {
		return nil, false
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		botToken:   botToken,
		chatID:     chatID,
	}, true
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type sendMessageResponse struct {
	OK          bool `json:"ok"`
	ErrorCode   int  `json:"error_code"`
	Description string
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// EscapeHTML escapes the three characters Telegram's HTML parse mode
// requires escaped in dynamic text: `<`, `>`, `&`.
func EscapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// Send delivers text (already HTML-escaped by the caller where it embeds
// dynamic content) to the configured chat. Bodies longer than 4096 UTF-8
// characters are split at newline boundaries and sent sequentially with a
// short pause between chunks. A 4xx response other than 429 is logged here
// and not returned; any other error is returned to the caller, who is
// expected to log and swallow it — Send itself never retries except for a
// 429's documented retry_after.
func (c *Client) Send(ctx context.Context, text string) error {
	chunks := splitMessage(text, maxMessageRunes)
	for i, chunk := range chunks {
		if err := c.sendChunk(ctx, chunk); err != nil {
			return err
		}
		if i < len(chunks)-1 {
			select {
			case <-time.After(interChunkPause):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

func (c *Client) sendChunk(ctx context.Context, text string) error {
	body, err := json.Marshal(sendMessageRequest{ChatID: c.chatID, Text: text, ParseMode: "HTML"})
	if err != nil {
		return fmt.Errorf("telegram: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", apiHost, c.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests {
		var parsed sendMessageResponse
		_ = json.Unmarshal(respBody, &parsed)
		wait := time.Duration(parsed.Parameters.RetryAfter) * time.Second
		if wait <= 0 {
			wait = time.Second
		}
		log.Warnf("telegram: rate limited, waiting %s before retrying", wait)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
		return c.sendChunk(ctx, text)
	}

	if resp.StatusCode/100 == 4 {
		// Any other 4xx is logged and swallowed per the error handling design:
		// a Telegram failure never blocks recovery or log-writing.
		log.Warnf("telegram: sendMessage returned %d: %s", resp.StatusCode, string(respBody))
		return nil
	}

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("telegram: sendMessage returned %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// splitMessage breaks text into chunks no longer than limit runes, cutting
// at the last newline before the limit when one exists so a message is
// never split mid-line.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= limit {
			chunks = append(chunks, string(runes))
			break
		}
		cut := limit
		for i := limit; i > 0; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	return chunks
}

// FormatEscalation builds the standard escalation message body for §8's
// S4 scenario: project name, phase, stall type, restart count.
func FormatEscalation(project string, phase *int, stallType, detail string, restartCount int) string {
	phaseStr := "unknown"
	if phase != nil {
		phaseStr = strconv.Itoa(*phase)
	}
	return fmt.Sprintf(
		"<b>Escalation: %s</b>\nPhase: %s\nStall type: %s\nRestart attempts: %d\n%s",
		EscapeHTML(project), phaseStr, EscapeHTML(stallType), restartCount, EscapeHTML(detail),
	)
}
