// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package memory is a stateless HTTP wrapper around the long-term
// fix-pattern store: search(query, tag, filters) and store(record).
// Grounded on the teacher's doctor.go HTTP client shape and
// internal/memory/manager.go's interface surface, repurposed from a local
// file-backed store to a remote bearer-token HTTP service. Every failure is
// logged and treated as an empty result / no-op — the memory service is
// advisory, never load-bearing for an intervention's terminal outcome.
//
// Response/record decoding uses goccy/go-json, a drop-in encoding/json
// replacement, the same choice the teacher makes for its own HTTP response
// payloads (see gemini_openai-responses_response.go).
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// FixRecord is one stored or retrieved fix-pattern document.
type FixRecord struct {
	ID           string            `json:"id"`
	CustomID     string            `json:"custom_id"`
	ContainerTag string            `json:"container_tag,omitempty"`
	Content      string            `json:"content"`
	Metadata     map[string]string `json:"metadata"`
	Score        float64           `json:"score,omitempty"`
}

// SearchQuery is the request shape for search.
type SearchQuery struct {
	Query        string
	ContainerTag string            // empty means unscoped (cross-project) search
	Filters      map[string]string // flat metadata filter, e.g. error_category
	Threshold    float64
	Limit        int
}

// Client talks to the Memory service over HTTPS with bearer-token auth. A
// nil Client (returned when no base URL is configured) makes every method a
// safe no-op, matching "unset optional credentials disable the capability
// silently".
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	tokenSource oauth2.TokenSource
}

// New returns a Client bound to baseURL authenticating with a static bearer
// token, or (nil, false) if baseURL is empty.
func New(baseURL, apiKey string) (*Client, bool) {
	if baseURL == "" {
		return nil, false
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
	}, true
}

// OAuthConfig selects the client-credentials grant as an alternative to a
// static bearer token, for deployments whose Memory service sits behind an
// OAuth2-protected gateway.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// NewWithOAuth returns a Client authenticating every request with a token
// obtained (and transparently refreshed) via the client-credentials grant,
// or (nil, false) if baseURL is empty.
func NewWithOAuth(ctx context.Context, baseURL string, oc OAuthConfig) (*Client, bool) {
	if baseURL == "" {
		return nil, false
	}
	ccCfg := clientcredentials.Config{
		ClientID:     oc.ClientID,
		ClientSecret: oc.ClientSecret,
		TokenURL:     oc.TokenURL,
		Scopes:       oc.Scopes,
	}
	return &Client{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		baseURL:     baseURL,
		tokenSource: ccCfg.TokenSource(ctx),
	}, true
}

type searchResponseBody struct {
	Results []FixRecord `json:"results"`
}

// Search returns up to q.Limit ranked fix records. Any transport or
// decoding error is logged and yields an empty slice, never an error the
// caller must branch on — the Interventor's diagnosis prompt simply gets an
// empty "prior fixes" block.
func (c *Client) Search(ctx context.Context, q SearchQuery) []FixRecord {
	if c == nil {
		return nil
	}

	// Built with sjson rather than a marshaled struct: Filters is an
	// open-ended flat map, and sjson.SetBytes lets each field (including the
	// map) get set in place without a dedicated request-body type.
	body := []byte("{}")
	var err error
	for _, set := range []struct {
		path string
		val  interface{}
	}{
		{"query", q.Query},
		{"container_tag", q.ContainerTag},
		{"filters", q.Filters},
		{"threshold", q.Threshold},
		{"limit", q.Limit},
	} {
		body, err = sjson.SetBytes(body, set.path, set.val)
		if err != nil {
			log.Warnf("memory: build search request: %v", err)
			return nil
		}
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/v1/search", body)
	if err != nil {
		log.Warnf("memory: build search request: %v", err)
		return nil
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warnf("memory: search request failed: %v", err)
		return nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Warnf("memory: read search response: %v", err)
		return nil
	}
	if resp.StatusCode/100 != 2 {
		log.Warnf("memory: search returned %d: %s", resp.StatusCode, string(respBody))
		return nil
	}

	var parsed searchResponseBody
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		log.Warnf("memory: decode search response: %v", err)
		return nil
	}
	return parsed.Results
}

type storeResponseBody struct {
	ID string `json:"id"`
}

// Store writes (or, for a repeated CustomID, idempotently updates) a
// FixRecord and returns its id. An empty string return means the store
// failed; callers log it and proceed — per the spec, "Memory store failed
// after successful fix: logged, never escalated".
func (c *Client) Store(ctx context.Context, rec FixRecord) string {
	if c == nil {
		return ""
	}

	body, err := json.Marshal(rec)
	if err != nil {
		log.Warnf("memory: marshal store request: %v", err)
		return ""
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/v1/store", body)
	if err != nil {
		log.Warnf("memory: build store request: %v", err)
		return ""
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warnf("memory: store request failed: %v", err)
		return ""
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Warnf("memory: read store response: %v", err)
		return ""
	}
	if resp.StatusCode/100 != 2 {
		log.Warnf("memory: store returned %d: %s", resp.StatusCode, string(respBody))
		return ""
	}

	var parsed storeResponseBody
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		log.Warnf("memory: decode store response: %v", err)
		return ""
	}
	return parsed.ID
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("memory: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	switch {
	case c.tokenSource != nil:
		token, err := c.tokenSource.Token()
		if err != nil {
			return nil, fmt.Errorf("memory: oauth2 token: %w", err)
		}
		token.SetAuthHeader(req)
	case c.apiKey != "":
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}
