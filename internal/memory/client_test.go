// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package memory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DisabledWithoutBaseURL(t *testing.T) {
	_, ok := New("", "key")
	assert.False(t, ok)
}

func TestSearch_ReturnsResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/search", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(searchResponseBody{
			Results: []FixRecord{{ID: "abc", Content: "fix for test_failure"}},
		})
	}))
	defer srv.Close()

	c, ok := New(srv.URL, "secret")
	require.True(t, ok)

	results := c.Search(context.Background(), SearchQuery{Query: "test_failure", Limit: 5})
	require.Len(t, results, 1)
	assert.Equal(t, "abc", results[0].ID)
}

func TestSearch_TransportErrorReturnsEmpty(t *testing.T) {
	c, ok := New("http://127.0.0.1:0", "secret")
	require.True(t, ok)
	results := c.Search(context.Background(), SearchQuery{Query: "x"})
	assert.Nil(t, results)
}

func TestSearch_NilClientIsNoOp(t *testing.T) {
	var c *Client
	assert.Nil(t, c.Search(context.Background(), SearchQuery{Query: "x"}))
	assert.Equal(t, "", c.Store(context.Background(), FixRecord{}))
}

func TestStore_ReturnsID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/store", r.URL.Path)
		_ = json.NewEncoder(w).Encode(storeResponseBody{ID: "rec-1"})
	}))
	defer srv.Close()

	c, ok := New(srv.URL, "")
	require.True(t, ok)

	id := c.Store(context.Background(), FixRecord{CustomID: "acme-test_failure-2"})
	assert.Equal(t, "rec-1", id)
}

func TestStore_ServerErrorReturnsEmptyString(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, ok := New(srv.URL, "")
	require.True(t, ok)
	assert.Equal(t, "", c.Store(context.Background(), FixRecord{}))
}
