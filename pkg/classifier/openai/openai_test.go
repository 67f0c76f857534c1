package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArionMiles/upiledger/pkg/categorizer"
)

func newTestServer(t *testing.T, status int, body string) (*httptest.Server, *map[string]any) {
	t.Helper()

	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_ = json.NewDecoder(r.Body).Decode(&received)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	return srv, &received
}

func TestClassify(t *testing.T) {
	srv, received := newTestServer(t, http.StatusOK, `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"created": 1700000000,
		"model": "gpt-4o-mini",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "  Groceries "}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 1, "total_tokens": 11}
	}`)

	c, err := New(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1"}, nil)
	require.NoError(t, err)

	got, err := c.Classify(context.Background(), "categorize BIGBASKET")
	require.NoError(t, err)
	assert.Equal(t, "Groceries", got)
	assert.Equal(t, DefaultModel, (*received)["model"])
}

func TestClassifyRateLimited(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusTooManyRequests, `{
		"error": {"message": "Rate limit reached", "type": "requests", "code": "rate_limit_exceeded"}
	}`)

	c, err := New(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1"}, nil)
	require.NoError(t, err)

	_, err = c.Classify(context.Background(), "p")
	require.Error(t, err)
	assert.True(t, errors.Is(err, categorizer.ErrRateLimited), "got %v", err)
}

func TestClassifyServerError(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusUnauthorized, `{
		"error": {"message": "Incorrect API key provided", "type": "invalid_request_error", "code": "invalid_api_key"}
	}`)

	c, err := New(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1"}, nil)
	require.NoError(t, err)

	_, err = c.Classify(context.Background(), "p")
	require.Error(t, err)
	assert.False(t, errors.Is(err, categorizer.ErrRateLimited))
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)
}
