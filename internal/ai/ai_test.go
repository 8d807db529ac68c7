package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCompleter struct{ text string }

func (s stubCompleter) Complete(context.Context, CompletionRequest) (string, error) {
	return s.text, nil
}

func TestLazy_BuildsOnceUnderConcurrency(t *testing.T) {
	var builds atomic.Int32
	lazy := NewLazy(func() (Completer, error) {
		builds.Add(1)
		return stubCompleter{text: "ok"}, nil
	})
	assert.Zero(t, builds.Load(), "nothing is built before first use")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := lazy.Complete(context.Background(), CompletionRequest{Prompt: "p"})
			assert.NoError(t, err)
			assert.Equal(t, "ok", out)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), builds.Load())
}

func TestLazy_RemembersBuildError(t *testing.T) {
	var builds atomic.Int32
	boom := errors.New("boom")
	lazy := NewLazy(func() (Completer, error) {
		builds.Add(1)
		return nil, boom
	})
	for i := 0; i < 3; i++ {
		_, err := lazy.Complete(context.Background(), CompletionRequest{})
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, int32(1), builds.Load())
}

func TestLazyOpenAI_MissingKeySurfacesOnUse(t *testing.T) {
	lazy := NewLazyOpenAI(Config{})
	_, err := lazy.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func newFakeOpenAI(t *testing.T, handler http.HandlerFunc) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewOpenAI(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)
	return c
}

func TestOpenAI_Complete(t *testing.T) {
	var got map[string]any
	c := newFakeOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-3.5-turbo",
			"choices":[{"index":0,"message":{"role":"assistant","content":"  Sure, try turning it off and on.  "},"finish_reason":"stop"}]}`))
	})

	out, err := c.Complete(context.Background(), CompletionRequest{Prompt: "customer: help", Temperature: 0.5})
	require.NoError(t, err)
	assert.Equal(t, "  Sure, try turning it off and on.  ", out, "trimming is left to callers")

	assert.Equal(t, "gpt-3.5-turbo", got["model"])
	assert.InDelta(t, 0.5, got["temperature"], 1e-6)
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 1)
	first := msgs[0].(map[string]any)
	assert.Equal(t, "user", first["role"])
	assert.Equal(t, "customer: help", first["content"])
}

func TestOpenAI_ErrorResponse(t *testing.T) {
	c := newFakeOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`))
	})
	_, err := c.Complete(context.Background(), CompletionRequest{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Incorrect API key provided")
}

func TestOpenAI_NoChoices(t *testing.T) {
	c := newFakeOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[]}`))
	})
	_, err := c.Complete(context.Background(), CompletionRequest{Prompt: "x"})
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestNewOpenAI_RequiresKey(t *testing.T) {
	_, err := NewOpenAI(Config{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}
