package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
}

func TestCall_Success(t *testing.T) {
	var body chatRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/openai/chat/completions", r.URL.Path)
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"action\":\"HOLD\"}"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(ModelCfg{APIURL: srv.URL + "/v1beta/openai/chat/completions", APIKey: "sk-test", Model: "gemini-2.5-flash"})
	out, err := c.Call(context.Background(), ChatPayload{System: "sys", User: "usr", ExpectJSON: true, Temperature: 0.2})
	require.NoError(t, err)
	assert.Equal(t, `{"action":"HOLD"}`, out)
	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, "gemini-2.5-flash", body.Model)
	require.Len(t, body.Messages, 2)
	assert.Equal(t, "system", body.Messages[0].Role)
	assert.Equal(t, "json_object", body.ResponseFormat["type"])
	assert.Equal(t, "gemini-2.5-flash", c.ID())
}

func TestCall_RetriesOn429WithRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"quota"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	var waits []time.Duration
	c := NewOpenAIClient(ModelCfg{APIURL: srv.URL, Model: "m"})
	c.sleep = noSleep(&waits)
	out, err := c.Call(context.Background(), ChatPayload{User: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, []time.Duration{3 * time.Second}, waits)
}

func TestCall_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	var waits []time.Duration
	c := NewOpenAIClient(ModelCfg{APIURL: srv.URL, Model: "m", MaxRetries: 2})
	c.sleep = noSleep(&waits)
	_, err := c.Call(context.Background(), ChatPayload{User: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=503")
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{800 * time.Millisecond, 1600 * time.Millisecond}, waits)
}

func TestCall_NoRetryOn400(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad model"}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(ModelCfg{APIURL: srv.URL, Model: "m"})
	_, err := c.Call(context.Background(), ChatPayload{User: "hi"})
	assert.EqualError(t, err, "status=400: bad model")
	assert.Equal(t, int32(1), calls.Load())
}

func TestCall_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()
	c := NewOpenAIClient(ModelCfg{APIURL: srv.URL, Model: "m"})
	_, err := c.Call(context.Background(), ChatPayload{User: "hi"})
	assert.ErrorIs(t, err, ErrEmptyChoices)
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, 8*time.Second, backoff(10))
	assert.Equal(t, "****5678", maskKey("abcd12345678"))
	assert.Equal(t, "none", maskKey(""))
	c := NewOpenAIClient(ModelCfg{RatePerMinute: 30})
	require.NotNil(t, c.Limiter)
	assert.Equal(t, defaultOpenAIBase+"/chat/completions", c.endpoint())
}
