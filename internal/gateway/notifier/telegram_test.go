package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelegram_SendText(t *testing.T) {
	var calls atomic.Int32
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg := NewTelegram("TOKEN", "42")
	tg.BaseURL = srv.URL
	tg.sleep = func(context.Context, time.Duration) error { return nil }
	require.NoError(t, tg.SendText(context.Background(), "hello"))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "42", payload["chat_id"])
	assert.Equal(t, "Markdown", payload["parse_mode"])
}

func TestTelegram_Incomplete(t *testing.T) {
	assert.Error(t, NewTelegram("", "1").SendText(context.Background(), "x"))
	assert.NoError(t, Nop{}.SendText(context.Background(), "x"))
}

func TestTelegram_AllAttemptsFail(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()
	tg := NewTelegram("T", "1")
	tg.BaseURL = srv.URL
	tg.sleep = func(context.Context, time.Duration) error { return nil }
	err := tg.SendText(context.Background(), "x")
	assert.EqualError(t, err, "telegram status=403")
	assert.Equal(t, int32(3), calls.Load())
}

func TestStructuredMessage(t *testing.T) {
	msg := StructuredMessage{
		Icon:  "🟢",
		Title: "开仓 BTC/USDT",
		Sections: []MessageSection{
			{Title: "订单", Lines: []string{KV("方向", "LONG"), KV("价格", 100.5), "  "}},
			{Title: "empty", Lines: []string{""}},
		},
		Footer:    "```paper```",
		Timestamp: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC),
	}
	out := msg.RenderMarkdown()
	assert.True(t, strings.HasPrefix(out, "🟢 开仓 BTC/USDT\n\n```\n订单\n- 方向: LONG\n- 价格: 100.5\n```"))
	assert.NotContains(t, out, "empty")
	assert.Contains(t, out, "'''paper'''")
	assert.True(t, strings.HasSuffix(out, "时间：2024-01-01 08:00:00 UTC"))
}
