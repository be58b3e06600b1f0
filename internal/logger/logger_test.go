package logger

import (
	"bytes"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelWarn, ParseLevel(" warn "))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("whatever"))
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)
	SetLevel("warn")
	defer SetLevel("info")

	Infof("hidden %d", 1)
	Warnf("shown %d", 2)
	Log(slog.LevelError, "structured", "component", "Trader")

	out := buf.String()
	assert.NotContains(t, out, "hidden 1")
	assert.Contains(t, out, "shown 2")
	assert.Contains(t, out, "component=Trader")
}

func TestLLMDump(t *testing.T) {
	var buf bytes.Buffer
	SetLLMWriter(&buf)
	defer SetLLMWriter(nil)

	LogLLMRequest("gemini-2.5-flash", "BTC/USDT", "sys", "user", `{"model":"x"}`)
	LogLLMResponse("gemini-2.5-flash", "BTC/USDT", `{"action":"HOLD"}`)

	out := buf.String()
	assert.Contains(t, out, "[LLM][request][gemini-2.5-flash][BTC/USDT]")
	assert.Contains(t, out, "--- SYSTEM ---")
	assert.NotContains(t, out, "--- PAYLOAD ---")
	assert.Contains(t, out, `{"action":"HOLD"}`)

	buf.Reset()
	EnableLLMPayloadDump(true)
	defer EnableLLMPayloadDump(false)
	LogLLMRequest("m", "ETH/USDT", "sys", "user", `{"model":"x"}`)
	assert.Contains(t, buf.String(), "--- PAYLOAD ---")
}
