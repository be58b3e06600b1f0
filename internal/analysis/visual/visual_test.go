package visual

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentrade/internal/market"
)

func TestRenderReport(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	candles := []market.Candle{
		{OpenTime: base.UnixMilli(), Open: 10, High: 12, Low: 9, Close: 11},
		{OpenTime: base.Add(time.Hour).UnixMilli(), Open: 11, High: 13, Low: 10, Close: 12},
	}
	html, err := RenderReport(ReportInput{
		Title:   "BTCUSDT 1h",
		Equity:  []Point{{Time: base, Value: 1000}, {Time: base.Add(time.Hour), Value: 1010}},
		Trades:  []Bar{{Label: "#1", Value: 10}},
		Candles: candles,
		Markers: []Marker{{Time: base, Price: 11, Label: "open LONG", Long: true}},
	})
	require.NoError(t, err)
	out := string(html)
	assert.Contains(t, out, "BTCUSDT 1h")
	assert.Contains(t, out, "Equity")
	assert.Contains(t, out, "PnL per trade")
}

func TestRenderReportEmpty(t *testing.T) {
	_, err := RenderReport(ReportInput{})
	assert.Error(t, err)
}

func TestRound(t *testing.T) {
	assert.Equal(t, 1.2346, round(1.23456, 4))
	assert.Equal(t, 2.0, round(1.6, 0))
}
