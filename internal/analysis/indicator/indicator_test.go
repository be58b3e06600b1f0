package indicator

import (
	"testing"

	"agentrade/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rising(n int) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		price := 100 + float64(i)
		out[i] = market.Candle{OpenTime: int64(i) * 60_000, Open: price - 0.5, High: price + 1, Low: price - 1, Close: price, Volume: 10}
	}
	return out
}

func TestCompute_Uptrend(t *testing.T) {
	rep, err := Compute("1h", rising(80), Settings{})
	require.NoError(t, err)
	assert.Equal(t, 80, rep.Count)
	assert.Equal(t, 179.0, rep.Close)
	assert.Empty(t, rep.Warnings)

	assert.Equal(t, "above", rep.Values["ema_fast"].State)
	assert.Equal(t, "above", rep.Values["ema_slow"].State)
	assert.Equal(t, "positive", rep.Values["ema_cross"].State)
	assert.Equal(t, "overbought", rep.Values["rsi"].State)
	assert.Contains(t, rep.Values, "macd_hist")
	assert.InDelta(t, 2.0, rep.Values["atr"].Latest, 0.01)

	digest := rep.Digest()
	assert.Contains(t, digest, "[1h] candles=80")
	assert.Contains(t, digest, "- rsi=")
	// 每根都是阳线：累计量差单调上升，位于区间顶部
	assert.Equal(t, 1.0, rep.Values["vol_delta"].Latest)
	assert.Equal(t, "neutral", rep.Values["vol_delta"].State)
}

func TestCompute_ShortSeries(t *testing.T) {
	rep, err := Compute("15m", rising(10), Settings{})
	require.NoError(t, err)
	assert.Empty(t, rep.Values)
	assert.Len(t, rep.Warnings, 6)
	assert.Contains(t, rep.Digest(), "! ema_fast needs 21 candles, have 10")
}

func TestCompute_Empty(t *testing.T) {
	_, err := Compute("1h", nil, Settings{})
	assert.Error(t, err)
}

func TestSettingsDefaults(t *testing.T) {
	s := Settings{EMAFast: 30, EMASlow: 10}.withDefaults()
	assert.Equal(t, 60, s.EMASlow)
	assert.Equal(t, 14, s.RSIPeriod)
}

func TestVolumeDelta_BearishDivergence(t *testing.T) {
	candles := rising(30)
	// 价格继续上涨但最后几根为阴线放量
	for i := 25; i < 30; i++ {
		candles[i].Open = candles[i].Close + 0.5
		candles[i].Volume = 100
	}
	vd, ok := ComputeVolumeDelta(candles)
	require.True(t, ok)
	assert.Equal(t, "bearish", vd.Divergence)
	assert.True(t, vd.Momentum.IsNegative())

	_, ok = ComputeVolumeDelta(nil)
	assert.False(t, ok)
}
