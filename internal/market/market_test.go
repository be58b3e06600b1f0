package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHigherTimeframes(t *testing.T) {
	assert.Equal(t, []string{"4h", "1d"}, HigherTimeframes("1h"))
	assert.Equal(t, []string{"4h", "1d"}, HigherTimeframes(" 1H "))
	assert.Equal(t, []string{"1w"}, HigherTimeframes("1d"))
	assert.Nil(t, HigherTimeframes("1w"))
	assert.Nil(t, HigherTimeframes("7m"))

	got := HigherTimeframes("1h")
	got[0] = "mutated"
	assert.Equal(t, "4h", HigherTimeframes("1h")[0])
}

func TestHigherTimeframesAreSupported(t *testing.T) {
	for base, higher := range higherTimeframes {
		baseDur, ok := TimeframeDuration(base)
		assert.True(t, ok, base)
		for _, tf := range higher {
			dur, ok := TimeframeDuration(tf)
			assert.True(t, ok, tf)
			assert.Greater(t, dur, baseDur, "%s -> %s", base, tf)
		}
	}
}

func TestSupportedTimeframesOrdered(t *testing.T) {
	tfs := SupportedTimeframes()
	assert.Equal(t, "1m", tfs[0])
	assert.Equal(t, "1w", tfs[len(tfs)-1])
	d, ok := TimeframeDuration("4h")
	assert.True(t, ok)
	assert.Equal(t, 4*time.Hour, d)
}

func TestLastCloseAndTail(t *testing.T) {
	_, ok := LastClose(nil)
	assert.False(t, ok)

	candles := []Candle{{Close: 1}, {Close: 2}, {Close: 3}}
	price, ok := LastClose(candles)
	assert.True(t, ok)
	assert.Equal(t, 3.0, price)

	assert.Len(t, Tail(candles, 2), 2)
	assert.Equal(t, 2.0, Tail(candles, 2)[0].Close)
	assert.Len(t, Tail(candles, 10), 3)
	assert.Nil(t, Tail(candles, 0))
}
