package scheduler

import (
	"time"

	"agentrade/internal/market"
)

const DefaultKlineGrace = 10 * time.Second

// DropUnclosed drops the newest candle while it is still forming. Exchanges
// return the in-progress bar as the last kline; deciding on it would act on
// a price that can still move. An unknown timeframe leaves the series as is.
func DropUnclosed(candles []market.Candle, timeframe string) []market.Candle {
	dur, ok := market.TimeframeDuration(timeframe)
	if !ok {
		return candles
	}
	return dropUnclosedAt(candles, dur, time.Now().UTC(), DefaultKlineGrace)
}

func dropUnclosedAt(candles []market.Candle, interval time.Duration, now time.Time, grace time.Duration) []market.Candle {
	if len(candles) == 0 || interval <= 0 {
		return candles
	}
	if grace < 0 {
		grace = 0
	}
	last := candles[len(candles)-1]
	if last.OpenTime <= 0 {
		return candles
	}
	cutoffMs := last.OpenTime + interval.Milliseconds() + grace.Milliseconds()
	if now.UnixMilli() < cutoffMs {
		return candles[:len(candles)-1]
	}
	return candles
}
