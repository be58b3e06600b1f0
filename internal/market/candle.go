package market

import "time"

// Candle 为一根 OHLCV K 线，时间为毫秒时间戳。
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

func (c Candle) OpenAt() time.Time {
	return time.UnixMilli(c.OpenTime).UTC()
}

// LastClose returns the close of the newest candle, the latest observed price.
func LastClose(candles []Candle) (float64, bool) {
	if len(candles) == 0 {
		return 0, false
	}
	return candles[len(candles)-1].Close, true
}

// Tail returns at most n of the newest candles without copying.
func Tail(candles []Candle, n int) []Candle {
	if n <= 0 {
		return nil
	}
	if len(candles) <= n {
		return candles
	}
	return candles[len(candles)-n:]
}
