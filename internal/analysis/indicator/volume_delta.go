package indicator

import (
	"github.com/shopspring/decimal"

	"agentrade/internal/market"
)

const (
	deltaMinCandles = 21
	deltaLookback   = 6
)

// VolumeDelta 为按 K 线方向累计的成交量差（阳线计买、阴线计卖）。
// K 线数据不含主动买卖拆分，这里以实体方向近似。
type VolumeDelta struct {
	Value      decimal.Decimal
	Momentum   decimal.Decimal
	Normalized decimal.Decimal
	Divergence string
	PeakFlip   string
}

func ComputeVolumeDelta(candles []market.Candle) (VolumeDelta, bool) {
	if len(candles) == 0 {
		return VolumeDelta{}, false
	}
	cum := make([]decimal.Decimal, 0, len(candles))
	closes := make([]decimal.Decimal, 0, len(candles))
	running := decimal.Zero
	for _, c := range candles {
		vol := decimal.NewFromFloat(c.Volume)
		switch {
		case c.Close > c.Open:
			running = running.Add(vol)
		case c.Close < c.Open:
			running = running.Sub(vol)
		}
		cum = append(cum, running)
		closes = append(closes, decimal.NewFromFloat(c.Close))
	}

	last := cum[len(cum)-1]
	momentum := decimal.Zero
	if len(cum) > deltaLookback {
		momentum = last.Sub(cum[len(cum)-deltaLookback])
	}

	minVal, maxVal := cum[0], cum[0]
	for _, v := range cum[1:] {
		if v.LessThan(minVal) {
			minVal = v
		}
		if v.GreaterThan(maxVal) {
			maxVal = v
		}
	}
	norm := decimal.NewFromFloat(0.5)
	if maxVal.GreaterThan(minVal) {
		norm = last.Sub(minVal).Div(maxVal.Sub(minVal))
	}

	priceNow, pricePrev := closes[len(closes)-1], closes[0]
	deltaPrev := cum[0]
	if len(closes) > deltaLookback {
		pricePrev = closes[len(closes)-deltaLookback]
		deltaPrev = cum[len(cum)-deltaLookback]
	}
	divergence := "neutral"
	if priceNow.GreaterThan(pricePrev) && last.LessThan(deltaPrev) {
		divergence = "bearish"
	} else if priceNow.LessThan(pricePrev) && last.GreaterThan(deltaPrev) {
		divergence = "bullish"
	}

	peakFlip := "none"
	if len(cum) > 3 {
		a, b, c := cum[len(cum)-1], cum[len(cum)-2], cum[len(cum)-3]
		if a.LessThan(b) && b.GreaterThan(c) {
			peakFlip = "top"
		} else if a.GreaterThan(b) && b.LessThan(c) {
			peakFlip = "bottom"
		}
	}

	return VolumeDelta{
		Value:      last,
		Momentum:   momentum,
		Normalized: norm,
		Divergence: divergence,
		PeakFlip:   peakFlip,
	}, true
}
