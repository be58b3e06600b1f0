package indicator

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/markcheno/go-talib"

	"agentrade/internal/market"
)

// Settings 为指标周期，零值使用默认。
type Settings struct {
	EMAFast   int
	EMASlow   int
	RSIPeriod int
	ATRPeriod int
}

func (s Settings) withDefaults() Settings {
	if s.EMAFast <= 0 {
		s.EMAFast = 20
	}
	if s.EMASlow <= 0 {
		s.EMASlow = 50
	}
	if s.EMASlow <= s.EMAFast {
		s.EMASlow = s.EMAFast * 2
	}
	if s.RSIPeriod <= 0 {
		s.RSIPeriod = 14
	}
	if s.ATRPeriod <= 0 {
		s.ATRPeriod = 14
	}
	return s
}

const (
	macdFast   = 12
	macdSlow   = 26
	macdSignal = 9
)

// Value 为单个指标的最新读数。
type Value struct {
	Latest float64 `json:"latest"`
	State  string  `json:"state,omitempty"`
	Note   string  `json:"note,omitempty"`
}

// Report 汇总一个周期的指标快照。
type Report struct {
	Timeframe string           `json:"timeframe"`
	Count     int              `json:"count"`
	Close     float64          `json:"close"`
	Values    map[string]Value `json:"values"`
	Warnings  []string         `json:"warnings,omitempty"`
}

// Compute 计算 EMA/RSI/MACD/ATR。样本不足的指标跳过并记入 Warnings，
// talib 在输入短于回看期时会越界。
func Compute(timeframe string, candles []market.Candle, cfg Settings) (Report, error) {
	rep := Report{Timeframe: timeframe, Count: len(candles), Values: make(map[string]Value)}
	if len(candles) == 0 {
		return rep, fmt.Errorf("no candles")
	}
	cfg = cfg.withDefaults()
	n := len(candles)
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}
	last := closes[n-1]
	rep.Close = round4(last)

	emaValue := func(key string, period int) {
		if n <= period {
			rep.warn("%s needs %d candles, have %d", key, period+1, n)
			return
		}
		v := lastValid(talib.Ema(closes, period))
		rep.Values[key] = Value{Latest: round4(v), State: relativeState(last, v), Note: fmt.Sprintf("EMA%d vs price", period)}
	}
	emaValue("ema_fast", cfg.EMAFast)
	emaValue("ema_slow", cfg.EMASlow)
	if fast, ok := rep.Values["ema_fast"]; ok {
		if slow, ok := rep.Values["ema_slow"]; ok {
			rep.Values["ema_cross"] = Value{Latest: round4(fast.Latest - slow.Latest), State: polarityState(fast.Latest - slow.Latest), Note: "fast - slow"}
		}
	}

	if n > cfg.RSIPeriod {
		v := lastValid(talib.Rsi(closes, cfg.RSIPeriod))
		rep.Values["rsi"] = Value{Latest: round4(v), State: rsiState(v), Note: fmt.Sprintf("period=%d", cfg.RSIPeriod)}
	} else {
		rep.warn("rsi needs %d candles, have %d", cfg.RSIPeriod+1, n)
	}

	if need := macdSlow + macdSignal; n >= need {
		_, signal, hist := talib.Macd(closes, macdFast, macdSlow, macdSignal)
		h := lastValid(hist)
		state := "flat"
		switch {
		case h > 0:
			state = "bullish"
		case h < 0:
			state = "bearish"
		}
		rep.Values["macd_hist"] = Value{Latest: round4(h), State: state, Note: fmt.Sprintf("signal=%.4f", lastValid(signal))}
	} else {
		rep.warn("macd needs %d candles, have %d", need, n)
	}

	if n > cfg.ATRPeriod {
		v := lastValid(talib.Atr(highs, lows, closes, cfg.ATRPeriod))
		note := fmt.Sprintf("period=%d", cfg.ATRPeriod)
		if last > 0 {
			note = fmt.Sprintf("period=%d, %.2f%% of price", cfg.ATRPeriod, v/last*100)
		}
		rep.Values["atr"] = Value{Latest: round4(v), State: "volatility", Note: note}
	} else {
		rep.warn("atr needs %d candles, have %d", cfg.ATRPeriod+1, n)
	}

	if n >= deltaMinCandles {
		if vd, ok := ComputeVolumeDelta(candles); ok {
			norm, _ := vd.Normalized.Float64()
			mom, _ := vd.Momentum.Float64()
			rep.Values["vol_delta"] = Value{Latest: round4(norm), State: vd.Divergence, Note: fmt.Sprintf("momentum=%.4f peak=%s", mom, vd.PeakFlip)}
		}
	} else {
		rep.warn("vol_delta needs %d candles, have %d", deltaMinCandles, n)
	}
	return rep, nil
}

func (r *Report) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Digest renders the report as compact lines for the oracle prompt.
func (r Report) Digest() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] candles=%d close=%.4f\n", r.Timeframe, r.Count, r.Close)
	keys := make([]string, 0, len(r.Values))
	for k := range r.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := r.Values[k]
		fmt.Fprintf(&b, "- %s=%.4f", k, v.Latest)
		if v.State != "" {
			b.WriteString(" (" + v.State + ")")
		}
		if v.Note != "" {
			b.WriteString(" " + v.Note)
		}
		b.WriteString("\n")
	}
	for _, w := range r.Warnings {
		b.WriteString("! " + w + "\n")
	}
	return b.String()
}

func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) && !math.IsInf(series[i], 0) {
			return series[i]
		}
	}
	return 0
}

func relativeState(price, ref float64) string {
	if ref == 0 {
		return "unknown"
	}
	switch {
	case price > ref*1.002:
		return "above"
	case price < ref*0.998:
		return "below"
	default:
		return "touch"
	}
}

func polarityState(v float64) string {
	switch {
	case v > 0:
		return "positive"
	case v < 0:
		return "negative"
	default:
		return "flat"
	}
}

func rsiState(v float64) string {
	switch {
	case v >= 70:
		return "overbought"
	case v <= 30:
		return "oversold"
	default:
		return "neutral"
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
