package decision

import (
	"fmt"
	"sort"
	"strings"

	"agentrade/internal/analysis/indicator"
	"agentrade/internal/market"
)

// 每个周期给模型的 K 线根数。
const promptCandles = 15

const systemPrompt = `You are an institutional crypto market analyst.
Answer with exactly one JSON object and nothing else:
{"action": "BUY" | "SELL" | "HOLD", "confidence": 0.0-1.0, "entry_price": number, "stop_loss": number, "take_profit": number, "reasoning": "concise explanation of the timeframe confluence"}
BUY opens a long, SELL opens a short, HOLD does nothing.
For BUY the stop_loss is below entry_price and take_profit above it; for SELL the opposite.`

// BuildPrompt renders the system/user prompt pair for one request.
func BuildPrompt(req Request, strat Strategy) (string, string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Perform a technical analysis of %s. Base timeframe: %s.\n", req.Symbol, req.BaseTimeframe)
	if strat.Description != "" {
		fmt.Fprintf(&b, "Strategy: %s (%s)\n", strat.Name, strat.Description)
	}
	b.WriteString(strings.TrimSpace(strat.Guidance))
	b.WriteString("\n")
	if req.FundingRate.IsSome() {
		fmt.Fprintf(&b, "\nCurrent funding rate: %.4f%%\n", req.FundingRate.Unwrap()*100)
	}
	b.WriteString("\nMarket data:\n")
	for _, tf := range orderedTimeframes(req) {
		candles := req.Context[tf]
		if len(candles) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n--- Timeframe: %s (last %d candles) ---\n", tf, len(market.Tail(candles, promptCandles)))
		writeCandleTable(&b, market.Tail(candles, promptCandles))
		if rep, err := indicator.Compute(tf, candles, indicator.Settings{}); err == nil {
			b.WriteString(rep.Digest())
		}
	}
	b.WriteString("\nConfidence reflects how clear the setup is. Return HOLD when the timeframes disagree.\n")
	return systemPrompt, b.String()
}

// orderedTimeframes 先放基础周期，再按时长升序放其它周期。
func orderedTimeframes(req Request) []string {
	base := market.NormalizeTimeframe(req.BaseTimeframe)
	out := make([]string, 0, len(req.Context))
	for tf := range req.Context {
		if market.NormalizeTimeframe(tf) != base {
			out = append(out, tf)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		di, _ := market.TimeframeDuration(out[i])
		dj, _ := market.TimeframeDuration(out[j])
		if di == dj {
			return out[i] < out[j]
		}
		return di < dj
	})
	if _, ok := req.Context[req.BaseTimeframe]; ok {
		out = append([]string{req.BaseTimeframe}, out...)
	}
	return out
}

func writeCandleTable(b *strings.Builder, candles []market.Candle) {
	b.WriteString("time(UTC)        open        high        low         close       volume\n")
	for _, c := range candles {
		fmt.Fprintf(b, "%s %-11.4f %-11.4f %-11.4f %-11.4f %.4f\n",
			c.OpenAt().Format("2006-01-02 15:04"), c.Open, c.High, c.Low, c.Close, c.Volume)
	}
}
