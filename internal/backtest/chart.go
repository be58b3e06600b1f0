package backtest

import (
	"fmt"

	"agentrade/internal/analysis/visual"
)

// RenderEquityChart 输出回测报告 HTML：资金曲线、回撤与逐笔盈亏；
// 结果带有 K 线时额外绘制价格图并标注开平仓点。
func RenderEquityChart(res Result) ([]byte, error) {
	if res.Failed() {
		return nil, fmt.Errorf("backtest failed: %s", res.Error)
	}
	input := visual.ReportInput{
		Title: fmt.Sprintf("%s %s", res.Symbol, res.Timeframe),
		Subtitle: fmt.Sprintf("trades=%d win=%.1f%% pnl=%.4f return=%.2f%% maxDD=%.2f%%",
			res.TotalTrades, res.WinRate(), res.TotalPnL, res.ReturnPct(), res.MaxDrawdownPct()),
		Candles: res.Series,
	}
	for _, p := range res.EquityCurve {
		input.Equity = append(input.Equity, visual.Point{Time: p.Time, Value: p.Equity})
	}
	for i, t := range res.Trades {
		long := t.Direction == "LONG"
		input.Trades = append(input.Trades, visual.Bar{
			Label: fmt.Sprintf("#%d %s %s", i+1, t.Direction, t.Reason),
			Value: t.PnL,
		})
		if len(res.Series) > 0 {
			input.Markers = append(input.Markers,
				visual.Marker{Time: t.EntryTime, Price: t.EntryPrice, Label: "open " + t.Direction, Long: long},
				visual.Marker{Time: t.ExitTime, Price: t.ExitPrice, Label: t.Reason, Long: long},
			)
		}
	}
	return visual.RenderReport(input)
}
