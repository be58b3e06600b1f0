package backtest

import (
	"time"

	"agentrade/internal/market"
)

// EquityPoint 为资金曲线上的一个点。
type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}

// ClosedTrade 记录一次完整的模拟持仓。
type ClosedTrade struct {
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	Direction  string    `json:"direction"`
	Action     string    `json:"type"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Quantity   float64   `json:"quantity"`
	PnL        float64   `json:"pnl"`
	PnLPct     float64   `json:"pnl_pct"`
	Reason     string    `json:"reason"`
}

// Result 逐根 K 线累积，结束后只读。Error 非空时其余字段为零值。
type Result struct {
	Symbol         string        `json:"symbol,omitempty"`
	Timeframe      string        `json:"timeframe,omitempty"`
	Strategy       string        `json:"strategy,omitempty"`
	InitialCapital float64       `json:"initial_capital,omitempty"`
	Candles        int           `json:"candles,omitempty"`
	OracleCalls    int           `json:"oracle_calls,omitempty"`
	TotalTrades    int           `json:"total_trades"`
	Wins           int           `json:"wins"`
	Losses         int           `json:"losses"`
	TotalPnL       float64       `json:"total_pnl"`
	FinalCapital   float64       `json:"final_capital"`
	EquityCurve    []EquityPoint `json:"equity_curve,omitempty"`
	Trades         []ClosedTrade `json:"trades,omitempty"`
	Error          string        `json:"error,omitempty"`
	// Series 为回测所用的 K 线，仅进程内使用（图表），不落库。
	Series []market.Candle `json:"-"`
}

func errorResult(msg string) Result {
	return Result{Error: msg}
}

func (r Result) Failed() bool { return r.Error != "" }

// WinRate 以百分比返回，没有平仓时为 0。
func (r Result) WinRate() float64 {
	if r.TotalTrades == 0 {
		return 0
	}
	return float64(r.Wins) / float64(r.TotalTrades) * 100
}

// ReturnPct 相对初始资金的收益率。
func (r Result) ReturnPct() float64 {
	if r.InitialCapital <= 0 {
		return 0
	}
	return (r.FinalCapital - r.InitialCapital) / r.InitialCapital * 100
}

// MaxDrawdownPct 基于资金曲线计算最大回撤。
func (r Result) MaxDrawdownPct() float64 {
	peak, worst := 0.0, 0.0
	for _, p := range r.EquityCurve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			if dd := (peak - p.Equity) / peak * 100; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}
