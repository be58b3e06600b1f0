package livehttp

import (
	"context"
	"time"

	"agentrade/internal/manager"
	"agentrade/internal/store"
	"agentrade/internal/trader"
)

// LoopController 由 manager.Manager 实现。
type LoopController interface {
	Start(ctx context.Context, req manager.StartRequest) (manager.StartResult, error)
	Stop(symbol string) error
	StopAll() []string
	Status() []trader.Snapshot
}

type stopRequest struct {
	Symbol string `json:"symbol"`
}

// TradeView 为 /api/history/trades 的一行：成交与其来源决策的置信度及 SL/TP。
type TradeView struct {
	store.Trade
	Confidence *float64 `json:"confidence,omitempty"`
	StopLoss   *float64 `json:"stop_loss,omitempty"`
	TakeProfit *float64 `json:"take_profit,omitempty"`
	Reasoning  string   `json:"reasoning,omitempty"`
}

func newTradeView(t store.Trade) TradeView {
	view := TradeView{Trade: t}
	if d := t.Decision; d != nil {
		conf := d.Confidence
		view.Confidence = &conf
		view.StopLoss = d.StopLoss
		view.TakeProfit = d.TakeProfit
		view.Reasoning = d.Reasoning
	}
	return view
}

// configView 隐藏密钥类配置的明文。
type configView struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Masked    bool      `json:"masked,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
