// Package trader 实现实盘/模拟盘的决策循环：取数、持仓退出检查、容量闸门、
// 咨询模型、入场执行与落库。
package trader

import (
	"context"

	"agentrade/internal/decision"
	"agentrade/internal/gateway/exchange"
	"agentrade/internal/journal"
	"agentrade/internal/market"
	"agentrade/internal/store"
)

// MarketData 提供升序 K 线。
type MarketData = market.Source

// Execution 为真实下单的交易所端口，模拟盘同样用它查询余额。
type Execution = exchange.Exchange

type Oracle interface {
	Recommend(ctx context.Context, req decision.Request) (decision.Result, error)
}

// Ledger 是核心对账本的最小依赖，store.Ledger 满足它。
type Ledger interface {
	InsertDecision(ctx context.Context, d *store.Decision) error
	AnnotateDecision(ctx context.Context, id uint, note string) error
	MarkDecisionExecuted(ctx context.Context, id uint) error
	InsertTrade(ctx context.Context, t *store.Trade) error
	ListOpenTrades(ctx context.Context, symbol string, simulation bool) ([]store.Trade, error)
	CloseTrade(ctx context.Context, id uint, fill store.TradeFill) error
}

// EventLog 是核心唯一的日志协作者，*journal.Journal 满足它。
type EventLog interface {
	Record(ctx context.Context, level journal.Level, component, message string, details map[string]any)
}

// fundingSource 由永续合约行情源可选实现。
type fundingSource interface {
	FundingRate(ctx context.Context, symbol string) (float64, error)
}

type nopEventLog struct{}

func (nopEventLog) Record(context.Context, journal.Level, string, string, map[string]any) {}
