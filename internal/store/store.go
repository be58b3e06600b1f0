package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrTradeNotOpen = errors.New("trade is not open")
)

// Ledger is the durable store shared by every loop and the HTTP surface.
type Ledger interface {
	InsertDecision(ctx context.Context, d *Decision) error
	AnnotateDecision(ctx context.Context, id uint, note string) error
	MarkDecisionExecuted(ctx context.Context, id uint) error
	ListDecisions(ctx context.Context, f DecisionFilter) ([]Decision, error)

	InsertTrade(ctx context.Context, t *Trade) error
	// ListOpenTrades 只返回与 simulation 相同模式的持仓，模拟盘与实盘互不可见。
	ListOpenTrades(ctx context.Context, symbol string, simulation bool) ([]Trade, error)
	CloseTrade(ctx context.Context, id uint, fill TradeFill) error
	ListTrades(ctx context.Context, f TradeFilter) ([]Trade, error)
	TradeStats(ctx context.Context) (TradeStats, error)

	AppendLog(ctx context.Context, e *LogEntry) error
	ListLogs(ctx context.Context, f LogFilter) ([]LogEntry, error)
	ClearLogs(ctx context.Context) (int64, error)

	GetConfig(ctx context.Context, key string) (string, error)
	ListConfig(ctx context.Context) ([]ConfigEntry, error)
	SaveConfig(ctx context.Context, values map[string]string) error

	Close() error
}
