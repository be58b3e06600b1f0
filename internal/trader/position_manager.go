package trader

import (
	"context"
	"fmt"
	"strings"
	"time"

	"agentrade/internal/gateway/exchange"
	"agentrade/internal/gateway/notifier"
	"agentrade/internal/journal"
	"agentrade/internal/store"
)

type PositionManagerConfig struct {
	Ledger     Ledger
	Execution  Execution
	Journal    EventLog
	Policy     ExitPolicy
	Notifier   notifier.TextNotifier
	MarketType string
}

// PositionManager 检查一个 symbol 的全部 OPEN 持仓并平掉触发退出条件的仓位。
type PositionManager struct {
	ledger     Ledger
	exec       Execution
	journal    EventLog
	policy     ExitPolicy
	notifier   notifier.TextNotifier
	marketType string
	now        func() time.Time
}

func NewPositionManager(cfg PositionManagerConfig) *PositionManager {
	if cfg.Journal == nil {
		cfg.Journal = nopEventLog{}
	}
	if cfg.Policy == nil {
		cfg.Policy = OracleLevelExit{}
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notifier.Nop{}
	}
	return &PositionManager{
		ledger:     cfg.Ledger,
		exec:       cfg.Execution,
		journal:    cfg.Journal,
		policy:     cfg.Policy,
		notifier:   cfg.Notifier,
		marketType: exchange.NormalizeMarketType(cfg.MarketType),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// EvaluateAndClose 返回评估后仍 OPEN 的持仓数，用作容量信号，永不为负。
func (m *PositionManager) EvaluateAndClose(ctx context.Context, symbol string, price float64, paper bool) int {
	if strings.TrimSpace(symbol) == "" || price <= 0 {
		m.journal.Record(ctx, journal.LevelWarning, journal.ComponentPositions, "invalid evaluation input",
			map[string]any{"symbol": symbol, "price": price})
		return m.countOpen(ctx, symbol, paper)
	}
	trades, err := m.ledger.ListOpenTrades(ctx, symbol, paper)
	if err != nil {
		m.journal.Record(ctx, journal.LevelError, journal.ComponentPositions, "failed to load open positions",
			map[string]any{"symbol": symbol, "error": err.Error()})
		return 0
	}
	if len(trades) == 0 {
		return 0
	}

	if !paper && m.exec != nil {
		venue, err := m.exec.FetchOpenPosition(ctx, symbol)
		switch {
		case err != nil:
			m.journal.Record(ctx, journal.LevelWarning, journal.ComponentPositions, "venue position query failed, skipping reconciliation",
				map[string]any{"symbol": symbol, "error": err.Error()})
		case venue.Flat():
			return m.reconcile(ctx, symbol, price, trades)
		}
	}

	open := 0
	for _, t := range trades {
		if !m.evaluate(ctx, t, price, paper) {
			open++
		}
	}
	return open
}

// reconcile 交易所为空仓而本地仍有 OPEN 记录：以交易所为准全部按当前价零盈亏平掉。
// 返回值为落库失败、仍然 OPEN 的条数。
func (m *PositionManager) reconcile(ctx context.Context, symbol string, price float64, trades []store.Trade) int {
	stuck := 0
	for _, t := range trades {
		fill := store.TradeFill{
			ExitPrice: price,
			ExitTime:  m.now(),
			Reason:    store.ReasonReconciliation,
		}
		details := map[string]any{
			"symbol":   symbol,
			"trade_id": t.ID,
			"action":   string(t.Action),
			"quantity": t.Quantity,
			"price":    price,
		}
		if err := m.ledger.CloseTrade(ctx, t.ID, fill); err != nil {
			details["error"] = err.Error()
			m.journal.Record(ctx, journal.LevelError, journal.ComponentPositions, "reconciliation close failed", details)
			stuck++
			continue
		}
		m.journal.Record(ctx, journal.LevelWarning, journal.ComponentPositions,
			"desync: venue reports no position, local trade force-closed", details)
	}
	return stuck
}

// evaluate 返回 true 表示该持仓已平仓。
func (m *PositionManager) evaluate(ctx context.Context, t store.Trade, price float64, paper bool) bool {
	levels, ok := m.policy.LevelsFor(t)
	details := map[string]any{
		"trade_id": t.ID,
		"symbol":   t.Symbol,
		"action":   string(t.Action),
		"entry":    t.EntryPrice,
		"price":    price,
		"policy":   m.policy.Name(),
	}
	if levels.StopLoss.IsSome() {
		details["stop_loss"] = levels.StopLoss.Unwrap()
	}
	if levels.TakeProfit.IsSome() {
		details["take_profit"] = levels.TakeProfit.Unwrap()
	}
	m.journal.Record(ctx, journal.LevelInfo, journal.ComponentPositions, "monitoring position", details)
	if !ok {
		return false
	}
	reason, hit := CheckExit(t.IsLong(), levels, price)
	if !hit {
		return false
	}
	details["reason"] = reason

	exitPrice := price
	if !paper {
		if m.exec == nil {
			details["error"] = "execution venue unavailable"
			m.journal.Record(ctx, journal.LevelError, journal.ComponentPositions, "close order not sent", details)
			return false
		}
		ack, err := m.exec.SubmitOrder(ctx, exchange.OrderRequest{
			Symbol:     t.Symbol,
			Side:       UnwindSide(t),
			Type:       exchange.OrderTypeMarket,
			Quantity:   t.Quantity,
			ReduceOnly: m.marketType == exchange.MarketFuture,
		})
		if err != nil {
			details["error"] = err.Error()
			m.journal.Record(ctx, journal.LevelError, journal.ComponentPositions, "close order failed, position stays open", details)
			return false
		}
		details["order_id"] = ack.OrderID
		if ack.AvgPrice > 0 {
			exitPrice = ack.AvgPrice
		}
	}

	pnl, pct := RealizedPnL(t.IsLong(), t.EntryPrice, exitPrice, t.Quantity)
	fill := store.TradeFill{
		ExitPrice:     exitPrice,
		ExitTime:      m.now(),
		ProfitLoss:    pnl,
		ProfitLossPct: pct,
		Reason:        reason,
	}
	if err := m.ledger.CloseTrade(ctx, t.ID, fill); err != nil {
		details["error"] = err.Error()
		m.journal.Record(ctx, journal.LevelError, journal.ComponentPositions, "failed to persist close", details)
		return false
	}
	details["exit_price"] = exitPrice
	details["profit_loss"] = pnl
	details["profit_loss_pct"] = pct
	m.journal.Record(ctx, journal.LevelInfo, journal.ComponentPositions, "position closed", details)
	m.notifyClose(ctx, t, fill, paper)
	return true
}

func (m *PositionManager) countOpen(ctx context.Context, symbol string, paper bool) int {
	if strings.TrimSpace(symbol) == "" {
		return 0
	}
	trades, err := m.ledger.ListOpenTrades(ctx, symbol, paper)
	if err != nil {
		return 0
	}
	return len(trades)
}

func (m *PositionManager) notifyClose(ctx context.Context, t store.Trade, fill store.TradeFill, paper bool) {
	msg := notifier.StructuredMessage{
		Icon:  "🔻",
		Title: fmt.Sprintf("平仓 %s %s", t.Symbol, directionLabel(t)),
		Sections: []notifier.MessageSection{{
			Lines: []string{
				notifier.KV("原因", fill.Reason),
				notifier.KV("开仓价", t.EntryPrice),
				notifier.KV("平仓价", fill.ExitPrice),
				notifier.KV("数量", t.Quantity),
				notifier.KV("盈亏", fmt.Sprintf("%.4f (%.2f%%)", fill.ProfitLoss, fill.ProfitLossPct)),
			},
		}},
		Footer:    modeLabel(paper),
		Timestamp: fill.ExitTime,
	}
	if err := m.notifier.SendText(ctx, msg.RenderMarkdown()); err != nil {
		m.journal.Record(ctx, journal.LevelWarning, journal.ComponentPositions, "close notification failed",
			map[string]any{"trade_id": t.ID, "error": err.Error()})
	}
}

func directionLabel(t store.Trade) string {
	if t.IsLong() {
		return "LONG"
	}
	return "SHORT"
}

func modeLabel(paper bool) string {
	if paper {
		return "模拟盘"
	}
	return "实盘"
}
