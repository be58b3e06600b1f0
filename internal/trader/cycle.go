package trader

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/moznion/go-optional"
	"golang.org/x/sync/errgroup"

	"agentrade/internal/decision"
	"agentrade/internal/gateway/exchange"
	"agentrade/internal/gateway/notifier"
	"agentrade/internal/journal"
	"agentrade/internal/market"
	"agentrade/internal/pkg/jsonutil"
	"agentrade/internal/store"
)

const (
	noteInsufficientFunds = " [SKIPPED: Insufficient Funds]"
	noteOrderFailed       = " [SKIPPED: Order Failed]"
)

type CycleDeps struct {
	Config    RunConfig
	Market    MarketData
	Execution Execution
	Oracle    Oracle
	Ledger    Ledger
	Journal   EventLog
	Positions *PositionManager
	Notifier  notifier.TextNotifier
}

// Cycle 执行一次完整迭代：取数 → 退出检查 → 容量闸门 → 咨询 → 入场。
type Cycle struct {
	cfg       RunConfig
	market    MarketData
	exec      Execution
	oracle    Oracle
	ledger    Ledger
	journal   EventLog
	positions *PositionManager
	notifier  notifier.TextNotifier
	now       func() time.Time
}

func NewCycle(deps CycleDeps) (*Cycle, error) {
	cfg := deps.Config.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Market == nil:
		return nil, fmt.Errorf("cycle: market data source is required")
	case deps.Oracle == nil:
		return nil, fmt.Errorf("cycle: oracle is required")
	case deps.Ledger == nil:
		return nil, fmt.Errorf("cycle: ledger is required")
	case !cfg.PaperTrading && deps.Execution == nil:
		return nil, fmt.Errorf("cycle: real trading requires an execution venue")
	}
	if deps.Journal == nil {
		deps.Journal = nopEventLog{}
	}
	if deps.Notifier == nil {
		deps.Notifier = notifier.Nop{}
	}
	if deps.Positions == nil {
		deps.Positions = NewPositionManager(PositionManagerConfig{
			Ledger:     deps.Ledger,
			Execution:  deps.Execution,
			Journal:    deps.Journal,
			Notifier:   deps.Notifier,
			MarketType: cfg.MarketType,
		})
	}
	return &Cycle{
		cfg:       cfg,
		market:    deps.Market,
		exec:      deps.Execution,
		oracle:    deps.Oracle,
		ledger:    deps.Ledger,
		journal:   deps.Journal,
		positions: deps.Positions,
		notifier:  deps.Notifier,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func (c *Cycle) Config() RunConfig { return c.cfg }

// Run 不会 panic，也不会把错误抛给调用方：所有异常都记入 journal 并反映在 Outcome 中。
func (c *Cycle) Run(ctx context.Context) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("cycle panic: %v", r)
			c.journal.Record(ctx, journal.LevelError, journal.ComponentOrchestrator, "cycle panicked",
				map[string]any{"symbol": c.cfg.Symbol, "panic": fmt.Sprint(r), "stack": string(debug.Stack())})
		}
	}()

	frames, err := c.fetchContext(ctx)
	if err != nil {
		c.journal.Record(ctx, journal.LevelWarning, journal.ComponentExchange, "base timeframe fetch failed, retrying soon",
			map[string]any{"symbol": c.cfg.Symbol, "timeframe": c.cfg.Timeframe, "error": err.Error(), "retry_after": BaseFetchRetry.String()})
		return Outcome{Err: err, RetryAfter: BaseFetchRetry}
	}
	base := frames[c.cfg.Timeframe]
	price, _ := market.LastClose(base)
	out.Price = price

	out.OpenCount = c.positions.EvaluateAndClose(ctx, c.cfg.Symbol, price, c.cfg.PaperTrading)
	if out.OpenCount >= c.cfg.MaxOpenPositions {
		out.Skipped = "capacity"
		c.journal.Record(ctx, journal.LevelInfo, journal.ComponentOrchestrator, "max open positions reached, skipping oracle",
			map[string]any{"symbol": c.cfg.Symbol, "open": out.OpenCount, "max": c.cfg.MaxOpenPositions})
		return out
	}

	req := decision.Request{
		Symbol:        c.cfg.Symbol,
		BaseTimeframe: c.cfg.Timeframe,
		Strategy:      c.cfg.Strategy,
		Context:       frames,
		FundingRate:   c.fundingRate(ctx),
	}
	res, err := c.oracle.Recommend(ctx, req)
	out.Consulted = true
	if err != nil {
		out.Err = err
		c.journal.Record(ctx, journal.LevelWarning, journal.ComponentOracle, "oracle call failed",
			map[string]any{"symbol": c.cfg.Symbol, "error": err.Error()})
		return out
	}
	if !res.Valid() {
		details := map[string]any{"symbol": c.cfg.Symbol, "status": res.Status.String()}
		if res.Err != nil {
			details["error"] = res.Err.Error()
		}
		c.journal.Record(ctx, journal.LevelWarning, journal.ComponentOracle, "no actionable signal", details)
		return out
	}

	rec := res.Recommendation
	d := &store.Decision{
		Timestamp:  c.now(),
		Symbol:     c.cfg.Symbol,
		Timeframe:  c.cfg.Timeframe,
		Strategy:   c.cfg.Strategy,
		Action:     rec.Action,
		Confidence: rec.Confidence,
		EntryPrice: decision.PtrOf(rec.EntryPrice),
		StopLoss:   decision.PtrOf(rec.StopLoss),
		TakeProfit: decision.PtrOf(rec.TakeProfit),
		Reasoning:  rec.Reasoning,
		MarketData: jsonutil.Compact(market.Tail(base, SnapshotCandles)),
	}
	if err := c.ledger.InsertDecision(ctx, d); err != nil {
		out.Err = err
		c.journal.Record(ctx, journal.LevelError, journal.ComponentOrchestrator, "failed to persist decision",
			map[string]any{"symbol": c.cfg.Symbol, "error": err.Error()})
		return out
	}
	out.DecisionID = d.ID
	out.Action = string(rec.Action)
	c.journal.Record(ctx, journal.LevelInfo, journal.ComponentOracle, "decision recorded", map[string]any{
		"decision_id": d.ID,
		"symbol":      c.cfg.Symbol,
		"action":      string(rec.Action),
		"confidence":  rec.Confidence,
	})
	if !rec.Action.IsEntry() {
		return out
	}
	c.enter(ctx, d, rec, price, &out)
	return out
}

// fetchContext 先取基础周期，成功后并行取大周期；大周期失败只记录并忽略。
func (c *Cycle) fetchContext(ctx context.Context) (map[string][]market.Candle, error) {
	base, err := c.market.FetchCandles(ctx, c.cfg.Symbol, c.cfg.Timeframe, BaseCandles)
	if err != nil {
		return nil, err
	}
	if len(base) == 0 {
		return nil, fmt.Errorf("no candles for %s %s", c.cfg.Symbol, c.cfg.Timeframe)
	}
	higher := market.HigherTimeframes(c.cfg.Timeframe)
	series := make([][]market.Candle, len(higher))
	errs := make([]error, len(higher))
	var g errgroup.Group
	for i, tf := range higher {
		g.Go(func() error {
			series[i], errs[i] = c.market.FetchCandles(ctx, c.cfg.Symbol, tf, HigherCandles)
			return nil
		})
	}
	_ = g.Wait()

	frames := map[string][]market.Candle{c.cfg.Timeframe: base}
	for i, tf := range higher {
		switch {
		case errs[i] != nil:
			c.journal.Record(ctx, journal.LevelWarning, journal.ComponentExchange, "higher timeframe fetch failed, omitted",
				map[string]any{"symbol": c.cfg.Symbol, "timeframe": tf, "error": errs[i].Error()})
		case len(series[i]) > 0:
			frames[tf] = series[i]
		}
	}
	return frames, nil
}

func (c *Cycle) fundingRate(ctx context.Context) optional.Option[float64] {
	if c.cfg.MarketType != exchange.MarketFuture {
		return optional.None[float64]()
	}
	src, ok := c.market.(fundingSource)
	if !ok {
		return optional.None[float64]()
	}
	rate, err := src.FundingRate(ctx, c.cfg.Symbol)
	if err != nil {
		c.journal.Record(ctx, journal.LevelDebug, journal.ComponentExchange, "funding rate unavailable",
			map[string]any{"symbol": c.cfg.Symbol, "error": err.Error()})
		return optional.None[float64]()
	}
	return optional.Some(rate)
}

func (c *Cycle) enter(ctx context.Context, d *store.Decision, rec decision.Recommendation, lastClose float64, out *Outcome) {
	paper := c.cfg.PaperTrading
	details := map[string]any{"decision_id": d.ID, "symbol": c.cfg.Symbol, "action": string(rec.Action), "paper": paper}

	if rec.Action == store.ActionBuy && !c.checkFunds(ctx, d, details) {
		out.Skipped = "funds"
		return
	}

	entry := rec.EntryPrice.TakeOr(lastClose)
	qty := QuantityFor(c.cfg.InvestmentAmount, entry)
	if qty <= 0 {
		out.Skipped = "quantity"
		c.journal.Record(ctx, journal.LevelWarning, journal.ComponentOrchestrator, "entry quantity is zero", details)
		return
	}

	if !paper {
		if c.cfg.MarketType == exchange.MarketFuture {
			if err := c.exec.SetLeverage(ctx, c.cfg.Symbol, c.cfg.Leverage); err != nil {
				c.journal.Record(ctx, journal.LevelWarning, journal.ComponentExchange, "set leverage failed",
					map[string]any{"symbol": c.cfg.Symbol, "leverage": c.cfg.Leverage, "error": err.Error()})
			}
		}
		ack, err := c.exec.SubmitOrder(ctx, exchange.OrderRequest{
			Symbol:   c.cfg.Symbol,
			Side:     entrySide(rec.Action),
			Type:     exchange.OrderTypeMarket,
			Quantity: qty,
		})
		if err != nil {
			out.Skipped = "order"
			details["error"] = err.Error()
			c.journal.Record(ctx, journal.LevelError, journal.ComponentExchange, "entry order failed", details)
			c.annotate(ctx, d.ID, noteOrderFailed)
			return
		}
		details["order_id"] = ack.OrderID
		if ack.ExecutedQty > 0 {
			qty = ack.ExecutedQty
		}
		if ack.AvgPrice > 0 {
			entry = ack.AvgPrice
		}
	}

	decisionID := d.ID
	t := &store.Trade{
		Symbol:       c.cfg.Symbol,
		MarketType:   c.cfg.MarketType,
		Timeframe:    c.cfg.Timeframe,
		Action:       rec.Action,
		Amount:       c.cfg.InvestmentAmount,
		Quantity:     qty,
		EntryPrice:   entry,
		EntryTime:    c.now(),
		Status:       store.TradeStatusOpen,
		DecisionID:   &decisionID,
		IsSimulation: paper,
	}
	if err := c.ledger.InsertTrade(ctx, t); err != nil {
		details["error"] = err.Error()
		c.journal.Record(ctx, journal.LevelError, journal.ComponentOrchestrator, "failed to persist position", details)
		return
	}
	if err := c.ledger.MarkDecisionExecuted(ctx, d.ID); err != nil {
		c.journal.Record(ctx, journal.LevelError, journal.ComponentOrchestrator, "failed to mark decision executed",
			map[string]any{"decision_id": d.ID, "error": err.Error()})
	}
	out.Opened = true
	details["trade_id"] = t.ID
	details["entry"] = entry
	details["quantity"] = qty
	c.journal.Record(ctx, journal.LevelInfo, journal.ComponentOrchestrator, "position opened", details)
	c.notifyOpen(ctx, t, rec)
}

// checkFunds 只对 BUY 生效。实盘余额不足或查询失败都阻止入场；模拟盘只记录。
func (c *Cycle) checkFunds(ctx context.Context, d *store.Decision, details map[string]any) bool {
	paper := c.cfg.PaperTrading
	if c.exec == nil {
		return paper
	}
	bal, err := c.exec.FetchBalance(ctx, c.cfg.QuoteAsset)
	if err != nil {
		level := journal.LevelError
		if paper {
			level = journal.LevelWarning
		}
		c.journal.Record(ctx, level, journal.ComponentExchange, "balance query failed",
			map[string]any{"asset": c.cfg.QuoteAsset, "error": err.Error(), "paper": paper})
		return paper
	}
	if bal.Free >= c.cfg.InvestmentAmount {
		return true
	}
	details["free"] = bal.Free
	details["required"] = c.cfg.InvestmentAmount
	if paper {
		c.journal.Record(ctx, journal.LevelInfo, journal.ComponentOrchestrator, "insufficient real balance ignored in paper mode", details)
		return true
	}
	c.journal.Record(ctx, journal.LevelWarning, journal.ComponentOrchestrator, "insufficient funds, entry skipped", details)
	c.annotate(ctx, d.ID, noteInsufficientFunds)
	return false
}

func (c *Cycle) annotate(ctx context.Context, id uint, note string) {
	if err := c.ledger.AnnotateDecision(ctx, id, note); err != nil {
		c.journal.Record(ctx, journal.LevelError, journal.ComponentOrchestrator, "failed to annotate decision",
			map[string]any{"decision_id": id, "note": strings.TrimSpace(note), "error": err.Error()})
	}
}

func (c *Cycle) notifyOpen(ctx context.Context, t *store.Trade, rec decision.Recommendation) {
	lines := []string{
		notifier.KV("开仓价", t.EntryPrice),
		notifier.KV("数量", t.Quantity),
		notifier.KV("投入", t.Amount),
		notifier.KV("置信度", fmt.Sprintf("%.2f", rec.Confidence)),
	}
	if rec.StopLoss.IsSome() {
		lines = append(lines, notifier.KV("止损", rec.StopLoss.Unwrap()))
	}
	if rec.TakeProfit.IsSome() {
		lines = append(lines, notifier.KV("止盈", rec.TakeProfit.Unwrap()))
	}
	msg := notifier.StructuredMessage{
		Icon:      "🚀",
		Title:     fmt.Sprintf("开仓 %s %s", t.Symbol, directionLabel(*t)),
		Sections:  []notifier.MessageSection{{Lines: lines}, {Title: "理由", Lines: []string{rec.Reasoning}}},
		Footer:    modeLabel(t.IsSimulation),
		Timestamp: t.EntryTime,
	}
	if err := c.notifier.SendText(ctx, msg.RenderMarkdown()); err != nil {
		c.journal.Record(ctx, journal.LevelWarning, journal.ComponentOrchestrator, "open notification failed",
			map[string]any{"trade_id": t.ID, "error": err.Error()})
	}
}
