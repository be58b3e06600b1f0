package trader

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"agentrade/internal/decision"
	"agentrade/internal/gateway/exchange"
	"agentrade/internal/journal"
	"agentrade/internal/store"
)

// memLedger is an in-memory Ledger with the same guarded-close semantics as the gorm store.
type memLedger struct {
	mu         sync.Mutex
	decisions  []store.Decision
	trades     []store.Trade
	closeCalls int
	failClose  error
	// paper 为 seedTrade 写入的 IsSimulation
	paper bool
}

func (l *memLedger) InsertDecision(_ context.Context, d *store.Decision) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	d.ID = uint(len(l.decisions) + 1)
	l.decisions = append(l.decisions, *d)
	return nil
}

func (l *memLedger) AnnotateDecision(_ context.Context, id uint, note string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.decisions {
		if l.decisions[i].ID == id {
			l.decisions[i].Reasoning += note
			return nil
		}
	}
	return store.ErrNotFound
}

func (l *memLedger) MarkDecisionExecuted(_ context.Context, id uint) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.decisions {
		if l.decisions[i].ID == id {
			l.decisions[i].Executed = true
			return nil
		}
	}
	return store.ErrNotFound
}

func (l *memLedger) InsertTrade(_ context.Context, t *store.Trade) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	t.ID = uint(len(l.trades) + 1)
	if t.Status == "" {
		t.Status = store.TradeStatusOpen
	}
	l.trades = append(l.trades, *t)
	return nil
}

func (l *memLedger) ListOpenTrades(_ context.Context, symbol string, simulation bool) ([]store.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []store.Trade
	for _, t := range l.trades {
		if t.Symbol != symbol || t.Status != store.TradeStatusOpen || t.IsSimulation != simulation {
			continue
		}
		if t.DecisionID != nil {
			for _, d := range l.decisions {
				if d.ID == *t.DecisionID {
					dc := d
					t.Decision = &dc
				}
			}
		}
		out = append(out, t)
	}
	return out, nil
}

func (l *memLedger) CloseTrade(_ context.Context, id uint, fill store.TradeFill) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeCalls++
	if l.failClose != nil {
		return l.failClose
	}
	for i := range l.trades {
		t := &l.trades[i]
		if t.ID != id {
			continue
		}
		if t.Status != store.TradeStatusOpen {
			return store.ErrTradeNotOpen
		}
		exitPrice, exitTime, pnl, pct := fill.ExitPrice, fill.ExitTime, fill.ProfitLoss, fill.ProfitLossPct
		t.ExitPrice, t.ExitTime, t.ProfitLoss, t.ProfitLossPct = &exitPrice, &exitTime, &pnl, &pct
		t.CloseReason = fill.Reason
		t.Status = store.TradeStatusClosed
		return nil
	}
	return store.ErrNotFound
}

func (l *memLedger) trade(id uint) store.Trade {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.trades[id-1]
}

func (l *memLedger) decision(id uint) store.Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.decisions[id-1]
}

func (l *memLedger) counts() (decisions, trades int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.decisions), len(l.trades)
}

// seedTrade stores a trade with a linked decision carrying sl/tp (0 = missing).
func (l *memLedger) seedTrade(symbol string, action store.Action, entry, qty, sl, tp float64) uint {
	d := &store.Decision{Symbol: symbol, Action: action, Executed: true}
	if sl > 0 {
		d.StopLoss = &sl
	}
	if tp > 0 {
		d.TakeProfit = &tp
	}
	_ = l.InsertDecision(context.Background(), d)
	id := d.ID
	t := &store.Trade{Symbol: symbol, Action: action, Quantity: qty, EntryPrice: entry, Amount: entry * qty, DecisionID: &id, IsSimulation: l.paper}
	_ = l.InsertTrade(context.Background(), t)
	return t.ID
}

type entry struct {
	Level     journal.Level
	Component string
	Message   string
	Details   map[string]any
}

type recordingLog struct {
	mu      sync.Mutex
	entries []entry
}

func (r *recordingLog) Record(_ context.Context, level journal.Level, component, message string, details map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry{Level: level, Component: component, Message: message, Details: details})
}

func (r *recordingLog) find(message string) (entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.Message == message {
			return e, true
		}
	}
	return entry{}, false
}

func (r *recordingLog) count(level journal.Level, message string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.Level == level && e.Message == message {
			n++
		}
	}
	return n
}

type mockExchange struct {
	mock.Mock
}

func (m *mockExchange) Name() string { return "mock" }

func (m *mockExchange) FetchBalance(ctx context.Context, asset string) (exchange.Balance, error) {
	args := m.Called(ctx, asset)
	return args.Get(0).(exchange.Balance), args.Error(1)
}

func (m *mockExchange) FetchOpenPosition(ctx context.Context, symbol string) (exchange.Position, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(exchange.Position), args.Error(1)
}

func (m *mockExchange) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(exchange.OrderAck), args.Error(1)
}

func (m *mockExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	args := m.Called(ctx, symbol, leverage)
	return args.Error(0)
}

type mockOracle struct {
	mock.Mock
}

func (m *mockOracle) Recommend(ctx context.Context, req decision.Request) (decision.Result, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(decision.Result), args.Error(1)
}
