package trader

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"agentrade/internal/gateway/exchange"
	"agentrade/internal/journal"
	"agentrade/internal/store"
)

const sym = "BTC/USDT"

func newPM(ledger *memLedger, exec Execution, log *recordingLog) *PositionManager {
	return NewPositionManager(PositionManagerConfig{Ledger: ledger, Execution: exec, Journal: log, MarketType: "future"})
}

func TestRealizedPnL(t *testing.T) {
	pnl, pct := RealizedPnL(true, 100, 97.5, 2)
	assert.InDelta(t, -5.0, pnl, 1e-9)
	assert.InDelta(t, -2.5, pct, 1e-9)

	pnl, pct = RealizedPnL(false, 100, 96, 3)
	assert.InDelta(t, 12.0, pnl, 1e-9)
	assert.InDelta(t, 4.0, pct, 1e-9)

	pnl, _ = RealizedPnL(true, 50000, 52000, 0.002)
	assert.Equal(t, 4.0, pnl)
}

func TestCheckExit(t *testing.T) {
	both := Levels{StopLoss: fromPtr(ptr(98)), TakeProfit: fromPtr(ptr(104))}
	cases := []struct {
		name   string
		long   bool
		lv     Levels
		price  float64
		reason string
		hit    bool
	}{
		{"long between levels", true, both, 99, "", false},
		{"long at stop", true, both, 98, store.ReasonStopLoss, true},
		{"long above target", true, both, 104.5, store.ReasonTakeProfit, true},
		{"short at stop", false, Levels{StopLoss: fromPtr(ptr(102)), TakeProfit: fromPtr(ptr(96))}, 102, store.ReasonStopLoss, true},
		{"short at target", false, Levels{StopLoss: fromPtr(ptr(102)), TakeProfit: fromPtr(ptr(96))}, 96, store.ReasonTakeProfit, true},
		{"missing stop leg", true, Levels{TakeProfit: fromPtr(ptr(104))}, 50, "", false},
		{"missing target leg", true, Levels{StopLoss: fromPtr(ptr(98))}, 500, "", false},
		{"zero price", true, both, 0, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reason, hit := CheckExit(tc.long, tc.lv, tc.price)
			assert.Equal(t, tc.hit, hit)
			assert.Equal(t, tc.reason, reason)
		})
	}
}

func TestFixedPercentExitLevels(t *testing.T) {
	p := DefaultFixedPercentExit()
	lv, ok := p.LevelsFor(store.Trade{Action: store.ActionBuy, EntryPrice: 50000})
	require.True(t, ok)
	assert.Equal(t, 49000.0, lv.StopLoss.Unwrap())
	assert.Equal(t, 52000.0, lv.TakeProfit.Unwrap())

	lv, ok = p.LevelsFor(store.Trade{Action: store.ActionSell, EntryPrice: 50000})
	require.True(t, ok)
	assert.Equal(t, 51000.0, lv.StopLoss.Unwrap())
	assert.Equal(t, 48000.0, lv.TakeProfit.Unwrap())

	_, ok = p.LevelsFor(store.Trade{Action: store.ActionBuy})
	assert.False(t, ok)
}

func TestEvaluate_ScenarioA_LongStopLoss(t *testing.T) {
	ledger := &memLedger{paper: true}
	log := &recordingLog{}
	id := ledger.seedTrade(sym, store.ActionBuy, 100, 2, 98, 104)
	pm := newPM(ledger, nil, log)

	assert.Equal(t, 1, pm.EvaluateAndClose(context.Background(), sym, 99, true))
	assert.Equal(t, store.TradeStatusOpen, ledger.trade(id).Status)

	assert.Equal(t, 0, pm.EvaluateAndClose(context.Background(), sym, 97.5, true))
	tr := ledger.trade(id)
	assert.Equal(t, store.TradeStatusClosed, tr.Status)
	assert.Equal(t, store.ReasonStopLoss, tr.CloseReason)
	require.NotNil(t, tr.ProfitLoss)
	assert.InDelta(t, (97.5-100)*2, *tr.ProfitLoss, 1e-9)
	assert.InDelta(t, -2.5, *tr.ProfitLossPct, 1e-9)
	assert.Equal(t, 97.5, *tr.ExitPrice)
	assert.NotNil(t, tr.ExitTime)
	_, ok := log.find("position closed")
	assert.True(t, ok)
	assert.Equal(t, 2, log.count(journal.LevelInfo, "monitoring position"))
}

func TestEvaluate_ScenarioB_ShortTakeProfit(t *testing.T) {
	ledger := &memLedger{paper: true}
	id := ledger.seedTrade(sym, store.ActionSell, 100, 0.5, 102, 96)
	pm := newPM(ledger, nil, &recordingLog{})

	assert.Equal(t, 0, pm.EvaluateAndClose(context.Background(), sym, 96, true))
	tr := ledger.trade(id)
	assert.Equal(t, store.ReasonTakeProfit, tr.CloseReason)
	assert.InDelta(t, 2.0, *tr.ProfitLoss, 1e-9)
	assert.InDelta(t, 4.0, *tr.ProfitLossPct, 1e-9)
}

func TestEvaluate_NoDecisionStaysOpen(t *testing.T) {
	ledger := &memLedger{paper: true}
	_ = ledger.InsertTrade(context.Background(), &store.Trade{Symbol: sym, Action: store.ActionBuy, Quantity: 1, EntryPrice: 100, IsSimulation: true})
	pm := newPM(ledger, nil, &recordingLog{})
	assert.Equal(t, 1, pm.EvaluateAndClose(context.Background(), sym, 1, true))
	assert.Equal(t, 0, ledger.closeCalls)
}

func TestEvaluate_InvalidInput(t *testing.T) {
	ledger := &memLedger{paper: true}
	ledger.seedTrade(sym, store.ActionBuy, 100, 1, 98, 104)
	log := &recordingLog{}
	pm := newPM(ledger, nil, log)

	assert.Equal(t, 0, pm.EvaluateAndClose(context.Background(), "", 100, true))
	assert.Equal(t, 1, pm.EvaluateAndClose(context.Background(), sym, 0, true))
	assert.Equal(t, 2, log.count(journal.LevelWarning, "invalid evaluation input"))
	assert.Equal(t, 0, ledger.closeCalls)
}

func TestEvaluate_ReconciliationClosesAll(t *testing.T) {
	ledger := &memLedger{}
	ids := []uint{
		ledger.seedTrade(sym, store.ActionBuy, 100, 1, 90, 120),
		ledger.seedTrade(sym, store.ActionBuy, 101, 1, 90, 120),
		ledger.seedTrade(sym, store.ActionSell, 102, 1, 110, 80),
	}
	exec := new(mockExchange)
	exec.On("FetchOpenPosition", mock.Anything, sym).Return(exchange.Position{Symbol: sym}, nil).Once()
	log := &recordingLog{}
	pm := newPM(ledger, exec, log)

	assert.Equal(t, 0, pm.EvaluateAndClose(context.Background(), sym, 100.5, false))
	for _, id := range ids {
		tr := ledger.trade(id)
		assert.Equal(t, store.TradeStatusClosed, tr.Status)
		assert.Equal(t, store.ReasonReconciliation, tr.CloseReason)
		assert.Equal(t, 0.0, *tr.ProfitLoss)
		assert.Equal(t, 0.0, *tr.ProfitLossPct)
		assert.Equal(t, 100.5, *tr.ExitPrice)
	}
	assert.Equal(t, 3, log.count(journal.LevelWarning, "desync: venue reports no position, local trade force-closed"))
	exec.AssertNotCalled(t, "SubmitOrder", mock.Anything, mock.Anything)
	exec.AssertExpectations(t)
}

func TestEvaluate_RealModeCloseOrder(t *testing.T) {
	ledger := &memLedger{}
	id := ledger.seedTrade(sym, store.ActionBuy, 100, 0.3, 98, 104)
	exec := new(mockExchange)
	exec.On("FetchOpenPosition", mock.Anything, sym).Return(exchange.Position{Symbol: sym, Size: 0.3}, nil)
	exec.On("SubmitOrder", mock.Anything, exchange.OrderRequest{
		Symbol: sym, Side: exchange.SideSell, Type: exchange.OrderTypeMarket, Quantity: 0.3, ReduceOnly: true,
	}).Return(exchange.OrderAck{OrderID: "42", AvgPrice: 104.2}, nil).Once()
	pm := newPM(ledger, exec, &recordingLog{})

	assert.Equal(t, 0, pm.EvaluateAndClose(context.Background(), sym, 104, false))
	tr := ledger.trade(id)
	assert.Equal(t, 104.2, *tr.ExitPrice)
	assert.InDelta(t, 4.2*0.3, *tr.ProfitLoss, 1e-9)
	exec.AssertExpectations(t)
}

func TestEvaluate_CloseOrderFailureStaysOpen(t *testing.T) {
	ledger := &memLedger{}
	id := ledger.seedTrade(sym, store.ActionSell, 100, 1, 102, 96)
	exec := new(mockExchange)
	exec.On("FetchOpenPosition", mock.Anything, sym).Return(exchange.Position{}, errors.New("timeout"))
	exec.On("SubmitOrder", mock.Anything, mock.MatchedBy(func(r exchange.OrderRequest) bool {
		return r.Side == exchange.SideBuy
	})).Return(exchange.OrderAck{}, errors.New("rejected"))
	log := &recordingLog{}
	pm := newPM(ledger, exec, log)

	assert.Equal(t, 1, pm.EvaluateAndClose(context.Background(), sym, 103, false))
	assert.Equal(t, store.TradeStatusOpen, ledger.trade(id).Status)
	assert.Equal(t, 0, ledger.closeCalls)
	assert.Equal(t, 1, log.count(journal.LevelWarning, "venue position query failed, skipping reconciliation"))
	assert.Equal(t, 1, log.count(journal.LevelError, "close order failed, position stays open"))
}

func TestEvaluate_LedgerFailureCountsOpen(t *testing.T) {
	ledger := &memLedger{paper: true}
	ledger.seedTrade(sym, store.ActionBuy, 100, 1, 98, 104)
	ledger.failClose = errors.New("database is locked")
	pm := newPM(ledger, nil, &recordingLog{})
	assert.Equal(t, 1, pm.EvaluateAndClose(context.Background(), sym, 90, true))
}

func TestEvaluate_Idempotent(t *testing.T) {
	ledger := &memLedger{paper: true}
	closed := ledger.seedTrade(sym, store.ActionBuy, 100, 1, 98, 104)
	open := ledger.seedTrade(sym, store.ActionBuy, 100, 1, 90, 110)
	pm := newPM(ledger, nil, &recordingLog{})

	assert.Equal(t, 1, pm.EvaluateAndClose(context.Background(), sym, 105, true))
	first := ledger.trade(closed)
	calls := ledger.closeCalls

	assert.Equal(t, 1, pm.EvaluateAndClose(context.Background(), sym, 105, true))
	assert.Equal(t, calls, ledger.closeCalls)
	assert.Equal(t, first, ledger.trade(closed))
	assert.Equal(t, store.TradeStatusOpen, ledger.trade(open).Status)
}

func TestEvaluate_ModesDoNotCrossOver(t *testing.T) {
	paperLedger := &memLedger{paper: true}
	paperID := paperLedger.seedTrade(sym, store.ActionBuy, 100, 1, 98, 104)
	exec := new(mockExchange)
	pm := newPM(paperLedger, exec, &recordingLog{})

	// 实盘评估看不到模拟持仓：不下平仓单，也不做对账
	assert.Equal(t, 0, pm.EvaluateAndClose(context.Background(), sym, 97, false))
	assert.Equal(t, store.TradeStatusOpen, paperLedger.trade(paperID).Status)
	exec.AssertNotCalled(t, "FetchOpenPosition", mock.Anything, mock.Anything)
	exec.AssertNotCalled(t, "SubmitOrder", mock.Anything, mock.Anything)

	realLedger := &memLedger{}
	realID := realLedger.seedTrade(sym, store.ActionBuy, 100, 1, 98, 104)
	pm = newPM(realLedger, nil, &recordingLog{})

	// 模拟盘评估不会在本地平掉实盘持仓
	assert.Equal(t, 0, pm.EvaluateAndClose(context.Background(), sym, 97, true))
	assert.Equal(t, store.TradeStatusOpen, realLedger.trade(realID).Status)
	assert.Equal(t, 0, realLedger.closeCalls)

	assert.Equal(t, 0, pm.EvaluateAndClose(context.Background(), sym, 0, true))
	assert.Equal(t, 1, pm.EvaluateAndClose(context.Background(), sym, 0, false))
}

func ptr(v float64) *float64 { return &v }
