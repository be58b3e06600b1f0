package gormstore

import (
	"time"

	"agentrade/internal/store"
	"agentrade/internal/store/model"

	"gorm.io/datatypes"
)

func newDecisionModel(d store.Decision) model.DecisionModel {
	m := model.DecisionModel{
		ID:         d.ID,
		Timestamp:  d.Timestamp,
		Symbol:     normalizeSymbol(d.Symbol),
		Timeframe:  d.Timeframe,
		Strategy:   d.Strategy,
		Action:     string(d.Action),
		Confidence: d.Confidence,
		EntryPrice: d.EntryPrice,
		StopLoss:   d.StopLoss,
		TakeProfit: d.TakeProfit,
		Reasoning:  d.Reasoning,
		Executed:   d.Executed,
	}
	if d.MarketData != "" {
		m.MarketData = datatypes.JSON(d.MarketData)
	}
	return m
}

func decisionModelToRecord(m model.DecisionModel) store.Decision {
	return store.Decision{
		ID:         m.ID,
		Timestamp:  m.Timestamp,
		Symbol:     m.Symbol,
		Timeframe:  m.Timeframe,
		Strategy:   m.Strategy,
		Action:     store.Action(m.Action),
		Confidence: m.Confidence,
		EntryPrice: m.EntryPrice,
		StopLoss:   m.StopLoss,
		TakeProfit: m.TakeProfit,
		Reasoning:  m.Reasoning,
		MarketData: string(m.MarketData),
		Executed:   m.Executed,
	}
}

func newTradeModel(t store.Trade) model.TradeModel {
	status := t.Status
	if status == "" {
		status = store.TradeStatusOpen
	}
	return model.TradeModel{
		ID:            t.ID,
		Symbol:        normalizeSymbol(t.Symbol),
		MarketType:    t.MarketType,
		Timeframe:     t.Timeframe,
		Action:        string(t.Action),
		Amount:        t.Amount,
		Quantity:      t.Quantity,
		EntryPrice:    t.EntryPrice,
		EntryTime:     t.EntryTime,
		ExitPrice:     t.ExitPrice,
		ExitTime:      t.ExitTime,
		ProfitLoss:    t.ProfitLoss,
		ProfitLossPct: t.ProfitLossPct,
		CloseReason:   t.CloseReason,
		Status:        string(status),
		DecisionID:    t.DecisionID,
		IsSimulation:  t.IsSimulation,
	}
}

func tradeModelToRecord(m model.TradeModel) store.Trade {
	t := store.Trade{
		ID:            m.ID,
		Symbol:        m.Symbol,
		MarketType:    m.MarketType,
		Timeframe:     m.Timeframe,
		Action:        store.Action(m.Action),
		Amount:        m.Amount,
		Quantity:      m.Quantity,
		EntryPrice:    m.EntryPrice,
		EntryTime:     m.EntryTime,
		ExitPrice:     m.ExitPrice,
		ExitTime:      m.ExitTime,
		ProfitLoss:    m.ProfitLoss,
		ProfitLossPct: m.ProfitLossPct,
		CloseReason:   m.CloseReason,
		Status:        store.TradeStatus(m.Status),
		DecisionID:    m.DecisionID,
		IsSimulation:  m.IsSimulation,
	}
	if m.Decision != nil {
		d := decisionModelToRecord(*m.Decision)
		t.Decision = &d
	}
	return t
}

func logModelToRecord(m model.SystemLogModel) store.LogEntry {
	return store.LogEntry{
		ID:        m.ID,
		Timestamp: m.Timestamp,
		Level:     m.Level,
		Component: m.Component,
		Message:   m.Message,
		Details:   string(m.Details),
	}
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
