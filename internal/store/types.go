package store

import (
	"strings"
	"time"
)

type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// ParseAction 容忍大小写与空白；未知值返回 false。
func ParseAction(s string) (Action, bool) {
	switch Action(strings.ToUpper(strings.TrimSpace(s))) {
	case ActionBuy:
		return ActionBuy, true
	case ActionSell:
		return ActionSell, true
	case ActionHold:
		return ActionHold, true
	default:
		return "", false
	}
}

// IsEntry reports whether the action opens a position.
func (a Action) IsEntry() bool {
	return a == ActionBuy || a == ActionSell
}

type TradeStatus string

const (
	TradeStatusOpen   TradeStatus = "OPEN"
	TradeStatusClosed TradeStatus = "CLOSED"
)

// Close reasons recorded on trades.
const (
	ReasonStopLoss       = "stop-loss"
	ReasonTakeProfit     = "take-profit"
	ReasonReconciliation = "reconciliation"
)

// Decision is one oracle consultation.
type Decision struct {
	ID         uint      `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Symbol     string    `json:"symbol"`
	Timeframe  string    `json:"timeframe"`
	Strategy   string    `json:"strategy"`
	Action     Action    `json:"action"`
	Confidence float64   `json:"confidence"`
	EntryPrice *float64  `json:"entry_price,omitempty"`
	StopLoss   *float64  `json:"stop_loss,omitempty"`
	TakeProfit *float64  `json:"take_profit,omitempty"`
	Reasoning  string    `json:"reasoning"`
	MarketData string    `json:"-"`
	Executed   bool      `json:"executed"`
}

// Trade is a position. Action BUY is LONG, SELL is SHORT.
type Trade struct {
	ID            uint        `json:"id"`
	Symbol        string      `json:"symbol"`
	MarketType    string      `json:"market_type"`
	Timeframe     string      `json:"timeframe"`
	Action        Action      `json:"action"`
	Amount        float64     `json:"amount"`
	Quantity      float64     `json:"quantity"`
	EntryPrice    float64     `json:"entry_price"`
	EntryTime     time.Time   `json:"entry_time"`
	ExitPrice     *float64    `json:"exit_price,omitempty"`
	ExitTime      *time.Time  `json:"exit_time,omitempty"`
	ProfitLoss    *float64    `json:"profit_loss,omitempty"`
	ProfitLossPct *float64    `json:"profit_loss_pct,omitempty"`
	CloseReason   string      `json:"close_reason,omitempty"`
	Status        TradeStatus `json:"status"`
	DecisionID    *uint       `json:"decision_id,omitempty"`
	Decision      *Decision   `json:"-"`
	IsSimulation  bool        `json:"is_simulation"`
}

func (t Trade) IsLong() bool { return t.Action == ActionBuy }

// TradeFill carries every close field; CloseTrade writes them together.
type TradeFill struct {
	ExitPrice     float64
	ExitTime      time.Time
	ProfitLoss    float64
	ProfitLossPct float64
	Reason        string
}

type LogEntry struct {
	ID        uint      `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Component string    `json:"component"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
}

type ConfigEntry struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

type TradeFilter struct {
	Symbol string
	Status TradeStatus
	Limit  int
}

type DecisionFilter struct {
	Symbol string
	Limit  int
}

type LogFilter struct {
	Level     string
	Component string
	Limit     int
}

type TradeStats struct {
	TotalTrades     int64   `json:"total_trades"`
	OpenTrades      int64   `json:"open_trades"`
	ClosedTrades    int64   `json:"closed_trades"`
	Wins            int64   `json:"wins"`
	Losses          int64   `json:"losses"`
	TotalProfitLoss float64 `json:"total_profit_loss"`
}

const DefaultQueryLimit = 50

// ClampLimit maps non-positive limits to the default and caps the rest.
func ClampLimit(limit, max int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}
