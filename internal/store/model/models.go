package model

import (
	"time"

	"gorm.io/datatypes"
)

type DecisionModel struct {
	ID         uint           `gorm:"column:id;primaryKey"`
	Timestamp  time.Time      `gorm:"column:timestamp;index"`
	Symbol     string         `gorm:"column:symbol;not null;index"`
	Timeframe  string         `gorm:"column:timeframe"`
	Strategy   string         `gorm:"column:strategy"`
	Action     string         `gorm:"column:action"`
	Confidence float64        `gorm:"column:confidence"`
	EntryPrice *float64       `gorm:"column:entry_price"`
	StopLoss   *float64       `gorm:"column:stop_loss"`
	TakeProfit *float64       `gorm:"column:take_profit"`
	Reasoning  string         `gorm:"column:reasoning;type:TEXT"`
	MarketData datatypes.JSON `gorm:"column:market_data;type:TEXT"`
	Executed   bool           `gorm:"column:executed;default:false"`
}

func (DecisionModel) TableName() string { return "decisions" }

// TradeModel maps to 'trades'; Decision is a belongs-to via decision_id.
type TradeModel struct {
	ID            uint           `gorm:"column:id;primaryKey"`
	Symbol        string         `gorm:"column:symbol;not null;index:idx_trades_symbol_status,priority:1"`
	MarketType    string         `gorm:"column:market_type"`
	Timeframe     string         `gorm:"column:timeframe"`
	Action        string         `gorm:"column:action"`
	Amount        float64        `gorm:"column:amount"`
	Quantity      float64        `gorm:"column:quantity"`
	EntryPrice    float64        `gorm:"column:entry_price"`
	EntryTime     time.Time      `gorm:"column:entry_time;index"`
	ExitPrice     *float64       `gorm:"column:exit_price"`
	ExitTime      *time.Time     `gorm:"column:exit_time"`
	ProfitLoss    *float64       `gorm:"column:profit_loss"`
	ProfitLossPct *float64       `gorm:"column:profit_loss_pct"`
	CloseReason   string         `gorm:"column:close_reason"`
	Status        string         `gorm:"column:status;default:OPEN;index:idx_trades_symbol_status,priority:2"`
	DecisionID    *uint          `gorm:"column:decision_id;index"`
	Decision      *DecisionModel `gorm:"foreignKey:DecisionID"`
	IsSimulation  bool           `gorm:"column:is_simulation"`
}

func (TradeModel) TableName() string { return "trades" }

type SystemLogModel struct {
	ID        uint           `gorm:"column:id;primaryKey"`
	Timestamp time.Time      `gorm:"column:timestamp;index"`
	Level     string         `gorm:"column:level;index"`
	Component string         `gorm:"column:component"`
	Message   string         `gorm:"column:message;type:TEXT"`
	Details   datatypes.JSON `gorm:"column:details;type:TEXT"`
}

func (SystemLogModel) TableName() string { return "system_logs" }

type ConfigurationModel struct {
	ID        uint      `gorm:"column:id;primaryKey"`
	Key       string    `gorm:"column:config_key;uniqueIndex;not null"`
	Value     string    `gorm:"column:config_value;type:TEXT"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (ConfigurationModel) TableName() string { return "configurations" }

// All lists every model for AutoMigrate.
func All() []any {
	return []any{
		&DecisionModel{},
		&TradeModel{},
		&SystemLogModel{},
		&ConfigurationModel{},
	}
}
