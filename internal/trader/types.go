package trader

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"agentrade/internal/gateway/exchange"
	"agentrade/internal/market"
	"agentrade/internal/pkg/symbol"
)

const (
	DefaultCheckInterval = 60 * time.Second
	// 基础周期取数失败后的重试间隔。
	BaseFetchRetry = 10 * time.Second
	BaseCandles    = 100
	HigherCandles  = 100
	// Decision.MarketData 中保存的基础周期 K 线根数。
	SnapshotCandles = 20
)

var runValidator = validator.New()

// RunConfig 为一次运行的全部参数，启动后只读。
type RunConfig struct {
	Symbol           string        `json:"symbol" validate:"required"`
	MarketType       string        `json:"market_type" validate:"oneof=spot future"`
	Timeframe        string        `json:"timeframe" validate:"required"`
	InvestmentAmount float64       `json:"investment_amount" validate:"gt=0"`
	Leverage         int           `json:"leverage" validate:"gte=1,lte=125"`
	MaxOpenPositions int           `json:"max_open_positions" validate:"gte=1"`
	CheckInterval    time.Duration `json:"check_interval"`
	Strategy         string        `json:"strategy"`
	PaperTrading     bool          `json:"paper_trading"`
	Model            string        `json:"model"`
	QuoteAsset       string        `json:"quote_asset"`
}

// Normalize 统一 symbol/周期/市场类型写法并补默认值。
func (c RunConfig) Normalize() RunConfig {
	c.Symbol = symbol.Normalize(c.Symbol)
	c.Timeframe = market.NormalizeTimeframe(c.Timeframe)
	c.MarketType = exchange.NormalizeMarketType(c.MarketType)
	if c.Leverage <= 0 {
		c.Leverage = 1
	}
	if c.MaxOpenPositions <= 0 {
		c.MaxOpenPositions = 1
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	if strings.TrimSpace(c.QuoteAsset) == "" {
		c.QuoteAsset = symbol.QuoteOf(c.Symbol, "USDT")
	}
	return c
}

func (c RunConfig) Validate() error {
	if err := runValidator.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("run config: %s failed %q (value=%v)", verrs[0].Field(), verrs[0].Tag(), verrs[0].Value())
		}
		return err
	}
	if !market.IsSupportedTimeframe(c.Timeframe) {
		return fmt.Errorf("run config: unsupported timeframe %q", c.Timeframe)
	}
	return nil
}

// Outcome 描述一次 cycle 的结果。RetryAfter > 0 时覆盖下一次等待时长。
type Outcome struct {
	Price      float64
	OpenCount  int
	Consulted  bool
	DecisionID uint
	Action     string
	Opened     bool
	Skipped    string
	RetryAfter time.Duration
	Err        error
}
