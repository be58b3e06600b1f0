package config

import (
	"errors"
	"fmt"
	"strings"

	"agentrade/internal/market"

	"github.com/go-playground/validator/v10"
)

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// validate 先做 struct tag 校验，再做跨字段检查。
func validate(c *Config) error {
	if err := structValidator.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config %s failed %q (value=%v)", configPath(fe.Namespace()), fe.Tag(), fe.Value())
		}
		return err
	}
	if err := c.Trading.validate(); err != nil {
		return err
	}
	if err := c.Backtest.validate(); err != nil {
		return err
	}
	return c.Notify.validate()
}

func (t *TradingConfig) validate() error {
	if !market.IsSupportedTimeframe(t.Timeframe) {
		return fmt.Errorf("trading.timeframe %q is not supported", t.Timeframe)
	}
	if !strings.Contains(t.Symbol, "/") {
		return fmt.Errorf("trading.symbol must look like BASE/QUOTE, got %q", t.Symbol)
	}
	return nil
}

func (b *BacktestConfig) validate() error {
	if b.WarmupCandles >= b.CandleLimit {
		return fmt.Errorf("backtest.warmup_candles (%d) must be below candle_limit (%d)", b.WarmupCandles, b.CandleLimit)
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	tg := n.Telegram
	if tg.Enabled && (strings.TrimSpace(tg.BotToken) == "" || strings.TrimSpace(tg.ChatID) == "") {
		return fmt.Errorf("notify.telegram requires bot_token and chat_id when enabled")
	}
	return nil
}

// configPath turns "Config.Trading.InvestmentAmount" into "Trading.InvestmentAmount".
func configPath(ns string) string {
	if idx := strings.Index(ns, "."); idx >= 0 {
		return ns[idx+1:]
	}
	return ns
}
