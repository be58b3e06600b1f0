package config

import (
	"strings"
	"time"
)

// Config 汇总所有配置段。
type Config struct {
	App            AppConfig      `toml:"app"`
	Market         MarketConfig   `toml:"market"`
	Oracle         OracleConfig   `toml:"oracle"`
	Trading        TradingConfig  `toml:"trading"`
	Backtest       BacktestConfig `toml:"backtest"`
	Storage        StorageConfig  `toml:"storage"`
	Notify         NotifyConfig   `toml:"notify"`
	StrategiesPath string         `toml:"strategies_path"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
	LogPath  string `toml:"log_path"`
	LLMLog   string `toml:"llm_log_path"`
	LLMDump  bool   `toml:"llm_dump"`
	HTTPAddr string `toml:"http_addr"`
}

// MarketConfig 描述行情与下单所用的交易所。
type MarketConfig struct {
	Exchange       string `toml:"exchange" validate:"oneof=binance"`
	DataSource     string `toml:"data_source" validate:"oneof=binance gate"`
	MarketType     string `toml:"market_type" validate:"oneof=spot future"`
	Testnet        bool   `toml:"testnet"`
	APIKey         string `toml:"api_key"`
	SecretKey      string `toml:"secret_key"`
	SpotBaseURL    string `toml:"spot_base_url"`
	FuturesBaseURL string `toml:"futures_base_url"`
	GateBaseURL    string `toml:"gate_base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds" validate:"gt=0"`
	ProxyURL       string `toml:"proxy_url" validate:"omitempty,url"`
}

func (m MarketConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds) * time.Second
}

// OracleConfig 描述决策模型（OpenAI 兼容接口）。
type OracleConfig struct {
	APIURL          string  `toml:"api_url" validate:"url"`
	APIKey          string  `toml:"api_key"`
	Model           string  `toml:"model" validate:"required"`
	TimeoutSeconds  int     `toml:"timeout_seconds" validate:"gt=0"`
	MaxRetries      int     `toml:"max_retries" validate:"gte=0"`
	Temperature     float64 `toml:"temperature" validate:"gte=0,lte=2"`
	RatePerMinute   int     `toml:"rate_per_minute" validate:"gt=0"`
	BreakerFailures int     `toml:"breaker_failures" validate:"gt=0"`
	BreakerCooldown int     `toml:"breaker_cooldown_seconds" validate:"gt=0"`
}

func (o OracleConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutSeconds) * time.Second
}

// TradingConfig 是实盘循环的默认参数，可被 /api/start 覆盖。
type TradingConfig struct {
	Symbol               string  `toml:"symbol" validate:"required"`
	Timeframe            string  `toml:"timeframe" validate:"required"`
	InvestmentAmount     float64 `toml:"investment_amount" validate:"gt=0"`
	Leverage             int     `toml:"leverage" validate:"gte=1,lte=125"`
	MaxOpenPositions     int     `toml:"max_open_positions" validate:"gte=1"`
	CheckIntervalSeconds int     `toml:"check_interval_seconds" validate:"gt=0"`
	Strategy             string  `toml:"strategy"`
	PaperTrading         bool    `toml:"paper_trading"`
	AutoStart            bool    `toml:"auto_start"`
	QuoteAsset           string  `toml:"quote_asset"`
}

func (t TradingConfig) CheckInterval() time.Duration {
	return time.Duration(t.CheckIntervalSeconds) * time.Second
}

// BacktestConfig 为回放引擎的固定参数。
type BacktestConfig struct {
	DataSource     string  `toml:"data_source" validate:"oneof=binance gate"`
	CandleLimit    int     `toml:"candle_limit" validate:"gt=0"`
	WarmupCandles  int     `toml:"warmup_candles" validate:"gt=0"`
	OracleEvery    int     `toml:"oracle_every" validate:"gt=0"`
	MinConfidence  float64 `toml:"min_confidence" validate:"gte=0,lte=1"`
	EntryFraction  float64 `toml:"entry_fraction" validate:"gt=0,lte=1"`
	StopLossPct    float64 `toml:"stop_loss_pct" validate:"gt=0,lt=1"`
	TakeProfitPct  float64 `toml:"take_profit_pct" validate:"gt=0"`
	ProgressLogCap int     `toml:"progress_log_cap" validate:"gt=0"`
	InitialCapital float64 `toml:"initial_capital" validate:"gt=0"`
	ResultsDir     string  `toml:"results_dir"`
	MaxConcurrent  int     `toml:"max_concurrent" validate:"gte=1"`
}

type StorageConfig struct {
	LedgerPath string `toml:"ledger_path"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	_, ok := k[strings.ToLower(strings.TrimSpace(path))]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
