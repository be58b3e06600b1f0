package config

import (
	"strings"
)

// 默认值常量
const (
	defaultAppEnv          = "dev"
	defaultAppLogLevel     = "info"
	defaultAppHTTPAddr     = ":8000"
	defaultAppLogPath      = "data/logs/agentrade.log"
	defaultAppLLMLogPath   = "data/logs/oracle.log"
	defaultExchange        = "binance"
	defaultMarketType      = "future"
	defaultMarketTimeout   = 15
	defaultOracleURL       = "https://generativelanguage.googleapis.com/v1beta/openai"
	defaultOracleModel     = "gemini-2.5-flash"
	defaultOracleTimeout   = 60
	defaultOracleRetries   = 2
	defaultOracleTemp      = 0.5
	defaultOracleRate      = 30
	defaultBreakerFailures = 5
	defaultBreakerCooldown = 300
	defaultSymbol          = "BTC/USDT"
	defaultTimeframe       = "1h"
	defaultInvestment      = 100
	defaultLeverage        = 1
	defaultMaxOpen         = 1
	defaultCheckInterval   = 60
	defaultStrategy        = "multi_timeframe"
	defaultQuoteAsset      = "USDT"
	defaultBTCandleLimit   = 500
	defaultBTWarmup        = 20
	defaultBTOracleEvery   = 5
	defaultBTConfidence    = 0.7
	defaultBTFraction      = 0.1
	defaultBTStopLoss      = 0.02
	defaultBTTakeProfit    = 0.04
	defaultBTLogCap        = 200
	defaultBTCapital       = 1000
	defaultBTResultsDir    = "data/backtest"
	defaultBTConcurrent    = 2
	defaultLedgerPath      = "data/db/agentrade.db"
	defaultStrategiesPath  = "configs/strategies.yaml"
)

// applyDefaults 为所有子配置应用默认值；显式写在配置文件里的键不会被覆盖。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Oracle.applyDefaults(keys)
	c.Trading.applyDefaults(keys)
	c.Backtest.applyDefaults(keys, c.Market.DataSource)
	applyFieldDefaults(keys,
		stringFieldDefault("storage.ledger_path", &c.Storage.LedgerPath, defaultLedgerPath),
		stringFieldDefault("strategies_path", &c.StrategiesPath, defaultStrategiesPath),
	)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.llm_log_path", &a.LLMLog, defaultAppLLMLogPath),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	m.Exchange = strings.ToLower(strings.TrimSpace(m.Exchange))
	m.MarketType = strings.ToLower(strings.TrimSpace(m.MarketType))
	if m.MarketType == "futures" {
		m.MarketType = "future"
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.exchange", &m.Exchange, defaultExchange),
		stringFieldDefault("market.market_type", &m.MarketType, defaultMarketType),
		fieldDefault{
			key:   "market.data_source",
			need:  func() bool { return strings.TrimSpace(m.DataSource) == "" },
			apply: func() { m.DataSource = m.Exchange },
		},
		intFieldDefault("market.timeout_seconds", &m.TimeoutSeconds, defaultMarketTimeout),
	)
	m.DataSource = strings.ToLower(strings.TrimSpace(m.DataSource))
}

func (o *OracleConfig) applyDefaults(keys keySet) {
	if o == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("oracle.api_url", &o.APIURL, defaultOracleURL),
		stringFieldDefault("oracle.model", &o.Model, defaultOracleModel),
		intFieldDefault("oracle.timeout_seconds", &o.TimeoutSeconds, defaultOracleTimeout),
		intFieldDefault("oracle.max_retries", &o.MaxRetries, defaultOracleRetries),
		intFieldDefault("oracle.rate_per_minute", &o.RatePerMinute, defaultOracleRate),
		intFieldDefault("oracle.breaker_failures", &o.BreakerFailures, defaultBreakerFailures),
		intFieldDefault("oracle.breaker_cooldown_seconds", &o.BreakerCooldown, defaultBreakerCooldown),
		fieldDefault{
			key:   "oracle.temperature",
			need:  func() bool { return o.Temperature <= 0 },
			apply: func() { o.Temperature = defaultOracleTemp },
		},
	)
}

func (t *TradingConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("trading.symbol", &t.Symbol, defaultSymbol),
		stringFieldDefault("trading.timeframe", &t.Timeframe, defaultTimeframe),
		stringFieldDefault("trading.strategy", &t.Strategy, defaultStrategy),
		stringFieldDefault("trading.quote_asset", &t.QuoteAsset, defaultQuoteAsset),
		intFieldDefault("trading.leverage", &t.Leverage, defaultLeverage),
		intFieldDefault("trading.max_open_positions", &t.MaxOpenPositions, defaultMaxOpen),
		intFieldDefault("trading.check_interval_seconds", &t.CheckIntervalSeconds, defaultCheckInterval),
		fieldDefault{
			key:   "trading.investment_amount",
			need:  func() bool { return t.InvestmentAmount <= 0 },
			apply: func() { t.InvestmentAmount = defaultInvestment },
		},
		boolFieldDefault("trading.paper_trading", &t.PaperTrading, true),
	)
	t.Timeframe = strings.ToLower(strings.TrimSpace(t.Timeframe))
	t.QuoteAsset = strings.ToUpper(strings.TrimSpace(t.QuoteAsset))
}

func (b *BacktestConfig) applyDefaults(keys keySet, dataSource string) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("backtest.data_source", &b.DataSource, dataSource),
		stringFieldDefault("backtest.results_dir", &b.ResultsDir, defaultBTResultsDir),
		intFieldDefault("backtest.candle_limit", &b.CandleLimit, defaultBTCandleLimit),
		intFieldDefault("backtest.warmup_candles", &b.WarmupCandles, defaultBTWarmup),
		intFieldDefault("backtest.oracle_every", &b.OracleEvery, defaultBTOracleEvery),
		intFieldDefault("backtest.progress_log_cap", &b.ProgressLogCap, defaultBTLogCap),
		intFieldDefault("backtest.max_concurrent", &b.MaxConcurrent, defaultBTConcurrent),
		floatFieldDefault("backtest.min_confidence", &b.MinConfidence, defaultBTConfidence),
		floatFieldDefault("backtest.entry_fraction", &b.EntryFraction, defaultBTFraction),
		floatFieldDefault("backtest.stop_loss_pct", &b.StopLossPct, defaultBTStopLoss),
		floatFieldDefault("backtest.take_profit_pct", &b.TakeProfitPct, defaultBTTakeProfit),
		floatFieldDefault("backtest.initial_capital", &b.InitialCapital, defaultBTCapital),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && strings.TrimSpace(*target) == "" },
		apply: func() { *target = def },
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && *target <= 0 },
		apply: func() { *target = def },
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && *target <= 0 },
		apply: func() { *target = def },
	}
}

// boolFieldDefault only fires when the key is absent from every config source.
func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil },
		apply: func() { *target = def },
	}
}
