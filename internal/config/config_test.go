package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "app:\n  env: test\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, "binance", cfg.Market.Exchange)
	assert.Equal(t, "binance", cfg.Market.DataSource)
	assert.Equal(t, "future", cfg.Market.MarketType)
	assert.Equal(t, "BTC/USDT", cfg.Trading.Symbol)
	assert.Equal(t, "1h", cfg.Trading.Timeframe)
	assert.Equal(t, 100.0, cfg.Trading.InvestmentAmount)
	assert.Equal(t, 60, cfg.Trading.CheckIntervalSeconds)
	assert.True(t, cfg.Trading.PaperTrading)
	assert.Equal(t, "USDT", cfg.Trading.QuoteAsset)
	assert.Equal(t, "gemini-2.5-flash", cfg.Oracle.Model)
	assert.Equal(t, 500, cfg.Backtest.CandleLimit)
	assert.Equal(t, 20, cfg.Backtest.WarmupCandles)
	assert.Equal(t, 5, cfg.Backtest.OracleEvery)
	assert.Equal(t, 0.7, cfg.Backtest.MinConfidence)
	assert.Equal(t, 0.1, cfg.Backtest.EntryFraction)
	assert.Equal(t, 0.02, cfg.Backtest.StopLossPct)
	assert.Equal(t, 0.04, cfg.Backtest.TakeProfitPct)
}

func TestLoad_ExplicitFalseIsKept(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
trading:
  paper_trading: false
market:
  market_type: Futures
  data_source: gate
oracle:
  max_retries: 0
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Trading.PaperTrading)
	assert.Equal(t, "future", cfg.Market.MarketType)
	assert.Equal(t, "gate", cfg.Market.DataSource)
	assert.Equal(t, "gate", cfg.Backtest.DataSource)
	assert.Equal(t, 0, cfg.Oracle.MaxRetries)
}

func TestLoad_DataSourceFollowsExchangeDefault(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "market:\n  market_type: future\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "binance", cfg.Market.Exchange)
	assert.Equal(t, "binance", cfg.Market.DataSource)
	assert.Equal(t, "binance", cfg.Backtest.DataSource)
}

func TestLoad_IncludesAndEnv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
trading:
  symbol: ETH/USDT
  investment_amount: 25
`)
	path := writeFile(t, dir, "config.yaml", `
include:
  - base.yaml
trading:
  investment_amount: 50
`)
	t.Setenv("AGENTRADE_ORACLE_API_KEY", "env-key")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ETH/USDT", cfg.Trading.Symbol)
	assert.Equal(t, 50.0, cfg.Trading.InvestmentAmount)
	assert.Equal(t, "env-key", cfg.Oracle.APIKey)
}

func TestLoad_IncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include: [b.yaml]\n")
	path := writeFile(t, dir, "b.yaml", "include: [a.yaml]\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include cycle")
}

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"bad market type", "market:\n  market_type: margin\n", "MarketType"},
		{"bad timeframe", "trading:\n  timeframe: 7m\n", "trading.timeframe"},
		{"bad symbol", "trading:\n  symbol: BTCUSDT\n", "BASE/QUOTE"},
		{"bad leverage", "trading:\n  leverage: 500\n", "Leverage"},
		{"telegram incomplete", "notify:\n  telegram:\n    enabled: true\n", "notify.telegram"},
		{"warmup too large", "backtest:\n  candle_limit: 10\n  warmup_candles: 20\n", "warmup_candles"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "config.yaml", tc.body)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestWatcher_ReloadNotifiesListeners(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "app:\n  log_level: info\n")
	w, err := Watch(path)
	require.NoError(t, err)

	var (
		mu  sync.Mutex
		got *Config
	)
	w.Subscribe(func(cfg *Config) {
		mu.Lock()
		got = cfg
		mu.Unlock()
	})
	w.Subscribe(func(*Config) { panic("boom") })

	writeFile(t, dir, "config.yaml", "app:\n  log_level: debug\n")
	w.handle(fsnotify.Event{Name: path, Op: fsnotify.Write})

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, got)
	assert.Equal(t, "debug", got.App.LogLevel)
}
