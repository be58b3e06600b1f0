package app

import (
	"context"
	"errors"

	"agentrade/internal/backtest"
	"agentrade/internal/config"
	"agentrade/internal/logger"
	"agentrade/internal/manager"
	"agentrade/internal/market"
	"agentrade/internal/store"
	"agentrade/internal/trader"
)

// BacktestParams 把 backtest 配置段转换为引擎参数。
func BacktestParams(cfg config.BacktestConfig) backtest.Params {
	return backtest.Params{
		CandleLimit:   cfg.CandleLimit,
		Warmup:        cfg.WarmupCandles,
		OracleEvery:   cfg.OracleEvery,
		MinConfidence: cfg.MinConfidence,
		EntryFraction: cfg.EntryFraction,
		Exit:          trader.FixedPercentExit{StopLossPct: cfg.StopLossPct, TakeProfitPct: cfg.TakeProfitPct},
		LogCap:        cfg.ProgressLogCap,
	}
}

// BacktestEngine 每次运行时构建 oracle，配置表里更新的密钥因此立即生效。
type BacktestEngine struct {
	source  market.Source
	oracles *manager.Oracles
	configs manager.ConfigReader
	params  backtest.Params
}

func NewBacktestEngine(source market.Source, oracles *manager.Oracles, configs manager.ConfigReader, params backtest.Params) *BacktestEngine {
	return &BacktestEngine{source: source, oracles: oracles, configs: configs, params: params}
}

func (e *BacktestEngine) Run(ctx context.Context, req backtest.Request, obs backtest.Observer) backtest.Result {
	oracle, err := e.oracles.Build("", e.storedKey(ctx))
	if err != nil {
		return backtest.Result{Error: err.Error()}
	}
	runner, err := backtest.NewRunner(e.source, oracle, e.params)
	if err != nil {
		return backtest.Result{Error: err.Error()}
	}
	return runner.Run(ctx, req, obs)
}

func (e *BacktestEngine) storedKey(ctx context.Context) string {
	if e.configs == nil {
		return ""
	}
	v, err := e.configs.GetConfig(ctx, manager.KeyOracleAPIKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.Warnf("[backtest] read oracle key failed: %v", err)
		}
		return ""
	}
	return v
}
