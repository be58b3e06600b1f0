package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"agentrade/internal/config"
	"agentrade/internal/decision"
	"agentrade/internal/gateway"
	"agentrade/internal/gateway/notifier"
	"agentrade/internal/logger"
	"agentrade/internal/trader"
)

// Keys 为一次运行使用的密钥；空值回落到配置表或静态配置。
type Keys struct {
	APIKey       string `json:"api_key,omitempty"`
	SecretKey    string `json:"secret_key,omitempty"`
	OracleAPIKey string `json:"oracle_api_key,omitempty"`
}

// Factory 为一次运行构建 Cycle 的外部依赖。构建失败时循环保持 STOPPED。
type Factory interface {
	Build(ctx context.Context, cfg trader.RunConfig, keys Keys) (trader.CycleDeps, error)
}

// FactoryConfig 描述默认工厂：Binance 交易所 + OpenAI 兼容模型。
type FactoryConfig struct {
	Market   config.MarketConfig
	Oracle   config.OracleConfig
	Catalog  *decision.Catalog
	Oracles  *Oracles
	Ledger   trader.Ledger
	Journal  trader.EventLog
	Notifier notifier.TextNotifier
}

type defaultFactory struct {
	cfg FactoryConfig
}

func NewFactory(cfg FactoryConfig) Factory {
	if cfg.Oracles == nil {
		cfg.Oracles = NewOracles(cfg.Oracle, cfg.Catalog)
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notifier.Nop{}
	}
	return &defaultFactory{cfg: cfg}
}

func (f *defaultFactory) Build(ctx context.Context, rc trader.RunConfig, keys Keys) (trader.CycleDeps, error) {
	if f.cfg.Ledger == nil {
		return trader.CycleDeps{}, errors.New("factory: ledger is required")
	}
	if strings.TrimSpace(firstNonEmpty(keys.OracleAPIKey, f.cfg.Oracle.APIKey)) == "" {
		return trader.CycleDeps{}, errors.New("oracle api key is not configured")
	}
	if !rc.PaperTrading && (strings.TrimSpace(keys.APIKey) == "" || strings.TrimSpace(keys.SecretKey) == "") {
		return trader.CycleDeps{}, errors.New("binance api key and secret are required for real trading")
	}

	venue, err := gateway.NewBinance(f.cfg.Market, rc.MarketType, gateway.Credentials{APIKey: keys.APIKey, SecretKey: keys.SecretKey})
	if err != nil {
		return trader.CycleDeps{}, fmt.Errorf("init binance client: %w", err)
	}
	source, err := gateway.NewSource(f.cfg.Market, f.cfg.Market.DataSource, rc.MarketType)
	if err != nil {
		return trader.CycleDeps{}, fmt.Errorf("init market data source: %w", err)
	}
	model := firstNonEmpty(rc.Model, f.cfg.Oracle.Model)
	oracle, err := f.cfg.Oracles.Build(model, keys.OracleAPIKey)
	if err != nil {
		return trader.CycleDeps{}, fmt.Errorf("init oracle: %w", err)
	}

	deps := trader.CycleDeps{
		Config:   rc,
		Market:   source,
		Oracle:   oracle,
		Ledger:   f.cfg.Ledger,
		Journal:  f.cfg.Journal,
		Notifier: f.cfg.Notifier,
	}
	// 模拟盘也接入交易所，用于余额查询（失败只记录）
	deps.Execution = venue
	logger.Infof("[manager] %s deps ready: venue=%s data=%s model=%s paper=%t", rc.Symbol, venue.Name(), sourceName(f.cfg.Market.DataSource), model, rc.PaperTrading)
	return deps, nil
}

func sourceName(s string) string {
	if strings.TrimSpace(s) == "" {
		return "binance"
	}
	return strings.ToLower(s)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
