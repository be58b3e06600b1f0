package app

import (
	"fmt"
	"strings"

	"agentrade/internal/backtest"
	"agentrade/internal/config"
	"agentrade/internal/decision"
	"agentrade/internal/gateway"
	"agentrade/internal/gateway/notifier"
	"agentrade/internal/journal"
	"agentrade/internal/logger"
	"agentrade/internal/manager"
	"agentrade/internal/market"
	"agentrade/internal/store"
	"agentrade/internal/store/gormstore"
	backtesthttp "agentrade/internal/transport/http/backtest"
	livehttp "agentrade/internal/transport/http/live"
)

// Builder 按配置组装 App；各 *Fn 字段可在测试中替换。
type Builder struct {
	cfg *config.Config

	ledgerFn   func(path string) (store.Ledger, error)
	sourceFn   func(cfg config.MarketConfig, dataSource, marketType string) (market.Source, error)
	notifierFn func(cfg config.NotifyConfig) notifier.TextNotifier
}

type BuilderOption func(*Builder)

// WithLedger 使用外部提供的账本而不是打开 SQLite 文件。
func WithLedger(l store.Ledger) BuilderOption {
	return func(b *Builder) {
		b.ledgerFn = func(string) (store.Ledger, error) { return l, nil }
	}
}

// WithBacktestSource 替换回测 K 线来源。
func WithBacktestSource(src market.Source) BuilderOption {
	return func(b *Builder) {
		b.sourceFn = func(config.MarketConfig, string, string) (market.Source, error) { return src, nil }
	}
}

func WithNotifier(n notifier.TextNotifier) BuilderOption {
	return func(b *Builder) {
		b.notifierFn = func(config.NotifyConfig) notifier.TextNotifier { return n }
	}
}

func NewBuilder(cfg *config.Config, opts ...BuilderOption) *Builder {
	b := &Builder{
		cfg:        cfg,
		ledgerFn:   openLedger,
		sourceFn:   gateway.NewSource,
		notifierFn: buildNotifier,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func openLedger(path string) (store.Ledger, error) {
	return gormstore.NewGormStore(path)
}

func buildNotifier(cfg config.NotifyConfig) notifier.TextNotifier {
	tg := cfg.Telegram
	if !tg.Enabled {
		return notifier.Nop{}
	}
	logger.Infof("✓ Telegram 通知已启用 (chat=%s)", tg.ChatID)
	return notifier.NewTelegram(tg.BotToken, tg.ChatID)
}

func (b *Builder) Build() (*App, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg

	ledger, err := b.ledgerFn(cfg.Storage.LedgerPath)
	if err != nil {
		return nil, fmt.Errorf("打开账本失败: %w", err)
	}
	events := journal.New(ledger)
	notify := b.notifierFn(cfg.Notify)

	catalog, err := decision.LoadCatalog(cfg.StrategiesPath)
	if err != nil {
		_ = ledger.Close()
		return nil, err
	}
	logger.Infof("✓ 已加载 %d 个策略: %s", len(catalog.Names()), strings.Join(catalog.Names(), ", "))
	oracles := manager.NewOracles(cfg.Oracle, catalog)

	factory := manager.NewFactory(manager.FactoryConfig{
		Market:   cfg.Market,
		Oracle:   cfg.Oracle,
		Catalog:  catalog,
		Oracles:  oracles,
		Ledger:   ledger,
		Journal:  events,
		Notifier: notify,
	})
	mgr, err := manager.New(manager.Options{
		Factory: factory,
		Configs: ledger,
		Journal: events,
		Trading: cfg.Trading,
		Market:  cfg.Market,
		Oracle:  cfg.Oracle,
	})
	if err != nil {
		_ = ledger.Close()
		return nil, err
	}

	results, err := backtest.NewResultStore(cfg.Backtest.ResultsDir)
	if err != nil {
		_ = ledger.Close()
		return nil, fmt.Errorf("打开回测结果库失败: %w", err)
	}
	closeAll := func() {
		_ = results.Close()
		_ = ledger.Close()
	}
	source, err := b.sourceFn(cfg.Market, cfg.Backtest.DataSource, cfg.Market.MarketType)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("初始化回测数据源失败: %w", err)
	}
	svc, err := backtest.NewService(backtest.ServiceConfig{
		Engine:        NewBacktestEngine(source, oracles, ledger, BacktestParams(cfg.Backtest)),
		Store:         results,
		Notifier:      notify,
		MaxConcurrent: cfg.Backtest.MaxConcurrent,
	})
	if err != nil {
		closeAll()
		return nil, err
	}
	btRouter, err := backtesthttp.NewRouter(svc)
	if err != nil {
		closeAll()
		return nil, err
	}
	server, err := livehttp.NewServer(livehttp.ServerConfig{
		Addr:    cfg.App.HTTPAddr,
		Loops:   mgr,
		Ledger:  ledger,
		Journal: events,
		Mounts:  []livehttp.Mount{{Prefix: "/api/backtest", Routes: btRouter}},
	})
	if err != nil {
		closeAll()
		return nil, err
	}

	return &App{
		cfg:      cfg,
		ledger:   ledger,
		journal:  events,
		manager:  mgr,
		backtest: svc,
		results:  results,
		http:     server,
		Summary:  newStartupSummary(cfg, catalog),
	}, nil
}
