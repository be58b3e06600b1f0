package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"agentrade/internal/backtest"
	"agentrade/internal/config"
	"agentrade/internal/journal"
	"agentrade/internal/logger"
	"agentrade/internal/manager"
	"agentrade/internal/store"
	livehttp "agentrade/internal/transport/http/live"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动 HTTP、实盘循环与回测服务。
type App struct {
	cfg      *config.Config
	cfgPath  string
	ledger   store.Ledger
	journal  *journal.Journal
	manager  *manager.Manager
	backtest *backtest.Service
	results  *backtest.ResultStore
	http     *livehttp.Server
	Summary  *StartupSummary

	closeOnce sync.Once
}

// NewApp 根据配置构建应用对象（不启动）。cfgPath 为空时不开启热更新。
func NewApp(cfg *config.Config, cfgPath string) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	a, err := NewBuilder(cfg).Build()
	if err != nil {
		return nil, err
	}
	a.cfgPath = cfgPath
	return a, nil
}

// Run 启动 HTTP 服务并按配置自动启动默认循环，直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	defer a.Close()

	a.manager.SetContext(ctx)
	a.backtest.SetContext(ctx)

	if a.cfgPath != "" {
		if w, err := config.Watch(a.cfgPath); err != nil {
			logger.Warnf("配置热更新未启用: %v", err)
		} else {
			w.Subscribe(config.ApplyLogLevel)
		}
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.http.Start(gctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	if a.cfg.Trading.AutoStart {
		group.Go(func() error {
			a.autoStart(gctx)
			return nil
		})
	}
	group.Go(func() error {
		<-gctx.Done()
		stopped := a.manager.StopAll()
		if len(stopped) > 0 {
			logger.Infof("已停止交易循环: %v", stopped)
		}
		return nil
	})
	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) autoStart(ctx context.Context) {
	res, err := a.manager.Start(ctx, manager.StartRequest{})
	if err != nil {
		a.journal.Error(ctx, journal.ComponentOrchestrator, "auto start failed", map[string]any{"error": err.Error()})
		return
	}
	logger.Infof("✓ 自动启动 %s (%s)", res.Config.Symbol, res.Status)
}

// Close 释放存储句柄。
func (a *App) Close() {
	if a == nil {
		return
	}
	a.closeOnce.Do(func() {
		if a.results != nil {
			if err := a.results.Close(); err != nil {
				logger.Warnf("关闭回测结果库失败: %v", err)
			}
		}
		if a.ledger != nil {
			if err := a.ledger.Close(); err != nil {
				logger.Warnf("关闭账本失败: %v", err)
			}
		}
	})
}

// Manager exposes the loop registry (for tests and embedding).
func (a *App) Manager() *manager.Manager {
	if a == nil {
		return nil
	}
	return a.manager
}

// Backtest exposes the backtest service.
func (a *App) Backtest() *backtest.Service {
	if a == nil {
		return nil
	}
	return a.backtest
}
