// Package manager 维护按 symbol 索引的交易循环注册表，负责启动参数合并、
// 密钥回落与生命周期管理。
package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"agentrade/internal/config"
	"agentrade/internal/journal"
	"agentrade/internal/logger"
	"agentrade/internal/pkg/symbol"
	"agentrade/internal/store"
	"agentrade/internal/trader"
)

// 配置表中的密钥键。
const (
	KeyBinanceAPIKey    = "binance_api_key"
	KeyBinanceSecretKey = "binance_secret_key"
	KeyOracleAPIKey     = "oracle_api_key"
)

const (
	StatusStarted        = "started"
	StatusAlreadyRunning = "already_running"
	StatusStopped        = "stopped"
	StatusNotRunning     = "not_running"
)

var ErrNotRunning = errors.New("no trading loop is running for symbol")

// ConfigReader 读取运行时配置表，store.Ledger 满足它。
type ConfigReader interface {
	GetConfig(ctx context.Context, key string) (string, error)
}

// StartRequest 为 /api/start 的请求体；零值字段使用 trading 段默认值。
type StartRequest struct {
	Symbol           string  `json:"symbol"`
	MarketType       string  `json:"market_type"`
	Timeframe        string  `json:"timeframe"`
	InvestmentAmount float64 `json:"investment_amount"`
	Leverage         int     `json:"leverage"`
	MaxOpenPositions int     `json:"max_open_positions"`
	CheckInterval    int     `json:"check_interval"`
	Strategy         string  `json:"strategy"`
	PaperTrading     *bool   `json:"paper_trading"`
	Model            string  `json:"model"`
	Keys
}

// StartResult 不回显任何密钥。
type StartResult struct {
	Status string           `json:"status"`
	Config trader.RunConfig `json:"config"`
}

type Options struct {
	Factory Factory
	Configs ConfigReader
	Journal trader.EventLog
	Trading config.TradingConfig
	Market  config.MarketConfig
	Oracle  config.OracleConfig
	// StopTimeout 为 StopAll 等待每个循环退出的上限。
	StopTimeout time.Duration
}

// Manager 持有每个 symbol 的 Loop；不同 symbol 的循环并发运行，只共享 Ledger。
type Manager struct {
	opts Options

	mu    sync.Mutex
	loops map[string]*trader.Loop

	baseCtx context.Context
}

func New(opts Options) (*Manager, error) {
	if opts.Factory == nil {
		return nil, fmt.Errorf("manager: factory is required")
	}
	if opts.Journal == nil {
		return nil, fmt.Errorf("manager: journal is required")
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 30 * time.Second
	}
	return &Manager{opts: opts, loops: make(map[string]*trader.Loop), baseCtx: context.Background()}, nil
}

// SetContext 注入宿主 ctx，循环以它为父 context。
func (m *Manager) SetContext(ctx context.Context) {
	if ctx != nil {
		m.baseCtx = ctx
	}
}

// RunConfig 把请求与 trading 默认值合并为规范化后的运行配置。
func (m *Manager) RunConfig(req StartRequest) trader.RunConfig {
	def := m.opts.Trading
	rc := trader.RunConfig{
		Symbol:           firstNonEmpty(req.Symbol, def.Symbol),
		MarketType:       firstNonEmpty(req.MarketType, m.opts.Market.MarketType),
		Timeframe:        firstNonEmpty(req.Timeframe, def.Timeframe),
		InvestmentAmount: req.InvestmentAmount,
		Leverage:         req.Leverage,
		MaxOpenPositions: req.MaxOpenPositions,
		Strategy:         firstNonEmpty(req.Strategy, def.Strategy),
		PaperTrading:     def.PaperTrading,
		Model:            firstNonEmpty(req.Model, m.opts.Oracle.Model),
		QuoteAsset:       def.QuoteAsset,
	}
	if rc.InvestmentAmount <= 0 {
		rc.InvestmentAmount = def.InvestmentAmount
	}
	if rc.Leverage <= 0 {
		rc.Leverage = def.Leverage
	}
	if rc.MaxOpenPositions <= 0 {
		rc.MaxOpenPositions = def.MaxOpenPositions
	}
	if req.CheckInterval > 0 {
		rc.CheckInterval = time.Duration(req.CheckInterval) * time.Second
	} else {
		rc.CheckInterval = def.CheckInterval()
	}
	if req.PaperTrading != nil {
		rc.PaperTrading = *req.PaperTrading
	}
	return rc.Normalize()
}

// resolveKeys 依次使用请求、配置表、静态配置中的密钥。
func (m *Manager) resolveKeys(ctx context.Context, req Keys) Keys {
	return Keys{
		APIKey:       firstNonEmpty(req.APIKey, m.stored(ctx, KeyBinanceAPIKey), m.opts.Market.APIKey),
		SecretKey:    firstNonEmpty(req.SecretKey, m.stored(ctx, KeyBinanceSecretKey), m.opts.Market.SecretKey),
		OracleAPIKey: firstNonEmpty(req.OracleAPIKey, m.stored(ctx, KeyOracleAPIKey), m.opts.Oracle.APIKey),
	}
}

func (m *Manager) stored(ctx context.Context, key string) string {
	if m.opts.Configs == nil {
		return ""
	}
	v, err := m.opts.Configs.GetConfig(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.Warnf("[manager] read config %s failed: %v", key, err)
		}
		return ""
	}
	return v
}

// Start 启动一个 symbol 的循环。已在运行时返回 already_running 且不报错。
func (m *Manager) Start(ctx context.Context, req StartRequest) (StartResult, error) {
	rc := m.RunConfig(req)
	if err := rc.Validate(); err != nil {
		return StartResult{Config: rc}, err
	}

	// 配置表读取走 SQLite，放在锁外
	keys := m.resolveKeys(ctx, req.Keys)

	m.mu.Lock()
	if loop, ok := m.loops[rc.Symbol]; ok && loop.Running() {
		m.mu.Unlock()
		return StartResult{Status: StatusAlreadyRunning, Config: loop.Config()}, nil
	}
	loop := trader.NewLoop(rc, func(ctx context.Context, cfg trader.RunConfig) (*trader.Cycle, error) {
		deps, err := m.opts.Factory.Build(ctx, cfg, keys)
		if err != nil {
			return nil, err
		}
		deps.Config = cfg
		return trader.NewCycle(deps)
	}, m.opts.Journal)
	m.loops[rc.Symbol] = loop
	m.mu.Unlock()

	if err := loop.Start(m.ctx()); err != nil {
		if errors.Is(err, trader.ErrAlreadyRunning) {
			return StartResult{Status: StatusAlreadyRunning, Config: loop.Config()}, nil
		}
		if errors.Is(err, trader.ErrStoppedDuringInit) {
			logger.Infof("[manager] loop %s stopped before initialization finished", rc.Symbol)
			return StartResult{Status: StatusStopped, Config: loop.Config()}, nil
		}
		return StartResult{Config: rc}, err
	}
	logger.Infof("[manager] loop %s started (paper=%t interval=%s)", rc.Symbol, rc.PaperTrading, rc.CheckInterval)
	return StartResult{Status: StatusStarted, Config: loop.Config()}, nil
}

func (m *Manager) ctx() context.Context {
	if m.baseCtx == nil {
		return context.Background()
	}
	return m.baseCtx
}

// Stop 请求停止一个 symbol 的循环，在当前 cycle 结束后生效。
func (m *Manager) Stop(sym string) error {
	key := normalizeKey(sym)
	m.mu.Lock()
	loop, ok := m.loops[key]
	m.mu.Unlock()
	if !ok || !loop.Running() {
		return fmt.Errorf("%w: %s", ErrNotRunning, key)
	}
	loop.Stop()
	m.opts.Journal.Record(m.ctx(), journal.LevelInfo, journal.ComponentOrchestrator, "stop requested", map[string]any{"symbol": key})
	return nil
}

// StopAll 停止全部循环并等待退出（每个最多 StopTimeout），返回被停止的 symbol。
func (m *Manager) StopAll() []string {
	m.mu.Lock()
	loops := make(map[string]*trader.Loop, len(m.loops))
	for k, v := range m.loops {
		loops[k] = v
	}
	m.mu.Unlock()

	var stopped []string
	for sym, loop := range loops {
		if !loop.Running() {
			continue
		}
		loop.Stop()
		stopped = append(stopped, sym)
	}
	for _, sym := range stopped {
		done := loops[sym].Done()
		if done == nil {
			continue
		}
		select {
		case <-done:
		case <-time.After(m.opts.StopTimeout):
			logger.Warnf("[manager] loop %s did not stop within %s", sym, m.opts.StopTimeout)
		}
	}
	sort.Strings(stopped)
	return stopped
}

// Status 返回所有已知循环的快照，按 symbol 排序。
func (m *Manager) Status() []trader.Snapshot {
	m.mu.Lock()
	out := make([]trader.Snapshot, 0, len(m.loops))
	for _, loop := range m.loops {
		out = append(out, loop.Snapshot())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Config.Symbol < out[j].Config.Symbol })
	return out
}

// Get 返回单个 symbol 的快照。
func (m *Manager) Get(sym string) (trader.Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loop, ok := m.loops[normalizeKey(sym)]
	if !ok {
		return trader.Snapshot{}, false
	}
	return loop.Snapshot(), true
}

// Running 返回正在运行的 symbol 数量。
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, loop := range m.loops {
		if loop.Running() {
			n++
		}
	}
	return n
}

func normalizeKey(sym string) string {
	if norm := symbol.Normalize(sym); norm != "" {
		return norm
	}
	return strings.ToUpper(strings.TrimSpace(sym))
}
