package trader

import (
	"context"
	"errors"
	"sync"
	"time"

	"agentrade/internal/journal"
	"agentrade/internal/scheduler"
)

type State string

const (
	StateStopped State = "STOPPED"
	StateRunning State = "RUNNING"
)

// ErrAlreadyRunning 由 Start 在循环已运行时返回；调用方应视为 no-op。
var ErrAlreadyRunning = errors.New("already_running")

// ErrStoppedDuringInit 表示初始化期间收到了 Stop，循环未进入运行。
var ErrStoppedDuringInit = errors.New("stopped during initialization")

// Initializer 构建一次运行所需的 Cycle（交易所客户端、模型客户端等）。
type Initializer func(ctx context.Context, cfg RunConfig) (*Cycle, error)

// Snapshot 是对外展示的运行状态。
type Snapshot struct {
	State      State     `json:"state"`
	Config     RunConfig `json:"config"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	Cycles     int       `json:"cycles"`
	LastRunAt  time.Time `json:"last_run_at,omitempty"`
	LastPrice  float64   `json:"last_price,omitempty"`
	LastAction string    `json:"last_action,omitempty"`
	OpenCount  int       `json:"open_positions"`
	LastError  string    `json:"last_error,omitempty"`
}

// Loop 是一个 symbol 的运行上下文：STOPPED → RUNNING → STOPPED。
type Loop struct {
	cfg     RunConfig
	init    Initializer
	journal EventLog

	mu   sync.Mutex
	snap Snapshot
	task *scheduler.Task
	done chan struct{}
	// 初始化期间收到的 Stop，task 尚未创建
	stopPending bool
}

func NewLoop(cfg RunConfig, init Initializer, log EventLog) *Loop {
	cfg = cfg.Normalize()
	if log == nil {
		log = nopEventLog{}
	}
	return &Loop{
		cfg:     cfg,
		init:    init,
		journal: log,
		snap:    Snapshot{State: StateStopped, Config: cfg},
	}
}

// Start 初始化依赖并在后台运行；ctx 只用于初始化和作为循环的父 context。
// 初始化失败时状态保持 STOPPED 并返回 error。
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.snap.State == StateRunning {
		l.mu.Unlock()
		return ErrAlreadyRunning
	}
	// 先占位，避免并发 Start 重复初始化。
	l.snap.State = StateRunning
	l.stopPending = false
	l.task, l.done = nil, nil
	l.mu.Unlock()

	cycle, err := l.initCycle(ctx)
	if err != nil {
		l.mu.Lock()
		l.snap.State = StateStopped
		l.stopPending = false
		l.snap.LastError = err.Error()
		l.mu.Unlock()
		l.journal.Record(ctx, journal.LevelError, journal.ComponentOrchestrator, "trading loop initialization failed",
			map[string]any{"symbol": l.cfg.Symbol, "error": err.Error()})
		return err
	}

	task := scheduler.NewTask("trader-"+l.cfg.Symbol, l.cfg.CheckInterval)
	done := make(chan struct{})
	l.mu.Lock()
	if l.stopPending {
		l.stopPending = false
		l.snap.State = StateStopped
		l.mu.Unlock()
		l.journal.Record(ctx, journal.LevelInfo, journal.ComponentOrchestrator, "trading loop stopped",
			map[string]any{"symbol": l.cfg.Symbol, "cycles": 0, "reason": "stopped during initialization"})
		return ErrStoppedDuringInit
	}
	l.task = task
	l.done = done
	l.snap = Snapshot{State: StateRunning, Config: l.cfg, StartedAt: time.Now().UTC()}
	l.mu.Unlock()

	l.journal.Record(ctx, journal.LevelInfo, journal.ComponentOrchestrator, "trading loop started", map[string]any{
		"symbol":    l.cfg.Symbol,
		"timeframe": l.cfg.Timeframe,
		"paper":     l.cfg.PaperTrading,
		"interval":  l.cfg.CheckInterval.String(),
	})
	go l.run(ctx, task, cycle, done)
	return nil
}

func (l *Loop) initCycle(ctx context.Context) (cycle *Cycle, err error) {
	if l.init == nil {
		return nil, errors.New("trader: no initializer")
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("trader: initializer panicked")
		}
	}()
	return l.init(ctx, l.cfg)
}

func (l *Loop) run(ctx context.Context, task *scheduler.Task, cycle *Cycle, done chan struct{}) {
	reason := "stopped"
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			reason = "panic"
		}
		if ctx.Err() != nil {
			reason = "context cancelled"
		}
		l.mu.Lock()
		l.snap.State = StateStopped
		cycles := l.snap.Cycles
		l.mu.Unlock()
		l.journal.Record(context.WithoutCancel(ctx), journal.LevelInfo, journal.ComponentOrchestrator, "trading loop stopped",
			map[string]any{"symbol": l.cfg.Symbol, "cycles": cycles, "reason": reason})
	}()
	task.Run(ctx, func(ctx context.Context) time.Duration {
		out := cycle.Run(ctx)
		l.record(out)
		return out.RetryAfter
	})
}

func (l *Loop) record(out Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snap.Cycles++
	l.snap.LastRunAt = time.Now().UTC()
	if out.Price > 0 {
		l.snap.LastPrice = out.Price
	}
	l.snap.OpenCount = out.OpenCount
	if out.Action != "" {
		l.snap.LastAction = out.Action
	}
	l.snap.LastError = ""
	if out.Err != nil {
		l.snap.LastError = out.Err.Error()
	}
}

// Stop 是协作式的：正在执行的 cycle 会跑完，下一次等待前退出。
// 初始化尚未完成时记下请求，由 Start 在初始化结束后直接回到 STOPPED。
func (l *Loop) Stop() {
	l.mu.Lock()
	task := l.task
	if l.snap.State == StateRunning && task == nil {
		l.stopPending = true
	}
	l.mu.Unlock()
	if task != nil {
		task.Stop()
	}
}

// Done 在后台 goroutine 退出且最终日志写完后关闭；未启动时返回 nil。
func (l *Loop) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snap.State == StateRunning
}

func (l *Loop) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snap
}

func (l *Loop) Config() RunConfig { return l.cfg }
