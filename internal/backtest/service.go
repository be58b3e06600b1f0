package backtest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"agentrade/internal/gateway/notifier"
	"agentrade/internal/logger"
	"agentrade/internal/market"
)

var (
	ErrRateLimited = errors.New("too many backtest submissions, retry later")
	ErrJobNotFound = errors.New("backtest job not found")
)

// Engine 执行单次回测，*Runner 满足它。
type Engine interface {
	Run(ctx context.Context, req Request, obs Observer) Result
}

// ServiceConfig 配置 Service。
type ServiceConfig struct {
	Engine          Engine
	Store           *ResultStore
	Notifier        notifier.TextNotifier
	MaxConcurrent   int
	RateLimitPerMin int
}

// Job 为内存中的任务视图；完成后 Result 有值。
type Job struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Request   Request   `json:"request"`
	Progress  Progress  `json:"progress"`
	Message   string    `json:"message,omitempty"`
	Result    *Result   `json:"result,omitempty"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`

	done chan struct{}
}

func (j *Job) copy() Job {
	out := *j
	out.Progress.Log = append([]string(nil), j.Progress.Log...)
	out.done = nil
	return out
}

// Service 负责提交、排队、进度广播与落库。
type Service struct {
	engine   Engine
	store    *ResultStore
	notifier notifier.TextNotifier
	validate *validator.Validate

	limiter *rate.Limiter
	sem     chan struct{}

	mu   sync.RWMutex
	jobs map[string]*Job
	subs map[string]map[chan Progress]struct{}

	baseCtx context.Context
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("backtest engine 不能为空")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("result store 不能为空")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notifier.Nop{}
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	perMin := cfg.RateLimitPerMin
	if perMin <= 0 {
		perMin = 30
	}
	return &Service{
		engine:   cfg.Engine,
		store:    cfg.Store,
		notifier: cfg.Notifier,
		validate: validator.New(),
		limiter:  rate.NewLimiter(rate.Limit(float64(perMin)/60.0), maxConcurrent*2),
		sem:      make(chan struct{}, maxConcurrent),
		jobs:     make(map[string]*Job),
		subs:     make(map[string]map[chan Progress]struct{}),
		baseCtx:  context.Background(),
	}, nil
}

// SetContext 注入宿主 ctx，关闭时取消所有进行中的回测。
func (s *Service) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Service) ctx() context.Context {
	if s.baseCtx == nil {
		return context.Background()
	}
	return s.baseCtx
}

// Submit 校验请求、写入 pending 记录并异步执行。
func (s *Service) Submit(req Request) (Job, error) {
	req = req.normalize()
	if err := s.validate.Struct(req); err != nil {
		return Job{}, fmt.Errorf("invalid backtest request: %w", err)
	}
	if !market.IsSupportedTimeframe(req.Timeframe) {
		return Job{}, fmt.Errorf("unsupported timeframe %q", req.Timeframe)
	}
	if !s.limiter.Allow() {
		return Job{}, ErrRateLimited
	}
	now := time.Now().UTC()
	job := &Job{
		ID:        uuid.NewString(),
		Status:    RunStatusPending,
		Request:   req,
		StartedAt: now,
		UpdatedAt: now,
		done:      make(chan struct{}),
	}
	if err := s.store.InsertRun(s.ctx(), Run{
		ID:             job.ID,
		Symbol:         req.Symbol,
		Timeframe:      req.Timeframe,
		Strategy:       req.Strategy,
		Status:         RunStatusPending,
		InitialCapital: req.InitialCapital,
	}); err != nil {
		return Job{}, fmt.Errorf("persist backtest run: %w", err)
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	snap := job.copy()
	s.mu.Unlock()
	logger.Infof("[backtest] 任务 %s 提交：%s %s strategy=%s capital=%.2f", job.ID, req.Symbol, req.Timeframe, req.Strategy, req.InitialCapital)

	go s.runJob(job.ID, req)
	return snap, nil
}

func (s *Service) runJob(id string, req Request) {
	ctx := s.ctx()
	defer s.finishJob(id)
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		s.complete(ctx, id, errorResult(fmt.Sprintf("cancelled: %v", ctx.Err())))
		return
	}
	defer func() { <-s.sem }()

	s.setStatus(id, RunStatusRunning, "")
	if err := s.store.UpdateRunStatus(ctx, id, RunStatusRunning, ""); err != nil {
		logger.Warnf("[backtest] 任务 %s 状态更新失败: %v", id, err)
	}

	var res Result
	func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[backtest] 任务 %s panic: %v", id, r)
				res = errorResult(fmt.Sprintf("panic: %v", r))
			}
		}()
		res = s.engine.Run(ctx, req, ObserverFunc(func(p Progress) error {
			s.publish(id, p)
			return nil
		}))
	}()
	s.complete(ctx, id, res)
}

func (s *Service) complete(ctx context.Context, id string, res Result) {
	status := RunStatusDone
	if res.Failed() {
		status = RunStatusFailed
	}
	// 取消后仍需落库终态
	persistCtx := context.WithoutCancel(ctx)
	if err := s.store.FinishRun(persistCtx, id, res); err != nil {
		logger.Errorf("[backtest] 任务 %s 结果落库失败: %v", id, err)
	}
	s.mu.Lock()
	job, ok := s.jobs[id]
	if ok {
		job.Status = status
		job.Message = res.Error
		job.Result = &res
		job.UpdatedAt = time.Now().UTC()
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	logger.Infof("[backtest] 任务 %s 完成 status=%s trades=%d pnl=%.4f", id, status, res.TotalTrades, res.TotalPnL)
	s.notifySummary(persistCtx, id, job.Request, res)
}

func (s *Service) finishJob(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs[id] {
		close(ch)
	}
	delete(s.subs, id)
	if job, ok := s.jobs[id]; ok && job.done != nil {
		close(job.done)
		job.done = nil
	}
}

func (s *Service) setStatus(id, status, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		job.Status = status
		job.Message = msg
		job.UpdatedAt = time.Now().UTC()
	}
}

// publish 更新任务进度并扇出给订阅者；慢订阅者直接丢弃本条。
func (s *Service) publish(id string, p Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		job.Progress = p
		job.UpdatedAt = time.Now().UTC()
	}
	for ch := range s.subs[id] {
		select {
		case ch <- p:
		default:
		}
	}
}

// Subscribe 订阅进度。任务结束时通道被关闭；已结束的任务返回已关闭的通道。
func (s *Service) Subscribe(id string) (<-chan Progress, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	ch := make(chan Progress, 16)
	if job.done == nil {
		ch <- job.Progress
		close(ch)
		return ch, func() {}, nil
	}
	if s.subs[id] == nil {
		s.subs[id] = make(map[chan Progress]struct{})
	}
	s.subs[id][ch] = struct{}{}
	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[id][ch]; ok {
			delete(s.subs[id], ch)
			close(ch)
		}
	}
	return ch, cancel, nil
}

// Job 返回内存中的任务快照。
func (s *Service) Job(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return job.copy(), true
}

// Wait 阻塞到任务结束或 ctx 取消。
func (s *Service) Wait(ctx context.Context, id string) (Job, error) {
	s.mu.RLock()
	job, ok := s.jobs[id]
	var done chan struct{}
	if ok {
		done = job.done
	}
	s.mu.RUnlock()
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return Job{}, ctx.Err()
		}
	}
	out, _ := s.Job(id)
	return out, nil
}

func (s *Service) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	return s.store.ListRuns(ctx, limit)
}

// GetRun 读取落库的运行及成交。
func (s *Service) GetRun(ctx context.Context, id string) (Run, []ClosedTrade, error) {
	run, err := s.store.GetRun(ctx, id)
	if err != nil {
		return Run{}, nil, err
	}
	trades, err := s.store.ListTrades(ctx, id)
	if err != nil {
		return Run{}, nil, err
	}
	return run, trades, nil
}

// Chart 渲染一次运行的 HTML 图表；内存中仍有 K 线时带价格图。
func (s *Service) Chart(ctx context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	job, ok := s.jobs[id]
	var res *Result
	if ok && job.Result != nil {
		res = job.Result
	}
	s.mu.RUnlock()
	if res != nil {
		return RenderEquityChart(*res)
	}
	run, trades, err := s.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.Status != RunStatusDone {
		return nil, fmt.Errorf("backtest %s is %s", id, run.Status)
	}
	return RenderEquityChart(run.Result(trades))
}

func (s *Service) notifySummary(ctx context.Context, id string, req Request, res Result) {
	msg := notifier.StructuredMessage{
		Icon:      "📊",
		Title:     fmt.Sprintf("回测完成 %s %s", req.Symbol, req.Timeframe),
		Footer:    "run " + id,
		Timestamp: time.Now().UTC(),
	}
	if res.Failed() {
		msg.Icon = "⚠️"
		msg.Title = fmt.Sprintf("回测失败 %s %s", req.Symbol, req.Timeframe)
		msg.Sections = []notifier.MessageSection{{Title: "错误", Lines: []string{res.Error}}}
	} else {
		msg.Sections = []notifier.MessageSection{{
			Title: "结果",
			Lines: []string{
				notifier.KV("策略", req.Strategy),
				notifier.KV("交易数", res.TotalTrades),
				notifier.KV("胜/负", fmt.Sprintf("%d/%d", res.Wins, res.Losses)),
				notifier.KV("总盈亏", fmt.Sprintf("%.4f", res.TotalPnL)),
				notifier.KV("期末资金", fmt.Sprintf("%.2f", res.FinalCapital)),
				notifier.KV("收益率", fmt.Sprintf("%.2f%%", res.ReturnPct())),
				notifier.KV("最大回撤", fmt.Sprintf("%.2f%%", res.MaxDrawdownPct())),
			},
		}}
	}
	if err := s.notifier.SendText(ctx, msg.RenderMarkdown()); err != nil {
		logger.Warnf("[backtest] 推送回测摘要失败: %v", err)
	}
}

// ParseRequest 辅助 CLI/HTTP：空白策略使用默认值。
func ParseRequest(symbol, timeframe, strategy string, capital float64) Request {
	return Request{
		Symbol:         strings.TrimSpace(symbol),
		Timeframe:      timeframe,
		Strategy:       strategy,
		InitialCapital: capital,
	}.normalize()
}
