package scheduler

import (
	"context"
	"sync"
	"time"

	"agentrade/internal/logger"
)

// Step 执行一次迭代；返回值 >0 时覆盖下一次等待时长。
type Step func(ctx context.Context) time.Duration

// Task 顺序执行 Step，两次迭代之间挂起 Interval。
// Stop 是协作式的：只在挂起边界生效，不会打断正在执行的 Step。
type Task struct {
	Name     string
	Interval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

func NewTask(name string, interval time.Duration) *Task {
	return &Task{
		Name:     name,
		Interval: interval,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run blocks until Stop is called or ctx is cancelled.
func (t *Task) Run(ctx context.Context, step Step) {
	defer close(t.done)
	if step == nil {
		logger.Warnf("scheduler %s: step is nil, exit", t.Name)
		return
	}
	if t.Interval <= 0 {
		logger.Warnf("scheduler %s: invalid interval=%s, exit", t.Name, t.Interval)
		return
	}
	iteration := 0
	for {
		if t.stopRequested() || ctx.Err() != nil {
			return
		}
		iteration++
		wait := step(ctx)
		if wait <= 0 {
			wait = t.Interval
		}
		logger.Debugf("scheduler %s: iteration %d done, next in %s", t.Name, iteration, wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-t.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Stop is idempotent.
func (t *Task) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}

func (t *Task) Done() <-chan struct{} {
	return t.done
}

func (t *Task) stopRequested() bool {
	select {
	case <-t.stopCh:
		return true
	default:
		return false
	}
}
