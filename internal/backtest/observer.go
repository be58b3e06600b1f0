package backtest

import (
	"fmt"
	"sync"
	"time"

	"agentrade/internal/logger"
)

// Progress 是推送给观察者的快照。Log 为有界滚动日志的副本。
type Progress struct {
	Processed int       `json:"processed"`
	Total     int       `json:"total"`
	Capital   float64   `json:"capital"`
	Message   string    `json:"message"`
	Log       []string  `json:"log"`
	At        time.Time `json:"at"`
}

func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Processed) / float64(p.Total) * 100
}

// Observer 接收进度。返回的 error 只会被记录。
type Observer interface {
	OnProgress(p Progress) error
}

type ObserverFunc func(p Progress) error

func (f ObserverFunc) OnProgress(p Progress) error { return f(p) }

// rollingLog 保留最新的 cap 行。
type rollingLog struct {
	mu    sync.Mutex
	cap   int
	lines []string
}

func newRollingLog(capacity int) *rollingLog {
	if capacity <= 0 {
		capacity = 200
	}
	return &rollingLog{cap: capacity, lines: make([]string, 0, capacity)}
}

func (l *rollingLog) Add(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.lines) >= l.cap {
		copy(l.lines, l.lines[1:])
		l.lines = l.lines[:len(l.lines)-1]
	}
	l.lines = append(l.lines, line)
}

func (l *rollingLog) Snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

// notifyObserver 调用观察者；panic 与 error 都被吞掉。
func notifyObserver(obs Observer, p Progress) {
	if obs == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warnf("[backtest] observer panicked: %v", r)
		}
	}()
	if err := obs.OnProgress(p); err != nil {
		logger.Debugf("[backtest] observer error: %v", err)
	}
}

func progressLine(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}
