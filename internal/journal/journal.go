// Package journal is the audit log used by the trading core: every entry goes
// to the process logger and is appended to the ledger's system_logs table.
package journal

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"agentrade/internal/logger"
	"agentrade/internal/store"
)

type Level string

const (
	LevelDebug   Level = "DEBUG"
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// Components used across the core.
const (
	ComponentOrchestrator = "Orchestrator"
	ComponentPositions    = "PositionManager"
	ComponentExchange     = "BinanceAgent"
	ComponentOracle       = "OracleAgent"
	ComponentBacktest     = "Backtest"
)

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarning:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Sink persists entries; store.Ledger satisfies it.
type Sink interface {
	AppendLog(ctx context.Context, e *store.LogEntry) error
}

type Journal struct {
	sink Sink
	now  func() time.Time
}

// New returns a Journal; a nil sink only writes to the process logger.
func New(sink Sink) *Journal {
	return &Journal{sink: sink, now: func() time.Time { return time.Now().UTC() }}
}

// Record never fails: persistence errors are reported on the process logger.
func (j *Journal) Record(ctx context.Context, level Level, component, message string, details map[string]any) {
	attrs := make([]any, 0, 2+2*len(details))
	attrs = append(attrs, "component", component)
	for _, k := range sortedKeys(details) {
		attrs = append(attrs, k, details[k])
	}
	logger.Log(level.slogLevel(), message, attrs...)

	if j == nil || j.sink == nil {
		return
	}
	entry := &store.LogEntry{
		Timestamp: j.now(),
		Level:     string(level),
		Component: component,
		Message:   message,
	}
	if len(details) > 0 {
		if raw, err := json.Marshal(details); err == nil {
			entry.Details = string(raw)
		} else {
			logger.Warnf("journal: details 序列化失败: %v", err)
		}
	}
	if err := j.sink.AppendLog(ctx, entry); err != nil {
		logger.Errorf("journal: 写入 system_logs 失败: %v", err)
	}
}

func (j *Journal) Info(ctx context.Context, component, message string, details map[string]any) {
	j.Record(ctx, LevelInfo, component, message, details)
}

func (j *Journal) Warn(ctx context.Context, component, message string, details map[string]any) {
	j.Record(ctx, LevelWarning, component, message, details)
}

func (j *Journal) Error(ctx context.Context, component, message string, details map[string]any) {
	j.Record(ctx, LevelError, component, message, details)
}

func sortedKeys(m map[string]any) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
