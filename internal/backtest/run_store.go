package backtest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

var ErrRunNotFound = errors.New("backtest run not found")

// Run 为 backtest_runs 中的一行。
type Run struct {
	ID             string        `json:"id"`
	Symbol         string        `json:"symbol"`
	Timeframe      string        `json:"timeframe"`
	Strategy       string        `json:"strategy"`
	Status         string        `json:"status"`
	InitialCapital float64       `json:"initial_capital"`
	FinalCapital   float64       `json:"final_capital"`
	TotalPnL       float64       `json:"total_pnl"`
	ReturnPct      float64       `json:"return_pct"`
	WinRate        float64       `json:"win_rate"`
	MaxDrawdownPct float64       `json:"max_drawdown_pct"`
	TotalTrades    int           `json:"total_trades"`
	Wins           int           `json:"wins"`
	Losses         int           `json:"losses"`
	Candles        int           `json:"candles"`
	OracleCalls    int           `json:"oracle_calls"`
	EquityCurve    []EquityPoint `json:"equity_curve,omitempty"`
	Message        string        `json:"message,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	CompletedAt    time.Time     `json:"completed_at,omitempty"`
}

// Result 把落库的运行还原为回测结果，失败的运行只带 Error。
func (r Run) Result(trades []ClosedTrade) Result {
	if r.Status == RunStatusFailed {
		return errorResult(r.Message)
	}
	return Result{
		Symbol:         r.Symbol,
		Timeframe:      r.Timeframe,
		Strategy:       r.Strategy,
		InitialCapital: r.InitialCapital,
		Candles:        r.Candles,
		OracleCalls:    r.OracleCalls,
		TotalTrades:    r.TotalTrades,
		Wins:           r.Wins,
		Losses:         r.Losses,
		TotalPnL:       r.TotalPnL,
		FinalCapital:   r.FinalCapital,
		EquityCurve:    r.EquityCurve,
		Trades:         trades,
	}
}

// ResultStore 管理 backtest_runs/backtest_trades 表。
type ResultStore struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

func NewResultStore(root string) (*ResultStore, error) {
	if root == "" {
		return nil, fmt.Errorf("result store root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(root, "backtests.db")
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureResultSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &ResultStore{db: db, path: path}, nil
}

func (s *ResultStore) Path() string { return s.path }

func (s *ResultStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureResultSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS backtest_runs (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			strategy TEXT NOT NULL,
			status TEXT NOT NULL,
			initial_capital REAL NOT NULL,
			final_capital REAL NOT NULL DEFAULT 0,
			total_pnl REAL NOT NULL DEFAULT 0,
			return_pct REAL NOT NULL DEFAULT 0,
			win_rate REAL NOT NULL DEFAULT 0,
			max_drawdown REAL NOT NULL DEFAULT 0,
			total_trades INTEGER NOT NULL DEFAULT 0,
			wins INTEGER NOT NULL DEFAULT 0,
			losses INTEGER NOT NULL DEFAULT 0,
			candles INTEGER NOT NULL DEFAULT 0,
			oracle_calls INTEGER NOT NULL DEFAULT 0,
			equity_json TEXT,
			message TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			completed_at INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS backtest_trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			direction TEXT NOT NULL,
			action TEXT NOT NULL,
			entry_price REAL NOT NULL,
			exit_price REAL NOT NULL,
			quantity REAL NOT NULL,
			pnl REAL NOT NULL,
			pnl_pct REAL NOT NULL,
			reason TEXT NOT NULL,
			entry_ts INTEGER NOT NULL,
			exit_ts INTEGER NOT NULL,
			FOREIGN KEY(run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_backtest_trades_run ON backtest_trades(run_id);`,
		`CREATE INDEX IF NOT EXISTS idx_backtest_runs_created ON backtest_runs(created_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *ResultStore) conn() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("result store 未初始化")
	}
	return s.db, nil
}

// InsertRun 写入一条新运行记录（通常为 pending 状态）。
func (s *ResultStore) InsertRun(ctx context.Context, run Run) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if run.ID == "" {
		return fmt.Errorf("run id 不能为空")
	}
	if run.Status == "" {
		run.Status = RunStatusPending
	}
	now := time.Now().UnixMilli()
	_, err = db.ExecContext(ctx, `INSERT INTO backtest_runs (
		id, symbol, timeframe, strategy, status, initial_capital, message, created_at, updated_at, completed_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		run.ID, run.Symbol, run.Timeframe, run.Strategy, run.Status, run.InitialCapital,
		run.Message, now, now, nullableTime(run.CompletedAt))
	return err
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

// UpdateRunStatus 仅更新状态与消息；进入终态时写 completed_at。
func (s *ResultStore) UpdateRunStatus(ctx context.Context, id, status, message string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	res, err := db.ExecContext(ctx, `UPDATE backtest_runs SET status=?, message=?, updated_at=?,
		completed_at=CASE WHEN ? IN ('done','failed') THEN ? ELSE completed_at END WHERE id=?`,
		status, message, now, status, now, id)
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

// FinishRun 在一个事务里写入汇总指标与全部成交。Error 结果将运行标记为 failed。
func (s *ResultStore) FinishRun(ctx context.Context, id string, res Result) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if res.Failed() {
		return s.UpdateRunStatus(ctx, id, RunStatusFailed, res.Error)
	}
	equityJSON, err := json.Marshal(res.EquityCurve)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	out, err := tx.ExecContext(ctx, `UPDATE backtest_runs SET status=?, final_capital=?, total_pnl=?, return_pct=?,
		win_rate=?, max_drawdown=?, total_trades=?, wins=?, losses=?, candles=?, oracle_calls=?, equity_json=?,
		message='', updated_at=?, completed_at=? WHERE id=?`,
		RunStatusDone, res.FinalCapital, res.TotalPnL, res.ReturnPct(), res.WinRate(), res.MaxDrawdownPct(),
		res.TotalTrades, res.Wins, res.Losses, res.Candles, res.OracleCalls, string(equityJSON), now, now, id)
	if err != nil {
		return err
	}
	if err := requireRow(out, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM backtest_trades WHERE run_id=?`, id); err != nil {
		return err
	}
	for _, t := range res.Trades {
		if _, err := tx.ExecContext(ctx, `INSERT INTO backtest_trades (
			run_id, direction, action, entry_price, exit_price, quantity, pnl, pnl_pct, reason, entry_ts, exit_ts)
			VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
			id, t.Direction, t.Action, t.EntryPrice, t.ExitPrice, t.Quantity, t.PnL, t.PnLPct, t.Reason,
			t.EntryTime.UnixMilli(), t.ExitTime.UnixMilli()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

const runColumns = `id, symbol, timeframe, strategy, status, initial_capital, final_capital, total_pnl, return_pct,
	win_rate, max_drawdown, total_trades, wins, losses, candles, oracle_calls, equity_json, message,
	created_at, updated_at, completed_at`

// ListRuns 按创建时间倒序返回，默认 50 条，最多 100 条。
func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `SELECT `+runColumns+` FROM backtest_runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		// 列表不带资金曲线
		run.EquityCurve = nil
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *ResultStore) GetRun(ctx context.Context, id string) (Run, error) {
	db, err := s.conn()
	if err != nil {
		return Run{}, err
	}
	row := db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM backtest_runs WHERE id=?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// ListTrades 按开仓时间顺序返回一次运行的全部成交。
func (s *ResultStore) ListTrades(ctx context.Context, runID string) ([]ClosedTrade, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT direction, action, entry_price, exit_price, quantity, pnl, pnl_pct,
		reason, entry_ts, exit_ts FROM backtest_trades WHERE run_id=? ORDER BY entry_ts ASC, id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var trades []ClosedTrade
	for rows.Next() {
		var t ClosedTrade
		var entryTS, exitTS int64
		if err := rows.Scan(&t.Direction, &t.Action, &t.EntryPrice, &t.ExitPrice, &t.Quantity, &t.PnL, &t.PnLPct,
			&t.Reason, &entryTS, &exitTS); err != nil {
			return nil, err
		}
		t.EntryTime = timeFromMillis(entryTS).UTC()
		t.ExitTime = timeFromMillis(exitTS).UTC()
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (Run, error) {
	var run Run
	var equity sql.NullString
	var createdAt, updatedAt int64
	var completedAt sql.NullInt64
	if err := row.Scan(&run.ID, &run.Symbol, &run.Timeframe, &run.Strategy, &run.Status,
		&run.InitialCapital, &run.FinalCapital, &run.TotalPnL, &run.ReturnPct, &run.WinRate, &run.MaxDrawdownPct,
		&run.TotalTrades, &run.Wins, &run.Losses, &run.Candles, &run.OracleCalls, &equity, &run.Message,
		&createdAt, &updatedAt, &completedAt); err != nil {
		return Run{}, err
	}
	run.CreatedAt = timeFromMillis(createdAt)
	run.UpdatedAt = timeFromMillis(updatedAt)
	if completedAt.Valid {
		run.CompletedAt = timeFromMillis(completedAt.Int64)
	}
	if equity.Valid && equity.String != "" {
		if err := json.Unmarshal([]byte(equity.String), &run.EquityCurve); err != nil {
			return Run{}, err
		}
	}
	return run, nil
}

func timeFromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.Unix(0, ms*int64(time.Millisecond))
}
