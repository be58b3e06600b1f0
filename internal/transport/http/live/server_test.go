package livehttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentrade/internal/manager"
	"agentrade/internal/pkg/symbol"
	"agentrade/internal/store"
	"agentrade/internal/store/gormstore"
	"agentrade/internal/trader"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeLoops 模拟 manager：记录启动请求，按 symbol 维护运行状态。
type fakeLoops struct {
	mu      sync.Mutex
	running map[string]trader.RunConfig
	reqs    []manager.StartRequest
}

func newFakeLoops() *fakeLoops {
	return &fakeLoops{running: map[string]trader.RunConfig{}}
}

func (f *fakeLoops) Start(_ context.Context, req manager.StartRequest) (manager.StartResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	sym := symbol.Normalize(req.Symbol)
	if sym == "" {
		sym = "BTC/USDT"
	}
	rc := trader.RunConfig{Symbol: sym, Timeframe: "1h", PaperTrading: true}
	if req.Timeframe == "7m" {
		return manager.StartResult{Config: rc}, fmt.Errorf("run config: unsupported timeframe %q", req.Timeframe)
	}
	if cfg, ok := f.running[sym]; ok {
		return manager.StartResult{Status: manager.StatusAlreadyRunning, Config: cfg}, nil
	}
	f.running[sym] = rc
	return manager.StartResult{Status: manager.StatusStarted, Config: rc}, nil
}

func (f *fakeLoops) Stop(sym string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := symbol.Normalize(sym)
	if _, ok := f.running[key]; !ok {
		return fmt.Errorf("%w: %s", manager.ErrNotRunning, key)
	}
	delete(f.running, key)
	return nil
}

func (f *fakeLoops) StopAll() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.running))
	for sym := range f.running {
		out = append(out, sym)
	}
	sort.Strings(out)
	f.running = map[string]trader.RunConfig{}
	return out
}

func (f *fakeLoops) Status() []trader.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]trader.Snapshot, 0, len(f.running))
	for _, rc := range f.running {
		out = append(out, trader.Snapshot{State: trader.StateRunning, Config: rc})
	}
	return out
}

func newTestServer(t *testing.T) (*Server, *fakeLoops, *gormstore.GormStore) {
	t.Helper()
	ledger, err := gormstore.NewGormStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })
	loops := newFakeLoops()
	srv, err := NewServer(ServerConfig{Loops: loops, Ledger: ledger})
	require.NoError(t, err)
	return srv, loops, ledger
}

func do(t *testing.T, srv *Server, method, path, body string) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	out := map[string]any{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func TestNewServerRequiresDeps(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)
	_, err = NewServer(ServerConfig{Loops: newFakeLoops()})
	assert.Error(t, err)
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)
	code, body := do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestStartNeverEchoesKeys(t *testing.T) {
	srv, loops, _ := newTestServer(t)
	code, body := do(t, srv, http.MethodPost, "/api/start",
		`{"symbol":"ethusdt","api_key":"AK-SECRET","secret_key":"SK-SECRET","oracle_api_key":"OK-SECRET"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, manager.StatusStarted, body["status"])
	cfg, ok := body["config"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ETH/USDT", cfg["symbol"])

	raw, _ := json.Marshal(body)
	assert.NotContains(t, string(raw), "SECRET")

	require.Len(t, loops.reqs, 1)
	assert.Equal(t, "AK-SECRET", loops.reqs[0].APIKey)
	assert.Equal(t, "OK-SECRET", loops.reqs[0].OracleAPIKey)

	code, body = do(t, srv, http.MethodPost, "/api/start", `{"symbol":"ETH/USDT"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, manager.StatusAlreadyRunning, body["status"])
}

func TestStartWithoutBodyUsesDefaults(t *testing.T) {
	srv, loops, _ := newTestServer(t)
	code, body := do(t, srv, http.MethodPost, "/api/start", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, manager.StatusStarted, body["status"])
	require.Len(t, loops.reqs, 1)
	assert.Equal(t, manager.StartRequest{}, loops.reqs[0])
}

func TestStartErrors(t *testing.T) {
	srv, _, _ := newTestServer(t)
	code, body := do(t, srv, http.MethodPost, "/api/start", `{"timeframe":"7m"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["error"], "unsupported timeframe")

	code, _ = do(t, srv, http.MethodPost, "/api/start", `{"symbol":`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestStopAndStatus(t *testing.T) {
	srv, _, _ := newTestServer(t)
	do(t, srv, http.MethodPost, "/api/start", `{"symbol":"BTCUSDT"}`)
	do(t, srv, http.MethodPost, "/api/start", `{"symbol":"ETHUSDT"}`)

	code, body := do(t, srv, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), body["running"])

	code, body = do(t, srv, http.MethodPost, "/api/stop", `{"symbol":"eth/usdt"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, manager.StatusStopped, body["status"])

	code, body = do(t, srv, http.MethodPost, "/api/stop", `{"symbol":"ETH/USDT"}`)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, manager.StatusNotRunning, body["status"])

	code, body = do(t, srv, http.MethodPost, "/api/stop", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"BTC/USDT"}, body["symbols"])

	_, body = do(t, srv, http.MethodPost, "/api/stop", "")
	assert.Equal(t, manager.StatusNotRunning, body["status"])
}

func TestConfigRoundTripMasksSecrets(t *testing.T) {
	srv, _, ledger := newTestServer(t)
	code, body := do(t, srv, http.MethodPost, "/api/config", `{"binance_api_key":"abcdef123456","default_symbol":"ETH/USDT"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"binance_api_key", "default_symbol"}, body["keys"])

	v, err := ledger.GetConfig(context.Background(), "binance_api_key")
	require.NoError(t, err)
	assert.Equal(t, "abcdef123456", v)

	code, body = do(t, srv, http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, code)
	entries, ok := body["config"].([]any)
	require.True(t, ok)
	values := map[string]string{}
	for _, e := range entries {
		m := e.(map[string]any)
		values[m["key"].(string)] = m["value"].(string)
	}
	assert.Equal(t, "********3456", values["binance_api_key"])
	assert.Equal(t, "ETH/USDT", values["default_symbol"])

	code, _ = do(t, srv, http.MethodPost, "/api/config", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestLogsFilterAndClear(t *testing.T) {
	srv, _, ledger := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, ledger.AppendLog(ctx, &store.LogEntry{Level: "INFO", Component: "Orchestrator", Message: "started"}))
	require.NoError(t, ledger.AppendLog(ctx, &store.LogEntry{Level: "ERROR", Component: "BinanceAgent", Message: "boom"}))

	code, body := do(t, srv, http.MethodGet, "/api/logs?level=error", "")
	require.Equal(t, http.StatusOK, code)
	logs := body["logs"].([]any)
	require.Len(t, logs, 1)
	assert.Equal(t, "boom", logs[0].(map[string]any)["message"])

	_, body = do(t, srv, http.MethodGet, "/api/logs?component=Orchestrator&limit=5", "")
	assert.Len(t, body["logs"], 1)

	code, body = do(t, srv, http.MethodDelete, "/api/logs", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), body["deleted"])
}

func TestHistoryTradesJoinDecision(t *testing.T) {
	srv, _, ledger := newTestServer(t)
	ctx := context.Background()
	sl, tp := 98.0, 104.0
	d := &store.Decision{Symbol: "BTC/USDT", Timeframe: "1h", Action: store.ActionBuy, Confidence: 0.85, StopLoss: &sl, TakeProfit: &tp, Reasoning: "breakout"}
	require.NoError(t, ledger.InsertDecision(ctx, d))
	tr := &store.Trade{Symbol: "BTC/USDT", Action: store.ActionBuy, Amount: 100, Quantity: 1, EntryPrice: 100, DecisionID: &d.ID}
	require.NoError(t, ledger.InsertTrade(ctx, tr))
	closed := &store.Trade{Symbol: "ETH/USDT", Action: store.ActionSell, Amount: 50, Quantity: 1, EntryPrice: 50}
	require.NoError(t, ledger.InsertTrade(ctx, closed))
	require.NoError(t, ledger.CloseTrade(ctx, closed.ID, store.TradeFill{ExitPrice: 49, ProfitLoss: 1, ProfitLossPct: 2}))

	code, body := do(t, srv, http.MethodGet, "/api/history/trades?symbol=BTCUSDT", "")
	require.Equal(t, http.StatusOK, code)
	trades := body["trades"].([]any)
	require.Len(t, trades, 1)
	row := trades[0].(map[string]any)
	assert.Equal(t, "BTC/USDT", row["symbol"])
	assert.InDelta(t, 0.85, row["confidence"], 1e-9)
	assert.Equal(t, 98.0, row["stop_loss"])
	assert.Equal(t, 104.0, row["take_profit"])

	_, body = do(t, srv, http.MethodGet, "/api/history/trades?status=closed", "")
	trades = body["trades"].([]any)
	require.Len(t, trades, 1)
	assert.Equal(t, "ETH/USDT", trades[0].(map[string]any)["symbol"])
	assert.Nil(t, trades[0].(map[string]any)["confidence"])

	code, _ = do(t, srv, http.MethodGet, "/api/history/trades?status=pending", "")
	assert.Equal(t, http.StatusBadRequest, code)

	_, body = do(t, srv, http.MethodGet, "/api/history/decisions?symbol=BTC/USDT", "")
	assert.Len(t, body["decisions"], 1)

	code, body = do(t, srv, http.MethodGet, "/api/history/stats", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), body["total_trades"])
	assert.Equal(t, float64(1), body["open_trades"])
	assert.Equal(t, float64(1), body["wins"])
	assert.InDelta(t, 1.0, body["total_profit_loss"], 1e-9)
}

type pingRoutes struct{}

func (pingRoutes) Register(group *gin.RouterGroup) {
	group.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"pong": true}) })
}

func TestMounts(t *testing.T) {
	ledger, err := gormstore.NewGormStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })
	srv, err := NewServer(ServerConfig{Loops: newFakeLoops(), Ledger: ledger, Mounts: []Mount{{Prefix: "/api/extra", Routes: pingRoutes{}}}})
	require.NoError(t, err)
	code, body := do(t, srv, http.MethodGet, "/api/extra/ping", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["pong"])
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "***", maskSecret("abc"))
	assert.Equal(t, "********wxyz", maskSecret("0123456789wxyz"))
	assert.True(t, isSecretKey("oracle_api_key"))
	assert.False(t, isSecretKey("default_symbol"))
}
