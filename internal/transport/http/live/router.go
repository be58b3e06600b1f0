package livehttp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"agentrade/internal/journal"
	"agentrade/internal/logger"
	"agentrade/internal/manager"
	"agentrade/internal/store"
	"agentrade/internal/trader"

	"github.com/gin-gonic/gin"
)

const maxLogLimit = 1000

// Router 暴露实盘控制接口：启动/停止循环、运行时配置与系统日志。
type Router struct {
	Loops   LoopController
	Ledger  store.Ledger
	Journal trader.EventLog
}

// NewRouter 构造 live HTTP router。
func NewRouter(loops LoopController, ledger store.Ledger, events trader.EventLog) *Router {
	return &Router{Loops: loops, Ledger: ledger, Journal: events}
}

// Register 将 /api 路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.GET("/status", r.handleStatus)
	group.GET("/config", r.handleConfigList)
	group.POST("/config", r.handleConfigSave)
	group.GET("/logs", r.handleLogs)
	group.DELETE("/logs", r.handleLogsClear)
}

func (r *Router) handleStart(c *gin.Context) {
	var req manager.StartRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := r.Loops.Start(c.Request.Context(), req)
	if err != nil {
		logger.Warnf("[api] start %s failed ip=%s err=%v", res.Config.Symbol, c.ClientIP(), err)
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error(), "config": res.Config})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (r *Router) handleStop(c *gin.Context) {
	var req stopRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Symbol == "" {
		req.Symbol = strings.TrimSpace(c.Query("symbol"))
	}
	if strings.TrimSpace(req.Symbol) == "" {
		stopped := r.Loops.StopAll()
		if len(stopped) == 0 {
			c.JSON(http.StatusOK, gin.H{"status": manager.StatusNotRunning, "symbols": []string{}})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": manager.StatusStopped, "symbols": stopped})
		return
	}
	if err := r.Loops.Stop(req.Symbol); err != nil {
		if errors.Is(err, manager.ErrNotRunning) {
			c.JSON(http.StatusNotFound, gin.H{"status": manager.StatusNotRunning, "error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": manager.StatusStopped, "symbols": []string{req.Symbol}})
}

func (r *Router) handleStatus(c *gin.Context) {
	loops := r.Loops.Status()
	running := 0
	for _, snap := range loops {
		if snap.State == trader.StateRunning {
			running++
		}
	}
	c.JSON(http.StatusOK, gin.H{"running": running, "loops": loops})
}

func (r *Router) handleConfigList(c *gin.Context) {
	entries, err := r.Ledger.ListConfig(c.Request.Context())
	if err != nil {
		logger.Errorf("[api] list config failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]configView, 0, len(entries))
	for _, e := range entries {
		view := configView{Key: e.Key, Value: e.Value, UpdatedAt: e.UpdatedAt}
		if isSecretKey(e.Key) {
			view.Value = maskSecret(e.Value)
			view.Masked = true
		}
		out = append(out, view)
	}
	c.JSON(http.StatusOK, gin.H{"config": out})
}

func (r *Router) handleConfigSave(c *gin.Context) {
	var values map[string]string
	if err := c.ShouldBindJSON(&values); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	clean := make(map[string]string, len(values))
	for k, v := range values {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		clean[k] = strings.TrimSpace(v)
	}
	if len(clean) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no config values provided"})
		return
	}
	if err := r.Ledger.SaveConfig(c.Request.Context(), clean); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	keys := make([]string, 0, len(clean))
	for k := range clean {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	r.record(c.Request.Context(), "config updated", map[string]any{"keys": strings.Join(keys, ",")})
	c.JSON(http.StatusOK, gin.H{"status": "saved", "keys": keys})
}

func (r *Router) handleLogs(c *gin.Context) {
	filter := store.LogFilter{
		Level:     strings.ToUpper(strings.TrimSpace(c.Query("level"))),
		Component: strings.TrimSpace(c.Query("component")),
		Limit:     queryLimit(c, 100, maxLogLimit),
	}
	logs, err := r.Ledger.ListLogs(c.Request.Context(), filter)
	if err != nil {
		logger.Errorf("[api] list logs failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (r *Router) handleLogsClear(c *gin.Context) {
	n, err := r.Ledger.ClearLogs(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] cleared %d system logs ip=%s", n, c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"status": "cleared", "deleted": n})
}

func (r *Router) record(ctx context.Context, message string, details map[string]any) {
	if r.Journal == nil {
		return
	}
	r.Journal.Record(ctx, journal.LevelInfo, journal.ComponentOrchestrator, message, details)
}

// bindOptionalJSON 允许空 body。
func bindOptionalJSON(c *gin.Context, dst any) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func queryLimit(c *gin.Context, def, max int) int {
	raw := strings.TrimSpace(c.Query("limit"))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func isSecretKey(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "key") || strings.Contains(k, "secret") || strings.Contains(k, "token")
}

// maskSecret 只保留末 4 位。
func maskSecret(v string) string {
	if len(v) <= 4 {
		return strings.Repeat("*", len(v))
	}
	return strings.Repeat("*", 8) + v[len(v)-4:]
}

