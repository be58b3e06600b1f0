package backtesthttp

import (
	"errors"
	"net/http"
	"strconv"

	"agentrade/internal/backtest"
	"agentrade/internal/logger"

	"github.com/gin-gonic/gin"
)

// Router 提供 /api/backtest 接口：提交、查询、图表与进度推送。
type Router struct {
	svc *backtest.Service
}

// NewRouter 构建回测路由。
func NewRouter(svc *backtest.Service) (*Router, error) {
	if svc == nil {
		return nil, errors.New("service 不能为空")
	}
	return &Router{svc: svc}, nil
}

// Register 将回测路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.POST("/runs", r.handleRunStart)
	group.GET("/runs", r.handleRunList)
	group.GET("/runs/:id", r.handleRunDetail)
	group.GET("/runs/:id/chart", r.handleRunChart)
	group.GET("/runs/:id/stream", r.handleRunStream)
}

type runRequest struct {
	Symbol         string  `json:"symbol" binding:"required"`
	Timeframe      string  `json:"timeframe" binding:"required"`
	Strategy       string  `json:"strategy"`
	InitialCapital float64 `json:"initial_capital"`
}

func (r *Router) handleRunStart(c *gin.Context) {
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	job, err := r.svc.Submit(backtest.ParseRequest(req.Symbol, req.Timeframe, req.Strategy, req.InitialCapital))
	if err != nil {
		if errors.Is(err, backtest.ErrRateLimited) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] backtest %s submitted %s %s ip=%s", job.ID, job.Request.Symbol, job.Request.Timeframe, c.ClientIP())
	c.JSON(http.StatusAccepted, gin.H{"run": job})
}

func (r *Router) handleRunList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := r.svc.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// handleRunDetail 返回落库的运行与成交；运行中的任务额外带上内存进度。
func (r *Router) handleRunDetail(c *gin.Context) {
	id := c.Param("id")
	run, trades, err := r.svc.GetRun(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, backtest.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := gin.H{"run": run, "trades": trades}
	if job, ok := r.svc.Job(id); ok {
		out["progress"] = job.Progress
	}
	c.JSON(http.StatusOK, out)
}

func (r *Router) handleRunChart(c *gin.Context) {
	html, err := r.svc.Chart(c.Request.Context(), c.Param("id"))
	if err != nil {
		status := http.StatusConflict
		if errors.Is(err, backtest.ErrRunNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

