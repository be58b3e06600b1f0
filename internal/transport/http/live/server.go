package livehttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"agentrade/internal/logger"
	"agentrade/internal/store"
	"agentrade/internal/trader"

	"github.com/gin-gonic/gin"
)

// Server 提供 /api 与 /api/history 的 HTTP 服务，其它模块可通过 Routes 挂载额外分组。
type Server struct {
	addr   string
	router *gin.Engine
}

// Registrar 把一组路由挂到给定分组下。
type Registrar interface {
	Register(group *gin.RouterGroup)
}

// Mount 描述一个挂载点，例如 /api/backtest。
type Mount struct {
	Prefix string
	Routes Registrar
}

// ServerConfig 描述 live HTTP 服务依赖。
type ServerConfig struct {
	Addr    string
	Loops   LoopController
	Ledger  store.Ledger
	Journal trader.EventLog
	Mounts  []Mount
}

// NewServer 构建 live HTTP server。
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Loops == nil {
		return nil, errors.New("live http server requires a loop controller")
	}
	if cfg.Ledger == nil {
		return nil, errors.New("live http server requires a ledger")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8000"
	}
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	live := NewRouter(cfg.Loops, cfg.Ledger, cfg.Journal)
	live.Register(router.Group("/api"))
	NewHistoryRouter(cfg.Ledger).Register(router.Group("/api/history"))
	for _, m := range cfg.Mounts {
		if m.Routes == nil || m.Prefix == "" {
			continue
		}
		m.Routes.Register(router.Group(m.Prefix))
	}
	return &Server{addr: cfg.Addr, router: router}, nil
}

// requestLogger 以 DEBUG 级别记录每个请求。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery
		client := c.ClientIP()
		c.Next()
		dur := time.Since(start)
		status := c.Writer.Status()
		fullPath := path
		if query != "" {
			fullPath = path + "?" + query
		}
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s", method, fullPath, status, client, dur)
	}
}

// Handler 暴露底层路由，便于测试与嵌入。
func (s *Server) Handler() http.Handler {
	if s == nil {
		return nil
	}
	return s.router
}

// Addr 返回监听地址。
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("[http] listening on %s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
