package backtesthttp

import (
	"errors"
	"net/http"
	"time"

	"agentrade/internal/backtest"
	"agentrade/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// streamMessage 为推送给客户端的一帧。
type streamMessage struct {
	Type     string             `json:"type"`
	Progress *backtest.Progress `json:"progress,omitempty"`
	Job      *backtest.Job      `json:"job,omitempty"`
}

// handleRunStream 以 websocket 推送进度，任务结束时发送 done 帧并关闭。
func (r *Router) handleRunStream(c *gin.Context) {
	id := c.Param("id")
	ch, cancel, err := r.svc.Subscribe(id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, backtest.ErrJobNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	defer cancel()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("[api] backtest stream %s upgrade failed: %v", id, err)
		return
	}
	defer conn.Close()

	// 读循环只处理 pong/close，客户端断开后结束推送
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case p, ok := <-ch:
			if !ok {
				r.sendDone(conn, id)
				return
			}
			if err := writeJSON(conn, streamMessage{Type: "progress", Progress: &p}); err != nil {
				logger.Debugf("[api] backtest stream %s write failed: %v", id, err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (r *Router) sendDone(conn *websocket.Conn, id string) {
	msg := streamMessage{Type: "done"}
	if job, ok := r.svc.Job(id); ok {
		job.Result = nil
		msg.Job = &job
	}
	if err := writeJSON(conn, msg); err != nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
}

func writeJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}
