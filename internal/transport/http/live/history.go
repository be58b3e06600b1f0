package livehttp

import (
	"net/http"
	"strings"

	"agentrade/internal/logger"
	"agentrade/internal/pkg/symbol"
	"agentrade/internal/store"

	"github.com/gin-gonic/gin"
)

const maxHistoryLimit = 1000

// HistoryRouter 提供成交、决策与统计的只读查询。
type HistoryRouter struct {
	Ledger store.Ledger
}

func NewHistoryRouter(ledger store.Ledger) *HistoryRouter {
	return &HistoryRouter{Ledger: ledger}
}

func (h *HistoryRouter) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/trades", h.handleTrades)
	group.GET("/decisions", h.handleDecisions)
	group.GET("/stats", h.handleStats)
}

func (h *HistoryRouter) handleTrades(c *gin.Context) {
	filter := store.TradeFilter{
		Symbol: querySymbol(c),
		Limit:  queryLimit(c, store.DefaultQueryLimit, maxHistoryLimit),
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status := store.TradeStatus(strings.ToUpper(raw))
		if status != store.TradeStatusOpen && status != store.TradeStatusClosed {
			c.JSON(http.StatusBadRequest, gin.H{"error": "status must be OPEN or CLOSED"})
			return
		}
		filter.Status = status
	}
	trades, err := h.Ledger.ListTrades(c.Request.Context(), filter)
	if err != nil {
		logger.Errorf("[api] list trades failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]TradeView, 0, len(trades))
	for _, t := range trades {
		out = append(out, newTradeView(t))
	}
	c.JSON(http.StatusOK, gin.H{"trades": out})
}

func (h *HistoryRouter) handleDecisions(c *gin.Context) {
	filter := store.DecisionFilter{
		Symbol: querySymbol(c),
		Limit:  queryLimit(c, store.DefaultQueryLimit, maxHistoryLimit),
	}
	list, err := h.Ledger.ListDecisions(c.Request.Context(), filter)
	if err != nil {
		logger.Errorf("[api] list decisions failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": list})
}

func (h *HistoryRouter) handleStats(c *gin.Context) {
	stats, err := h.Ledger.TradeStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// querySymbol 接受 BTCUSDT / btc/usdt 等写法，统一为 BTC/USDT。
func querySymbol(c *gin.Context) string {
	raw := strings.TrimSpace(c.Query("symbol"))
	if norm := symbol.Normalize(raw); norm != "" {
		return norm
	}
	return raw
}
