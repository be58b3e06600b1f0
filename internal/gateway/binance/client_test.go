package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"agentrade/internal/gateway/exchange"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVenue struct {
	mu       sync.Mutex
	orders   []map[string]string
	hits     map[string]int
	orderErr bool
}

func (f *fakeVenue) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		if f.hits == nil {
			f.hits = make(map[string]int)
		}
		f.hits[r.URL.Path]++
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		path := r.URL.Path
		switch {
		case strings.HasSuffix(path, "/klines"):
			_, _ = w.Write([]byte(`[
				[1704067200000,"100.0","110.0","95.0","105.0","12.5",1704070799999,"1300",10,"6","600","0"],
				[1704070800000,"105.0","106.0","99.0","101.5","8.0",1704074399999,"800",8,"4","400","0"]
			]`))
		case strings.HasSuffix(path, "/exchangeInfo"):
			_, _ = w.Write([]byte(`{"symbols":[{"symbol":"BTCUSDT","filters":[{"filterType":"LOT_SIZE","minQty":"0.001","maxQty":"1000","stepSize":"0.001"}]}]}`))
		case strings.HasSuffix(path, "/balance"):
			_, _ = w.Write([]byte(`[{"accountAlias":"x","asset":"USDT","balance":"1000.5","availableBalance":"900.5"}]`))
		case strings.HasSuffix(path, "/account"):
			_, _ = w.Write([]byte(`{"balances":[{"asset":"USDT","free":"50.0","locked":"1.0"},{"asset":"BTC","free":"0.0004","locked":"0"}]}`))
		case strings.HasSuffix(path, "/positionRisk"):
			_, _ = w.Write([]byte(`[{"symbol":"BTCUSDT","positionAmt":"-0.010","entryPrice":"50000"}]`))
		case strings.HasSuffix(path, "/leverage"):
			_, _ = w.Write([]byte(`{"leverage":5,"maxNotionalValue":"1000000","symbol":"BTCUSDT"}`))
		case strings.HasSuffix(path, "/order"):
			assert.NoError(t, r.ParseForm())
			f.mu.Lock()
			f.orders = append(f.orders, map[string]string{
				"symbol":     r.FormValue("symbol"),
				"side":       r.FormValue("side"),
				"type":       r.FormValue("type"),
				"quantity":   r.FormValue("quantity"),
				"reduceOnly": r.FormValue("reduceOnly"),
			})
			fail := f.orderErr
			f.mu.Unlock()
			if fail {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"code":-2019,"msg":"Margin is insufficient."}`))
				return
			}
			_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","orderId":42,"status":"FILLED","executedQty":"0.123","avgPrice":"50100","cummulativeQuoteQty":"6162.3"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func newTestClient(t *testing.T, marketType string) (*Client, *fakeVenue) {
	t.Helper()
	venue := &fakeVenue{}
	srv := httptest.NewServer(venue.handler(t))
	t.Cleanup(srv.Close)
	c, err := New(Config{
		APIKey:         "key",
		SecretKey:      "secret",
		MarketType:     marketType,
		SpotBaseURL:    srv.URL,
		FuturesBaseURL: srv.URL,
	})
	require.NoError(t, err)
	return c, venue
}

func TestFetchCandles(t *testing.T) {
	for _, mt := range []string{"spot", "future"} {
		t.Run(mt, func(t *testing.T) {
			c, _ := newTestClient(t, mt)
			candles, err := c.FetchCandles(context.Background(), "BTC/USDT", "1h", 2)
			require.NoError(t, err)
			require.Len(t, candles, 2)
			assert.Equal(t, int64(1704067200000), candles[0].OpenTime)
			assert.Equal(t, 105.0, candles[0].Close)
			assert.Equal(t, 101.5, candles[1].Close)
			assert.Equal(t, 8.0, candles[1].Volume)
		})
	}
}

func TestFetchCandles_Invalid(t *testing.T) {
	c, _ := newTestClient(t, "future")
	_, err := c.FetchCandles(context.Background(), "BTC", "1h", 10)
	assert.Error(t, err)
	_, err = c.FetchCandles(context.Background(), "BTC/USDT", "7m", 10)
	assert.Error(t, err)
}

func TestFuturesBalanceAndPosition(t *testing.T) {
	c, _ := newTestClient(t, "futures")
	assert.Equal(t, "binance-futures", c.Name())

	bal, err := c.FetchBalance(context.Background(), "usdt")
	require.NoError(t, err)
	assert.Equal(t, "USDT", bal.Asset)
	assert.InDelta(t, 900.5, bal.Free, 1e-9)
	assert.InDelta(t, 1000.5, bal.Total(), 1e-9)

	pos, err := c.FetchOpenPosition(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.InDelta(t, -0.01, pos.Size, 1e-12)
	assert.Equal(t, 50000.0, pos.EntryPrice)
	assert.False(t, pos.Flat())
}

func TestSpotBalanceAndDustPosition(t *testing.T) {
	c, _ := newTestClient(t, "spot")
	bal, err := c.FetchBalance(context.Background(), "USDT")
	require.NoError(t, err)
	assert.Equal(t, 50.0, bal.Free)
	assert.Equal(t, 1.0, bal.Locked)

	// 0.0004 BTC < minQty 0.001 → flat
	pos, err := c.FetchOpenPosition(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.True(t, pos.Flat())
}

func TestSubmitOrder_RoundsToStep(t *testing.T) {
	c, venue := newTestClient(t, "future")
	ack, err := c.SubmitOrder(context.Background(), exchange.OrderRequest{
		Symbol:     "BTC/USDT",
		Side:       exchange.SideSell,
		Quantity:   0.12345,
		ReduceOnly: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "42", ack.OrderID)
	assert.Equal(t, "FILLED", ack.Status)
	assert.Equal(t, 50100.0, ack.AvgPrice)

	venue.mu.Lock()
	defer venue.mu.Unlock()
	require.Len(t, venue.orders, 1)
	assert.Equal(t, "BTCUSDT", venue.orders[0]["symbol"])
	assert.Equal(t, "SELL", venue.orders[0]["side"])
	assert.Equal(t, "MARKET", venue.orders[0]["type"])
	assert.Equal(t, "0.123", venue.orders[0]["quantity"])
	assert.Equal(t, "true", venue.orders[0]["reduceOnly"])
}

func TestSubmitOrder_Errors(t *testing.T) {
	c, venue := newTestClient(t, "future")
	_, err := c.SubmitOrder(context.Background(), exchange.OrderRequest{Symbol: "BTC/USDT", Side: exchange.SideBuy, Quantity: 0.0004})
	assert.ErrorContains(t, err, "lot size")

	venue.mu.Lock()
	venue.orderErr = true
	venue.mu.Unlock()
	_, err = c.SubmitOrder(context.Background(), exchange.OrderRequest{Symbol: "BTC/USDT", Side: exchange.SideBuy, Quantity: 1})
	assert.Error(t, err)
}

func TestSetLeverage(t *testing.T) {
	spot, venue := newTestClient(t, "spot")
	require.NoError(t, spot.SetLeverage(context.Background(), "BTC/USDT", 5))
	venue.mu.Lock()
	assert.Empty(t, venue.hits)
	venue.mu.Unlock()

	fut, venue := newTestClient(t, "future")
	require.NoError(t, fut.SetLeverage(context.Background(), "BTC/USDT", 5))
	venue.mu.Lock()
	assert.Len(t, venue.hits, 1)
	venue.mu.Unlock()
}

func TestLotSizeRounding(t *testing.T) {
	lot, err := newLotSize("0.01", "0.02")
	require.NoError(t, err)
	q, ok := lot.roundQty(0.0299)
	assert.True(t, ok)
	assert.Equal(t, "0.02", q.String())
	_, ok = lot.roundQty(0.019)
	assert.False(t, ok)

	q, ok = lotSize{}.roundQty(0.0021234567)
	assert.True(t, ok)
	assert.Equal(t, "0.002123", q.String())
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Testnet: true, MarketType: "futures"}
	final := cfg.withDefaults()
	assert.Equal(t, futuresTestnetURL, final.FuturesBaseURL)
	assert.Equal(t, spotTestnetURL, final.SpotBaseURL)
	assert.Equal(t, exchange.MarketFuture, final.MarketType)
}
