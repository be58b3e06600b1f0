package binance

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"agentrade/internal/gateway/exchange"
	"agentrade/internal/pkg/netutil"
	symbolpkg "agentrade/internal/pkg/symbol"

	binanceapi "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
)

// Client 同时实现 market.Source 与 exchange.Exchange，按 MarketType 走现货或合约接口。
type Client struct {
	cfg     Config
	spot    *binanceapi.Client
	futures *futures.Client

	lotMu sync.Mutex
	lots  map[string]lotSize
}

var _ exchange.Exchange = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	final := cfg.withDefaults()
	httpClient, err := netutil.NewHTTPClient(final.HTTPTimeout, final.ProxyURL)
	if err != nil {
		return nil, fmt.Errorf("binance: %w", err)
	}

	spot := binanceapi.NewClient(final.APIKey, final.SecretKey)
	spot.BaseURL = final.SpotBaseURL
	spot.HTTPClient = httpClient

	fut := futures.NewClient(final.APIKey, final.SecretKey)
	fut.BaseURL = final.FuturesBaseURL
	fut.HTTPClient = httpClient

	return &Client{
		cfg:     final,
		spot:    spot,
		futures: fut,
		lots:    make(map[string]lotSize),
	}, nil
}

func (c *Client) Name() string {
	if c.isFutures() {
		return "binance-futures"
	}
	return "binance-spot"
}

func (c *Client) MarketType() string { return c.cfg.MarketType }

func (c *Client) isFutures() bool {
	return c.cfg.MarketType == exchange.MarketFuture
}

// venueSymbol converts "BTC/USDT" to "BTCUSDT".
func venueSymbol(symbol string) (string, error) {
	sym := symbolpkg.Parse(symbol)
	if !sym.Valid() {
		return "", fmt.Errorf("binance: invalid symbol %q", symbol)
	}
	return sym.Binance(), nil
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
