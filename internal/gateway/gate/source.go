package gate

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"agentrade/internal/logger"
	"agentrade/internal/market"
	"agentrade/internal/pkg/netutil"
	symbolpkg "agentrade/internal/pkg/symbol"

	"github.com/antihax/optional"
	gateapi "github.com/gateio/gateapi-go/v7"
)

const gateMaxHistoryLimit = 2000

// gate 用 7d 表示周线。
var gateIntervals = map[string]string{
	"1w": "7d",
}

// Source 是基于 gate 永续合约 K 线的 market.Source，只读行情。
type Source struct {
	cfg  Config
	rest *gateapi.APIClient
}

var _ market.Source = (*Source)(nil)

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	httpClient, err := netutil.NewHTTPClient(final.HTTPTimeout, final.ProxyURL)
	if err != nil {
		return nil, fmt.Errorf("gate: %w", err)
	}
	conf := gateapi.NewConfiguration()
	conf.BasePath = final.RESTBaseURL
	conf.HTTPClient = httpClient
	return &Source{cfg: final, rest: gateapi.NewAPIClient(conf)}, nil
}

func (s *Source) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > gateMaxHistoryLimit {
		limit = gateMaxHistoryLimit
	}
	sym := symbolpkg.Parse(symbol)
	if !sym.Valid() {
		return nil, fmt.Errorf("gate: invalid symbol %q", symbol)
	}
	tf := market.NormalizeTimeframe(timeframe)
	dur, ok := market.TimeframeDuration(tf)
	if !ok {
		return nil, fmt.Errorf("gate: unsupported timeframe %q", timeframe)
	}
	interval := tf
	if mapped, ok := gateIntervals[tf]; ok {
		interval = mapped
	}

	opts := &gateapi.ListFuturesCandlesticksOpts{
		Limit:    optional.NewInt32(int32(limit)),
		Interval: optional.NewString(interval),
	}
	kls, _, err := s.rest.FuturesApi.ListFuturesCandlesticks(ctx, s.cfg.Settle, sym.Gate(), opts)
	if err != nil {
		logger.Errorf("[gate] fetch kline failed %s %s limit=%d: %v", symbol, interval, limit, err)
		return nil, fmt.Errorf("gate candlesticks %s %s: %w", sym.Gate(), interval, err)
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		openTime := int64(kl.T * 1000)
		out = append(out, market.Candle{
			OpenTime:  openTime,
			CloseTime: openTime + dur.Milliseconds() - 1,
			Open:      parseFloat(kl.O),
			High:      parseFloat(kl.H),
			Low:       parseFloat(kl.L),
			Close:     parseFloat(kl.C),
			Volume:    parseFloat(kl.Sum),
		})
	}
	return out, nil
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
