package binance

import (
	"context"
	"fmt"
	"strings"

	"agentrade/internal/market"
)

const maxKlineLimit = 1000

var _ market.Source = (*Client)(nil)

// FetchCandles returns klines oldest first. The newest bar may still be
// forming; its close is the latest traded price.
func (c *Client) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxKlineLimit {
		limit = maxKlineLimit
	}
	venue, err := venueSymbol(symbol)
	if err != nil {
		return nil, err
	}
	interval := market.NormalizeTimeframe(timeframe)
	if !market.IsSupportedTimeframe(interval) {
		return nil, fmt.Errorf("binance: unsupported timeframe %q", timeframe)
	}
	if c.isFutures() {
		return c.futuresKlines(ctx, venue, interval, limit)
	}
	return c.spotKlines(ctx, venue, interval, limit)
}

func (c *Client) spotKlines(ctx context.Context, venue, interval string, limit int) ([]market.Candle, error) {
	kls, err := c.spot.NewKlinesService().Symbol(venue).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance spot klines %s %s: %w", venue, interval, err)
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
		})
	}
	return out, nil
}

func (c *Client) futuresKlines(ctx context.Context, venue, interval string, limit int) ([]market.Candle, error) {
	kls, err := c.futures.NewKlinesService().Symbol(venue).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance futures klines %s %s: %w", venue, interval, err)
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
		})
	}
	return out, nil
}

// FundingRate 返回最新资金费率（0.0001 即 0.01%），仅合约可用。
func (c *Client) FundingRate(ctx context.Context, symbol string) (float64, error) {
	if !c.isFutures() {
		return 0, fmt.Errorf("binance: funding rate requires futures market")
	}
	venue, err := venueSymbol(symbol)
	if err != nil {
		return 0, err
	}
	res, err := c.futures.NewPremiumIndexService().Symbol(venue).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("binance premium index %s: %w", venue, err)
	}
	for _, entry := range res {
		if entry != nil && strings.EqualFold(entry.Symbol, venue) {
			return parseFloat(entry.LastFundingRate), nil
		}
	}
	return 0, fmt.Errorf("binance: funding rate not available for %s", symbol)
}
