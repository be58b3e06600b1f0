package market

import "context"

// Source 提供按时间升序排列的 K 线序列。
type Source interface {
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)

func (f SourceFunc) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	return f(ctx, symbol, timeframe, limit)
}
