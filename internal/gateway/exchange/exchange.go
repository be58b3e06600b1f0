package exchange

import "context"

// Exchange is the execution venue used by real-mode trading.
type Exchange interface {
	Name() string

	// FetchBalance returns the balance of one asset (e.g. "USDT").
	FetchBalance(ctx context.Context, asset string) (Balance, error)

	// FetchOpenPosition reports the venue's net exposure on symbol.
	FetchOpenPosition(ctx context.Context, symbol string) (Position, error)

	// SubmitOrder rounds the quantity to the venue's lot size before sending.
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderAck, error)

	// SetLeverage is a no-op on spot venues.
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}
