// Package exchange defines the execution venue abstraction used by the
// trading core, so paper and real trading share one code path.
package exchange

import (
	"fmt"
	"strings"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the unwind side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

const (
	MarketSpot   = "spot"
	MarketFuture = "future"
)

// NormalizeMarketType maps "futures"/"FUTURE"/"" to the canonical names.
func NormalizeMarketType(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "spot":
		return MarketSpot
	default:
		return MarketFuture
	}
}

// Balance of a single asset.
type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

func (b Balance) Total() float64 { return b.Free + b.Locked }

// Position is the venue's net view: Size > 0 long, < 0 short, 0 flat.
type Position struct {
	Symbol     string
	Size       float64
	EntryPrice float64
}

func (p Position) Flat() bool { return p.Size == 0 }

type OrderRequest struct {
	Symbol     string
	Side       Side
	Type       OrderType
	Quantity   float64
	Price      float64
	ReduceOnly bool
}

func (r OrderRequest) Validate() error {
	if strings.TrimSpace(r.Symbol) == "" {
		return fmt.Errorf("order: symbol 必填")
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return fmt.Errorf("order: 非法 side %q", r.Side)
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("order: quantity 必须为正, got %v", r.Quantity)
	}
	switch r.Type {
	case OrderTypeMarket, "":
	case OrderTypeLimit:
		if r.Price <= 0 {
			return fmt.Errorf("order: limit 单需要价格")
		}
	default:
		return fmt.Errorf("order: 非法类型 %q", r.Type)
	}
	return nil
}

type OrderAck struct {
	OrderID     string
	Status      string
	ExecutedQty float64
	AvgPrice    float64
}
