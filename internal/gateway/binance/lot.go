package binance

import (
	"context"
	"fmt"
	"strings"

	"agentrade/internal/logger"

	"github.com/shopspring/decimal"
)

// 交易所信息不可用时的数量精度兜底。
const fallbackQtyPlaces = 6

type lotSize struct {
	step   decimal.Decimal
	minQty decimal.Decimal
}

// roundQty floors qty to the step; ok=false when nothing is left.
func (l lotSize) roundQty(qty float64) (decimal.Decimal, bool) {
	d := decimal.NewFromFloat(qty)
	if l.step.IsPositive() {
		d = d.Div(l.step).Floor().Mul(l.step)
	} else {
		d = d.Truncate(fallbackQtyPlaces)
	}
	if !d.IsPositive() {
		return d, false
	}
	if l.minQty.IsPositive() && d.LessThan(l.minQty) {
		return d, false
	}
	return d, true
}

func (c *Client) lotFor(ctx context.Context, venue string) lotSize {
	c.lotMu.Lock()
	cached, ok := c.lots[venue]
	c.lotMu.Unlock()
	if ok {
		return cached
	}
	lot, err := c.fetchLot(ctx, venue)
	if err != nil {
		logger.Warnf("[binance] exchangeInfo %s 失败，使用 %d 位精度: %v", venue, fallbackQtyPlaces, err)
		return lotSize{}
	}
	c.lotMu.Lock()
	c.lots[venue] = lot
	c.lotMu.Unlock()
	return lot
}

func (c *Client) fetchLot(ctx context.Context, venue string) (lotSize, error) {
	if c.isFutures() {
		info, err := c.futures.NewExchangeInfoService().Do(ctx)
		if err != nil {
			return lotSize{}, err
		}
		for _, s := range info.Symbols {
			if !strings.EqualFold(s.Symbol, venue) {
				continue
			}
			if f := s.LotSizeFilter(); f != nil {
				return newLotSize(f.StepSize, f.MinQuantity)
			}
		}
		return lotSize{}, fmt.Errorf("LOT_SIZE not found for %s", venue)
	}
	info, err := c.spot.NewExchangeInfoService().Symbol(venue).Do(ctx)
	if err != nil {
		return lotSize{}, err
	}
	for _, s := range info.Symbols {
		if !strings.EqualFold(s.Symbol, venue) {
			continue
		}
		if f := s.LotSizeFilter(); f != nil {
			return newLotSize(f.StepSize, f.MinQuantity)
		}
	}
	return lotSize{}, fmt.Errorf("LOT_SIZE not found for %s", venue)
}

func newLotSize(step, minQty string) (lotSize, error) {
	s, err := decimal.NewFromString(strings.TrimSpace(step))
	if err != nil {
		return lotSize{}, fmt.Errorf("bad stepSize %q: %w", step, err)
	}
	m, err := decimal.NewFromString(strings.TrimSpace(minQty))
	if err != nil {
		m = decimal.Zero
	}
	return lotSize{step: s, minQty: m}, nil
}
