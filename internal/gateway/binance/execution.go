package binance

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"agentrade/internal/gateway/exchange"
	"agentrade/internal/logger"
	symbolpkg "agentrade/internal/pkg/symbol"

	binanceapi "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
)

func (c *Client) FetchBalance(ctx context.Context, asset string) (exchange.Balance, error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if asset == "" {
		return exchange.Balance{}, fmt.Errorf("binance: asset 必填")
	}
	out := exchange.Balance{Asset: asset}
	if c.isFutures() {
		balances, err := c.futures.NewGetBalanceService().Do(ctx)
		if err != nil {
			return out, fmt.Errorf("binance futures balance: %w", err)
		}
		for _, b := range balances {
			if b == nil || !strings.EqualFold(b.Asset, asset) {
				continue
			}
			out.Free = parseFloat(b.AvailableBalance)
			if locked := parseFloat(b.Balance) - out.Free; locked > 0 {
				out.Locked = locked
			}
			return out, nil
		}
		return out, nil
	}
	account, err := c.spot.NewGetAccountService().Do(ctx)
	if err != nil {
		return out, fmt.Errorf("binance spot account: %w", err)
	}
	for _, b := range account.Balances {
		if strings.EqualFold(b.Asset, asset) {
			out.Free = parseFloat(b.Free)
			out.Locked = parseFloat(b.Locked)
			break
		}
	}
	return out, nil
}

// FetchOpenPosition: futures reads positionRisk; spot treats the base asset
// holding as a long position, with dust below the lot minimum counted as flat.
func (c *Client) FetchOpenPosition(ctx context.Context, symbol string) (exchange.Position, error) {
	venue, err := venueSymbol(symbol)
	if err != nil {
		return exchange.Position{}, err
	}
	pos := exchange.Position{Symbol: symbolpkg.Normalize(symbol)}
	if c.isFutures() {
		risks, err := c.futures.NewGetPositionRiskService().Symbol(venue).Do(ctx)
		if err != nil {
			return pos, fmt.Errorf("binance positionRisk %s: %w", venue, err)
		}
		for _, r := range risks {
			if r == nil || !strings.EqualFold(r.Symbol, venue) {
				continue
			}
			pos.Size += parseFloat(r.PositionAmt)
			if ep := parseFloat(r.EntryPrice); ep > 0 {
				pos.EntryPrice = ep
			}
		}
		return pos, nil
	}
	base := symbolpkg.Parse(symbol).Base
	bal, err := c.FetchBalance(ctx, base)
	if err != nil {
		return pos, err
	}
	pos.Size = bal.Total()
	if pos.Size > 0 {
		if _, ok := c.lotFor(ctx, venue).roundQty(pos.Size); !ok {
			pos.Size = 0
		}
	}
	return pos, nil
}

func (c *Client) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
	if req.Type == "" {
		req.Type = exchange.OrderTypeMarket
	}
	if err := req.Validate(); err != nil {
		return exchange.OrderAck{}, err
	}
	venue, err := venueSymbol(req.Symbol)
	if err != nil {
		return exchange.OrderAck{}, err
	}
	qty, ok := c.lotFor(ctx, venue).roundQty(req.Quantity)
	if !ok {
		return exchange.OrderAck{}, fmt.Errorf("binance: quantity %v for %s is below the lot size", req.Quantity, venue)
	}
	logger.Infof("[binance] submit %s %s %s qty=%s reduceOnly=%v", c.Name(), venue, req.Side, qty.String(), req.ReduceOnly)
	if c.isFutures() {
		return c.submitFutures(ctx, venue, qty.String(), req)
	}
	return c.submitSpot(ctx, venue, qty.String(), req)
}

func (c *Client) submitFutures(ctx context.Context, venue, qty string, req exchange.OrderRequest) (exchange.OrderAck, error) {
	svc := c.futures.NewCreateOrderService().
		Symbol(venue).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderType(req.Type)).
		Quantity(qty)
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	if req.Type == exchange.OrderTypeLimit {
		svc = svc.Price(strconv.FormatFloat(req.Price, 'f', -1, 64)).TimeInForce(futures.TimeInForceTypeGTC)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return exchange.OrderAck{}, fmt.Errorf("binance futures order %s %s: %w", venue, req.Side, err)
	}
	return exchange.OrderAck{
		OrderID:     strconv.FormatInt(res.OrderID, 10),
		Status:      string(res.Status),
		ExecutedQty: parseFloat(res.ExecutedQuantity),
		AvgPrice:    parseFloat(res.AvgPrice),
	}, nil
}

func (c *Client) submitSpot(ctx context.Context, venue, qty string, req exchange.OrderRequest) (exchange.OrderAck, error) {
	svc := c.spot.NewCreateOrderService().
		Symbol(venue).
		Side(binanceapi.SideType(req.Side)).
		Type(binanceapi.OrderType(req.Type)).
		Quantity(qty)
	if req.Type == exchange.OrderTypeLimit {
		svc = svc.Price(strconv.FormatFloat(req.Price, 'f', -1, 64)).TimeInForce(binanceapi.TimeInForceTypeGTC)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return exchange.OrderAck{}, fmt.Errorf("binance spot order %s %s: %w", venue, req.Side, err)
	}
	ack := exchange.OrderAck{
		OrderID:     strconv.FormatInt(res.OrderID, 10),
		Status:      string(res.Status),
		ExecutedQty: parseFloat(res.ExecutedQuantity),
	}
	if quote := parseFloat(res.CummulativeQuoteQuantity); quote > 0 && ack.ExecutedQty > 0 {
		ack.AvgPrice = quote / ack.ExecutedQty
	}
	return ack, nil
}

func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if !c.isFutures() || leverage <= 0 {
		return nil
	}
	venue, err := venueSymbol(symbol)
	if err != nil {
		return err
	}
	if _, err := c.futures.NewChangeLeverageService().Symbol(venue).Leverage(leverage).Do(ctx); err != nil {
		return fmt.Errorf("binance leverage %s x%d: %w", venue, leverage, err)
	}
	return nil
}
