package trading

import (
	"context"
	"fmt"
	"strings"

	"cryptotrader/internal/metrics"
	"cryptotrader/internal/symbols"
	"cryptotrader/logger"

	futures "github.com/adshao/go-binance/v2/futures"
)

func parseSide(side string) (futures.SideType, error) {
	switch strings.ToUpper(strings.TrimSpace(side)) {
	case "BUY":
		return futures.SideTypeBuy, nil
	case "SELL":
		return futures.SideTypeSell, nil
	default:
		return "", fmt.Errorf("invalid side %q", side)
	}
}

func (b *Bot) submitOrder(ctx context.Context, svc *futures.CreateOrderService, orderType string, fields logger.Fields) (*futures.CreateOrderResponse, error) {
	if err := b.throttle(ctx); err != nil {
		return nil, err
	}
	order, err := svc.Do(ctx)
	if err != nil {
		b.log.WithComponent("trading_bot").WithError(err).WithFields(fields).Error("order placement failed")
		return nil, fmt.Errorf("place %s order: %w", strings.ToLower(orderType), err)
	}

	metrics.IncrementOrder(orderType)
	fields["order_id"] = order.OrderID
	b.log.WithComponent("trading_bot").WithFields(fields).Info("order placed")
	return order, nil
}

// PlaceMarketOrder submits a market order.
func (b *Bot) PlaceMarketOrder(ctx context.Context, symbol, side string, quantity float64) (*futures.CreateOrderResponse, error) {
	symbol = symbols.Normalize(symbol)
	sideType, err := parseSide(side)
	if err != nil {
		return nil, err
	}

	svc := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(sideType).
		Type(futures.OrderTypeMarket).
		Quantity(formatQty(quantity))

	return b.submitOrder(ctx, svc, "MARKET", logger.Fields{
		"symbol":   symbol,
		"side":     side,
		"quantity": quantity,
	})
}

// PlaceLimitOrder submits a good-till-cancel limit order.
func (b *Bot) PlaceLimitOrder(ctx context.Context, symbol, side string, quantity, price float64) (*futures.CreateOrderResponse, error) {
	symbol = symbols.Normalize(symbol)
	sideType, err := parseSide(side)
	if err != nil {
		return nil, err
	}

	svc := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(sideType).
		Type(futures.OrderTypeLimit).
		TimeInForce(futures.TimeInForceTypeGTC).
		Quantity(formatQty(quantity)).
		Price(formatQty(price))

	return b.submitOrder(ctx, svc, "LIMIT", logger.Fields{
		"symbol":   symbol,
		"side":     side,
		"quantity": quantity,
		"price":    price,
	})
}

// PlaceStopLimitOrder submits a stop order that books a limit order at
// price once stopPrice trades.
func (b *Bot) PlaceStopLimitOrder(ctx context.Context, symbol, side string, quantity, price, stopPrice float64) (*futures.CreateOrderResponse, error) {
	symbol = symbols.Normalize(symbol)
	sideType, err := parseSide(side)
	if err != nil {
		return nil, err
	}

	svc := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(sideType).
		Type(futures.OrderTypeStop).
		TimeInForce(futures.TimeInForceTypeGTC).
		Quantity(formatQty(quantity)).
		Price(formatQty(price)).
		StopPrice(formatQty(stopPrice))

	return b.submitOrder(ctx, svc, "STOP_LIMIT", logger.Fields{
		"symbol":     symbol,
		"side":       side,
		"quantity":   quantity,
		"price":      price,
		"stop_price": stopPrice,
	})
}

// PlaceStopMarketOrder submits a stop order that executes at market once
// stopPrice trades. This is the protective leg to pair with an entry when a
// bracket is wanted, futures accounts have no OCO support.
func (b *Bot) PlaceStopMarketOrder(ctx context.Context, symbol, side string, quantity, stopPrice float64) (*futures.CreateOrderResponse, error) {
	symbol = symbols.Normalize(symbol)
	sideType, err := parseSide(side)
	if err != nil {
		return nil, err
	}

	svc := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(sideType).
		Type(futures.OrderTypeStopMarket).
		Quantity(formatQty(quantity)).
		StopPrice(formatQty(stopPrice))

	return b.submitOrder(ctx, svc, "STOP_MARKET", logger.Fields{
		"symbol":     symbol,
		"side":       side,
		"quantity":   quantity,
		"stop_price": stopPrice,
	})
}

// PlaceTrailingStopOrder submits a trailing stop market order. A zero
// activationPrice lets the exchange activate at the current price.
func (b *Bot) PlaceTrailingStopOrder(ctx context.Context, symbol, side string, quantity, callbackRate, activationPrice float64) (*futures.CreateOrderResponse, error) {
	symbol = symbols.Normalize(symbol)
	sideType, err := parseSide(side)
	if err != nil {
		return nil, err
	}
	if callbackRate < 0.1 || callbackRate > 5 {
		return nil, fmt.Errorf("callback rate %v out of range 0.1-5", callbackRate)
	}

	svc := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(sideType).
		Type(futures.OrderTypeTrailingStopMarket).
		Quantity(formatQty(quantity)).
		CallbackRate(formatQty(callbackRate))
	if activationPrice > 0 {
		svc = svc.ActivationPrice(formatQty(activationPrice))
	}

	return b.submitOrder(ctx, svc, "TRAILING_STOP", logger.Fields{
		"symbol":           symbol,
		"side":             side,
		"quantity":         quantity,
		"callback_rate":    callbackRate,
		"activation_price": activationPrice,
	})
}

// CancelOrder cancels an open order.
func (b *Bot) CancelOrder(ctx context.Context, symbol string, orderID int64) (*futures.CancelOrderResponse, error) {
	symbol = symbols.Normalize(symbol)
	if err := b.throttle(ctx); err != nil {
		return nil, err
	}
	res, err := b.client.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("cancel order %d: %w", orderID, err)
	}
	b.log.WithComponent("trading_bot").WithFields(logger.Fields{
		"symbol":   symbol,
		"order_id": orderID,
	}).Info("order cancelled")
	return res, nil
}

// OrderStatus fetches one order by id.
func (b *Bot) OrderStatus(ctx context.Context, symbol string, orderID int64) (*futures.Order, error) {
	symbol = symbols.Normalize(symbol)
	if err := b.throttle(ctx); err != nil {
		return nil, err
	}
	order, err := b.client.NewGetOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch order %d: %w", orderID, err)
	}
	return order, nil
}

// OpenOrders fetches open orders, optionally for one symbol.
func (b *Bot) OpenOrders(ctx context.Context, symbol string) ([]*futures.Order, error) {
	if err := b.throttle(ctx); err != nil {
		return nil, err
	}
	svc := b.client.NewListOpenOrdersService()
	if symbol != "" {
		svc = svc.Symbol(symbols.Normalize(symbol))
	}
	orders, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch open orders: %w", err)
	}
	return orders, nil
}
