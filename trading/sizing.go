package trading

import (
	"context"
	"fmt"
	"strconv"

	"cryptotrader/internal/symbols"
	"cryptotrader/logger"

	futures "github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
)

func formatQty(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

// QuantityError reports a quantity that fails the symbol's LOT_SIZE filter.
// Callers can use errors.As to tell it apart from exchange failures.
type QuantityError struct {
	Message string
}

func (e *QuantityError) Error() string {
	return e.Message
}

func parsePrice(value string) (float64, error) {
	price, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", value, err)
	}
	return price, nil
}

// validateLotSize checks a quantity against the symbol's LOT_SIZE filter.
// The returned messages are delivered verbatim to API clients.
func validateLotSize(quantity float64, lot *futures.LotSizeFilter) error {
	qty := decimal.NewFromFloat(quantity)

	minQty, err := decimal.NewFromString(lot.MinQuantity)
	if err != nil {
		return fmt.Errorf("parse min quantity %q: %w", lot.MinQuantity, err)
	}
	maxQty, err := decimal.NewFromString(lot.MaxQuantity)
	if err != nil {
		return fmt.Errorf("parse max quantity %q: %w", lot.MaxQuantity, err)
	}
	step, err := decimal.NewFromString(lot.StepSize)
	if err != nil {
		return fmt.Errorf("parse step size %q: %w", lot.StepSize, err)
	}

	if qty.LessThan(minQty) {
		return &QuantityError{Message: fmt.Sprintf("Quantity %s is less than minimum %s", qty, minQty)}
	}
	if qty.GreaterThan(maxQty) {
		return &QuantityError{Message: fmt.Sprintf("Quantity %s is greater than maximum %s", qty, maxQty)}
	}
	if !step.IsZero() && !qty.Mod(step).IsZero() {
		return &QuantityError{Message: fmt.Sprintf("Quantity %s must be a multiple of step size %s", qty, step)}
	}
	return nil
}

// snapToStep rounds a raw position size to the step grid and clamps it to
// the filter bounds.
func snapToStep(size float64, lot *futures.LotSizeFilter) (float64, error) {
	minQty, err := decimal.NewFromString(lot.MinQuantity)
	if err != nil {
		return 0, fmt.Errorf("parse min quantity %q: %w", lot.MinQuantity, err)
	}
	maxQty, err := decimal.NewFromString(lot.MaxQuantity)
	if err != nil {
		return 0, fmt.Errorf("parse max quantity %q: %w", lot.MaxQuantity, err)
	}
	step, err := decimal.NewFromString(lot.StepSize)
	if err != nil {
		return 0, fmt.Errorf("parse step size %q: %w", lot.StepSize, err)
	}

	snapped := decimal.NewFromFloat(size)
	if !step.IsZero() {
		snapped = snapped.Div(step).Round(0).Mul(step)
	}
	if snapped.GreaterThan(maxQty) {
		snapped = maxQty
	}
	if snapped.LessThan(minQty) {
		snapped = minQty
	}

	f, _ := snapped.Float64()
	return f, nil
}

// ValidateQuantity checks an order quantity against the symbol's LOT_SIZE
// filter. Symbols without the filter accept any quantity.
func (b *Bot) ValidateQuantity(ctx context.Context, symbol string, quantity float64) error {
	info, err := b.SymbolInfo(ctx, symbol)
	if err != nil {
		return err
	}
	lot := info.LotSizeFilter()
	if lot == nil {
		return nil
	}
	return validateLotSize(quantity, lot)
}

// PositionSize derives an order quantity from the account's USDT balance
// and a risk percentage, snapped to the symbol's lot size grid.
func (b *Bot) PositionSize(ctx context.Context, symbol string, riskPercentage float64) (float64, error) {
	symbol = symbols.Normalize(symbol)
	if riskPercentage <= 0 || riskPercentage > 100 {
		return 0, fmt.Errorf("risk percentage %v out of range", riskPercentage)
	}

	account, err := b.AccountInfo(ctx)
	if err != nil {
		return 0, err
	}

	balance := 0.0
	for _, asset := range account.Assets {
		if asset.Asset == "USDT" {
			balance, err = parsePrice(asset.WalletBalance)
			if err != nil {
				return 0, fmt.Errorf("parse wallet balance: %w", err)
			}
			break
		}
	}
	if balance <= 0 {
		return 0, fmt.Errorf("no USDT balance available")
	}

	price, err := b.MarkPrice(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if price <= 0 {
		return 0, fmt.Errorf("invalid price %v for %s", price, symbol)
	}

	riskAmount := balance * (riskPercentage / 100)
	size := riskAmount / price

	info, err := b.SymbolInfo(ctx, symbol)
	if err != nil {
		return 0, err
	}
	lot := info.LotSizeFilter()
	if lot == nil {
		return size, nil
	}

	snapped, err := snapToStep(size, lot)
	if err != nil {
		return 0, err
	}

	b.log.WithComponent("trading_bot").WithFields(logger.Fields{
		"symbol":          symbol,
		"risk_percentage": riskPercentage,
		"risk_amount":     riskAmount,
		"quantity":        snapped,
	}).Info("position size calculated")
	return snapped, nil
}
