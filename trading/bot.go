package trading

import (
	"context"
	"fmt"

	appconfig "cryptotrader/config"
	"cryptotrader/internal/symbols"
	"cryptotrader/logger"

	futures "github.com/adshao/go-binance/v2/futures"
	"golang.org/x/time/rate"
)

// Bot wraps the futures REST API with request throttling, lot size
// validation and risk based position sizing.
type Bot struct {
	config  *appconfig.Config
	client  *futures.Client
	limiter *rate.Limiter
	log     *logger.Log
}

// NewBot creates a trading bot backed by the given REST client.
func NewBot(cfg *appconfig.Config, client *futures.Client) *Bot {
	rl := cfg.Binance.RateLimit
	rps := rl.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := rl.BurstSize
	if burst <= 0 {
		burst = 1
	}
	return &Bot{
		config:  cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     logger.GetLogger(),
	}
}

// throttle spaces REST calls so bursts of API requests stay inside the
// exchange rate limits.
func (b *Bot) throttle(ctx context.Context) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	logger.IncrementRESTCall()
	return nil
}

// AccountInfo fetches the futures account snapshot.
func (b *Bot) AccountInfo(ctx context.Context) (*futures.Account, error) {
	if err := b.throttle(ctx); err != nil {
		return nil, err
	}
	account, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch account: %w", err)
	}
	return account, nil
}

// Positions fetches position information, optionally for one symbol.
func (b *Bot) Positions(ctx context.Context, symbol string) ([]*futures.PositionRisk, error) {
	if err := b.throttle(ctx); err != nil {
		return nil, err
	}
	svc := b.client.NewGetPositionRiskService()
	if symbol != "" {
		svc = svc.Symbol(symbols.Normalize(symbol))
	}
	positions, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch positions: %w", err)
	}
	return positions, nil
}

// SymbolInfo fetches exchange metadata for one symbol.
func (b *Bot) SymbolInfo(ctx context.Context, symbol string) (*futures.Symbol, error) {
	symbol = symbols.Normalize(symbol)
	if err := b.throttle(ctx); err != nil {
		return nil, err
	}
	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch exchange info: %w", err)
	}
	for i := range info.Symbols {
		if info.Symbols[i].Symbol == symbol {
			return &info.Symbols[i], nil
		}
	}
	return nil, fmt.Errorf("symbol %s not found", symbol)
}

// MarkPrice fetches the latest traded price for a symbol.
func (b *Bot) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	symbol = symbols.Normalize(symbol)
	if err := b.throttle(ctx); err != nil {
		return 0, err
	}
	prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch price: %w", err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("no price for symbol %s", symbol)
	}
	return parsePrice(prices[0].Price)
}

// HistoricalTrades fetches recent trades for a symbol. A non positive limit
// defaults to 100.
func (b *Bot) HistoricalTrades(ctx context.Context, symbol string, limit int) ([]*futures.Trade, error) {
	symbol = symbols.Normalize(symbol)
	if limit <= 0 {
		limit = 100
	}
	if err := b.throttle(ctx); err != nil {
		return nil, err
	}
	trades, err := b.client.NewHistoricalTradesService().Symbol(symbol).Limit(limit).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch historical trades: %w", err)
	}
	return trades, nil
}
