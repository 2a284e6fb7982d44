package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	appconfig "cryptotrader/config"
	"cryptotrader/logger"

	futures "github.com/adshao/go-binance/v2/futures"
)

const (
	depthLevels = 20
	depthRate   = 100 * time.Millisecond
)

// Streamer opens upstream market data streams. Each call follows the
// go-binance serve contract: it returns a done channel that closes when the
// stream ends and a stop channel the caller closes to end it.
type Streamer interface {
	Ticker(symbol string, handler futures.WsMarketTickerHandler, errHandler futures.ErrHandler) (doneC, stopC chan struct{}, err error)
	MiniTicker(handler futures.WsAllMiniMarketTickerHandler, errHandler futures.ErrHandler) (doneC, stopC chan struct{}, err error)
	Kline(symbol, interval string, handler futures.WsKlineHandler, errHandler futures.ErrHandler) (doneC, stopC chan struct{}, err error)
	Depth(symbol string, handler futures.WsDepthHandler, errHandler futures.ErrHandler) (doneC, stopC chan struct{}, err error)
	UserData(ctx context.Context, handler futures.WsUserDataHandler, errHandler futures.ErrHandler) (doneC, stopC chan struct{}, err error)
}

// BinanceStreamer streams futures market data from Binance and manages the
// user data listen key lifecycle.
type BinanceStreamer struct {
	config    *appconfig.Config
	client    *futures.Client
	ctx       context.Context
	wg        *sync.WaitGroup
	mu        sync.RWMutex
	running   bool
	listenKey string
	log       *logger.Log
}

// NewBinanceStreamer creates a streamer backed by the given REST client.
func NewBinanceStreamer(cfg *appconfig.Config, client *futures.Client) *BinanceStreamer {
	return &BinanceStreamer{
		config: cfg,
		client: client,
		wg:     &sync.WaitGroup{},
		log:    logger.GetLogger(),
	}
}

// Start launches the listen key keepalive worker.
func (s *BinanceStreamer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("binance streamer already running")
	}
	s.running = true
	s.ctx = ctx
	s.mu.Unlock()

	log := s.log.WithComponent("binance_streamer").WithFields(logger.Fields{"operation": "start"})
	log.WithFields(logger.Fields{
		"testnet":   s.config.Binance.Testnet,
		"keepalive": s.config.Binance.KeepAliveInterval.String(),
	}).Info("starting binance streamer")

	s.wg.Add(1)
	go s.keepAlive()

	log.Info("binance streamer started successfully")
	return nil
}

// Stop closes the user data stream if one was opened and waits for the
// keepalive worker.
func (s *BinanceStreamer) Stop() {
	s.mu.Lock()
	s.running = false
	key := s.listenKey
	s.listenKey = ""
	s.mu.Unlock()

	log := s.log.WithComponent("binance_streamer")
	log.Info("stopping binance streamer")

	if key != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.IncrementRESTCall()
		if err := s.client.NewCloseUserStreamService().ListenKey(key).Do(ctx); err != nil {
			log.WithError(err).Warn("failed to close user data stream")
		}
	}

	s.wg.Wait()
	log.Info("binance streamer stopped")
}

// Ticker opens a 24hr ticker stream for one symbol.
func (s *BinanceStreamer) Ticker(symbol string, handler futures.WsMarketTickerHandler, errHandler futures.ErrHandler) (chan struct{}, chan struct{}, error) {
	return futures.WsMarketTickerServe(symbol, handler, errHandler)
}

// MiniTicker opens the combined mini ticker stream covering every symbol.
func (s *BinanceStreamer) MiniTicker(handler futures.WsAllMiniMarketTickerHandler, errHandler futures.ErrHandler) (chan struct{}, chan struct{}, error) {
	return futures.WsAllMiniMarketTickerServe(handler, errHandler)
}

// Kline opens a candlestick stream for one symbol and interval.
func (s *BinanceStreamer) Kline(symbol, interval string, handler futures.WsKlineHandler, errHandler futures.ErrHandler) (chan struct{}, chan struct{}, error) {
	return futures.WsKlineServe(symbol, interval, handler, errHandler)
}

// Depth opens a partial book depth stream for one symbol.
func (s *BinanceStreamer) Depth(symbol string, handler futures.WsDepthHandler, errHandler futures.ErrHandler) (chan struct{}, chan struct{}, error) {
	return futures.WsPartialDepthServeWithRate(symbol, depthLevels, depthRate, handler, errHandler)
}

// UserData opens the account update stream, obtaining a listen key on first
// use.
func (s *BinanceStreamer) UserData(ctx context.Context, handler futures.WsUserDataHandler, errHandler futures.ErrHandler) (chan struct{}, chan struct{}, error) {
	key, err := s.ensureListenKey(ctx)
	if err != nil {
		return nil, nil, err
	}
	return futures.WsUserDataServe(key, handler, errHandler)
}

func (s *BinanceStreamer) ensureListenKey(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listenKey != "" {
		return s.listenKey, nil
	}

	logger.IncrementRESTCall()
	key, err := s.client.NewStartUserStreamService().Do(ctx)
	if err != nil {
		return "", fmt.Errorf("start user stream: %w", err)
	}

	s.listenKey = key
	s.log.WithComponent("binance_streamer").Info("user data listen key obtained")
	return key, nil
}

func (s *BinanceStreamer) keepAlive() {
	defer s.wg.Done()

	log := s.log.WithComponent("binance_streamer").WithFields(logger.Fields{"worker": "keepalive"})
	ticker := time.NewTicker(s.config.Binance.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.mu.RLock()
			key := s.listenKey
			s.mu.RUnlock()
			if key == "" {
				continue
			}
			logger.IncrementRESTCall()
			if err := s.client.NewKeepaliveUserStreamService().ListenKey(key).Do(s.ctx); err != nil {
				log.WithError(err).Warn("failed to keep user data stream alive")
				continue
			}
			log.Debug("user data listen key refreshed")
		}
	}
}
