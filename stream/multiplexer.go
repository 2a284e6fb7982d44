package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	appconfig "cryptotrader/config"
	"cryptotrader/internal/metrics"
	"cryptotrader/internal/symbols"
	"cryptotrader/logger"
	"cryptotrader/models"

	futures "github.com/adshao/go-binance/v2/futures"
)

var errUpstreamEnded = errors.New("stream ended unexpectedly")

// SubscriptionKey identifies one upstream subscription. Interval is empty
// for everything except klines, Symbol is empty for streams that cover the
// whole market.
type SubscriptionKey struct {
	Kind     models.StreamKind
	Symbol   string
	Interval string
	ClientID string
}

type subscription struct {
	key      SubscriptionKey
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	errMu    sync.Mutex
	lastErr  error
}

func (s *subscription) cancel() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

func (s *subscription) setErr(err error) {
	s.errMu.Lock()
	s.lastErr = err
	s.errMu.Unlock()
}

func (s *subscription) lastError() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.lastErr
}

// Multiplexer fans upstream market data out to clients. Every subscription
// owns its own upstream stream and forwards only to the subscribing client.
type Multiplexer struct {
	config   *appconfig.Config
	hub      *Hub
	streamer Streamer
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.Mutex
	running  bool
	subs     map[string]map[SubscriptionKey]*subscription
	log      *logger.Log
}

// NewMultiplexer creates a multiplexer delivering through hub from streamer.
func NewMultiplexer(cfg *appconfig.Config, hub *Hub, streamer Streamer) *Multiplexer {
	return &Multiplexer{
		config:   cfg,
		hub:      hub,
		streamer: streamer,
		wg:       &sync.WaitGroup{},
		subs:     make(map[string]map[SubscriptionKey]*subscription),
		log:      logger.GetLogger(),
	}
}

// Start makes the multiplexer accept subscriptions.
func (m *Multiplexer) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("stream multiplexer already running")
	}
	m.running = true
	m.ctx = ctx
	m.mu.Unlock()

	m.log.WithComponent("stream_multiplexer").WithFields(logger.Fields{"operation": "start"}).Info("stream multiplexer started successfully")
	return nil
}

// Stop cancels every active subscription and waits for the stream workers.
func (m *Multiplexer) Stop() {
	m.mu.Lock()
	m.running = false
	var active []*subscription
	for _, clientSubs := range m.subs {
		for _, sub := range clientSubs {
			active = append(active, sub)
		}
	}
	m.mu.Unlock()

	log := m.log.WithComponent("stream_multiplexer")
	log.WithFields(logger.Fields{"subscriptions": len(active)}).Info("stopping stream multiplexer")

	for _, sub := range active {
		sub.cancel()
	}

	m.wg.Wait()
	log.Info("stream multiplexer stopped")
}

// Subscribe opens an upstream stream of the given kind for client. Repeated
// calls with the same parameters are no-ops that return the existing
// subscription. The returned channel closes when the subscription ends.
func (m *Multiplexer) Subscribe(client *Client, kind models.StreamKind, symbol, interval string) <-chan struct{} {
	log := m.log.WithComponent("stream_multiplexer").WithFields(logger.Fields{
		"client_id": client.ID,
		"kind":      string(kind),
		"symbol":    symbol,
	})

	key, err := m.buildKey(client.ID, kind, symbol, interval)
	if err != nil {
		log.WithError(err).Warn("rejecting subscription")
		return closedChan()
	}

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		log.Warn("subscribe called while multiplexer not running")
		return closedChan()
	}
	clientSubs, ok := m.subs[client.ID]
	if !ok {
		clientSubs = make(map[SubscriptionKey]*subscription)
		m.subs[client.ID] = clientSubs
	}
	if existing, ok := clientSubs[key]; ok {
		m.mu.Unlock()
		log.Debug("already subscribed")
		return existing.done
	}
	sub := &subscription{
		key:  key,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	clientSubs[key] = sub
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(client, sub)
	return sub.done
}

// Unsubscribe cancels the client's subscriptions matching kind and symbol.
// Kline subscriptions match on any interval.
func (m *Multiplexer) Unsubscribe(clientID string, kind models.StreamKind, symbol string) {
	symbol = symbols.Normalize(symbol)
	if kind == models.KindMiniTicker || kind == models.KindUserData {
		symbol = ""
	}

	m.mu.Lock()
	var matched []*subscription
	if clientSubs, ok := m.subs[clientID]; ok {
		for key, sub := range clientSubs {
			if key.Kind == kind && key.Symbol == symbol {
				matched = append(matched, sub)
			}
		}
	}
	m.mu.Unlock()

	log := m.log.WithComponent("stream_multiplexer").WithFields(logger.Fields{
		"client_id": clientID,
		"kind":      string(kind),
		"symbol":    symbol,
	})

	if len(matched) == 0 {
		log.Debug("no matching subscription")
		return
	}

	for _, sub := range matched {
		sub.cancel()
	}
	log.WithFields(logger.Fields{"cancelled": len(matched)}).Info("subscriptions cancelled")
}

// UnsubscribeAll cancels every subscription owned by a client.
func (m *Multiplexer) UnsubscribeAll(clientID string) {
	m.mu.Lock()
	var matched []*subscription
	if clientSubs, ok := m.subs[clientID]; ok {
		for _, sub := range clientSubs {
			matched = append(matched, sub)
		}
	}
	m.mu.Unlock()

	if len(matched) == 0 {
		return
	}

	for _, sub := range matched {
		sub.cancel()
	}
	m.log.WithComponent("stream_multiplexer").WithFields(logger.Fields{
		"client_id": clientID,
		"cancelled": len(matched),
	}).Info("all subscriptions cancelled")
}

// SubscriptionCount returns the number of active subscriptions for a client.
func (m *Multiplexer) SubscriptionCount(clientID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[clientID])
}

func (m *Multiplexer) buildKey(clientID string, kind models.StreamKind, symbol, interval string) (SubscriptionKey, error) {
	key := SubscriptionKey{Kind: kind, ClientID: clientID}

	switch kind {
	case models.KindTicker, models.KindDepth:
		key.Symbol = symbols.Normalize(symbol)
		if !symbols.Valid(key.Symbol) {
			return SubscriptionKey{}, fmt.Errorf("invalid symbol %q", symbol)
		}
	case models.KindKline:
		key.Symbol = symbols.Normalize(symbol)
		if !symbols.Valid(key.Symbol) {
			return SubscriptionKey{}, fmt.Errorf("invalid symbol %q", symbol)
		}
		key.Interval = interval
		if key.Interval == "" {
			key.Interval = m.config.Streams.DefaultInterval
		}
	case models.KindMiniTicker, models.KindUserData:
		// market wide streams carry no symbol
	default:
		return SubscriptionKey{}, fmt.Errorf("unknown stream kind %q", kind)
	}

	return key, nil
}

// run owns one upstream stream from open to close.
func (m *Multiplexer) run(client *Client, sub *subscription) {
	defer m.wg.Done()
	defer m.finish(sub)

	key := sub.key
	log := m.log.WithComponent("stream_multiplexer").WithFields(logger.Fields{
		"client_id": key.ClientID,
		"kind":      string(key.Kind),
		"symbol":    key.Symbol,
		"interval":  key.Interval,
		"worker":    "stream",
	})

	errHandler := func(err error) {
		if err != nil {
			log.WithError(err).Warn("websocket error")
			sub.setErr(err)
		}
	}

	var doneC, stopC chan struct{}
	var err error

	switch key.Kind {
	case models.KindTicker:
		handler := func(event *futures.WsMarketTickerEvent) {
			logger.IncrementUpstreamFrame()
			m.hub.Send(client, DecodeTicker(log, event))
		}
		doneC, stopC, err = m.streamer.Ticker(key.Symbol, handler, errHandler)

	case models.KindMiniTicker:
		handler := func(event futures.WsAllMiniMarketTickerEvent) {
			logger.IncrementUpstreamFrame()
			for _, entry := range event {
				msg, derr := decodeMiniTicker(entry)
				if derr != nil {
					log.WithError(derr).Warn("invalid mini ticker entry")
					m.hub.Send(client, models.NewErrorMessage("Invalid data format"))
					continue
				}
				if !m.hub.Send(client, msg) {
					return
				}
			}
		}
		doneC, stopC, err = m.streamer.MiniTicker(handler, errHandler)

	case models.KindKline:
		handler := func(event *futures.WsKlineEvent) {
			logger.IncrementUpstreamFrame()
			m.hub.Send(client, decodeKline(log, event))
		}
		doneC, stopC, err = m.streamer.Kline(key.Symbol, key.Interval, handler, errHandler)

	case models.KindDepth:
		handler := func(event *futures.WsDepthEvent) {
			logger.IncrementUpstreamFrame()
			m.hub.Send(client, decodeDepth(log, event))
		}
		doneC, stopC, err = m.streamer.Depth(key.Symbol, handler, errHandler)

	case models.KindUserData:
		handler := func(event *futures.WsUserDataEvent) {
			logger.IncrementUpstreamFrame()
			msg, derr := decodeUserData(event)
			if derr != nil {
				log.WithError(derr).Warn("failed to decode user data event")
				return
			}
			m.hub.Send(client, msg)
		}
		doneC, stopC, err = m.streamer.UserData(m.ctx, handler, errHandler)
	}

	if err != nil {
		log.WithError(err).Error("failed to open upstream stream")
		if key.Kind == models.KindMiniTicker {
			m.fallbackMiniTicker(client)
			return
		}
		m.hub.Send(client, models.NewErrorMessage(subscribeErrorText(key, err)))
		return
	}

	metrics.SubscriptionStarted(string(key.Kind))
	defer metrics.SubscriptionStopped(string(key.Kind))
	log.Info("subscription started")

	select {
	case <-m.ctx.Done():
		close(stopC)
		<-doneC
	case <-sub.stop:
		close(stopC)
		<-doneC
	case <-doneC:
		// upstream ended on its own, surface it to the client once
		streamErr := sub.lastError()
		if streamErr == nil {
			streamErr = errUpstreamEnded
		}
		log.WithError(streamErr).Warn("upstream stream ended")
		m.hub.Send(client, models.NewErrorMessage(streamErrorText(key, streamErr)))
	}

	log.Info("subscription stopped")
}

func (m *Multiplexer) finish(sub *subscription) {
	m.mu.Lock()
	if clientSubs, ok := m.subs[sub.key.ClientID]; ok {
		if clientSubs[sub.key] == sub {
			delete(clientSubs, sub.key)
			if len(clientSubs) == 0 {
				delete(m.subs, sub.key.ClientID)
			}
		}
	}
	m.mu.Unlock()
	close(sub.done)
}

// fallbackMiniTicker subscribes the client to individual tickers for the
// configured fallback symbols when the combined stream cannot be opened.
func (m *Multiplexer) fallbackMiniTicker(client *Client) {
	fallback := m.config.Streams.FallbackSymbols
	m.log.WithComponent("stream_multiplexer").WithFields(logger.Fields{
		"client_id": client.ID,
		"symbols":   fallback,
	}).Warn("falling back to individual symbol tickers")

	for _, symbol := range fallback {
		m.Subscribe(client, models.KindTicker, symbol, "")
	}
}

func subscribeErrorText(key SubscriptionKey, err error) string {
	switch key.Kind {
	case models.KindKline:
		return fmt.Sprintf("Failed to subscribe to kline for %s: %v", key.Symbol, err)
	case models.KindDepth:
		return fmt.Sprintf("Failed to subscribe to depth for %s: %v", key.Symbol, err)
	case models.KindUserData:
		return fmt.Sprintf("Failed to start user data stream: %v", err)
	default:
		return fmt.Sprintf("Failed to subscribe to %s: %v", key.Symbol, err)
	}
}

func streamErrorText(key SubscriptionKey, err error) string {
	switch key.Kind {
	case models.KindMiniTicker:
		return fmt.Sprintf("API error in mini ticker: %v", err)
	case models.KindKline:
		return fmt.Sprintf("API error for %s kline: %v", key.Symbol, err)
	case models.KindDepth:
		return fmt.Sprintf("API error for %s depth: %v", key.Symbol, err)
	case models.KindUserData:
		return fmt.Sprintf("API error in user data: %v", err)
	default:
		return fmt.Sprintf("API error for %s: %v", key.Symbol, err)
	}
}

func closedChan() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
