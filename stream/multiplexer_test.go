package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	appconfig "cryptotrader/config"
	"cryptotrader/models"

	futures "github.com/adshao/go-binance/v2/futures"
)

type fakeStreamer struct {
	mu            sync.Mutex
	failTicker    bool
	failMini      bool
	tickerSymbols []string
	klineArgs     [][2]string
	depthSymbols  []string
	miniCalls     int
	userCalls     int
	tickerHandler futures.WsMarketTickerHandler
	miniHandler   futures.WsAllMiniMarketTickerHandler
	klineHandler  futures.WsKlineHandler
	depthHandler  futures.WsDepthHandler
	errHandlers   []futures.ErrHandler
	ends          []func()
}

func (f *fakeStreamer) serve() (chan struct{}, chan struct{}) {
	doneC := make(chan struct{})
	stopC := make(chan struct{})
	var once sync.Once
	end := func() {
		once.Do(func() { close(doneC) })
	}
	go func() {
		<-stopC
		end()
	}()
	f.ends = append(f.ends, end)
	return doneC, stopC
}

// endStreams closes every served done channel as if the upstream dropped.
func (f *fakeStreamer) endStreams() {
	f.mu.Lock()
	ends := append([]func(){}, f.ends...)
	f.mu.Unlock()
	for _, end := range ends {
		end()
	}
}

func (f *fakeStreamer) failStreams(err error) {
	f.mu.Lock()
	handlers := append([]futures.ErrHandler{}, f.errHandlers...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(err)
	}
	f.endStreams()
}

func (f *fakeStreamer) Ticker(symbol string, handler futures.WsMarketTickerHandler, errHandler futures.ErrHandler) (chan struct{}, chan struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTicker {
		return nil, nil, errors.New("ticker unavailable")
	}
	f.tickerSymbols = append(f.tickerSymbols, symbol)
	f.tickerHandler = handler
	f.errHandlers = append(f.errHandlers, errHandler)
	doneC, stopC := f.serve()
	return doneC, stopC, nil
}

func (f *fakeStreamer) MiniTicker(handler futures.WsAllMiniMarketTickerHandler, errHandler futures.ErrHandler) (chan struct{}, chan struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failMini {
		return nil, nil, errors.New("mini ticker unavailable")
	}
	f.miniCalls++
	f.miniHandler = handler
	f.errHandlers = append(f.errHandlers, errHandler)
	doneC, stopC := f.serve()
	return doneC, stopC, nil
}

func (f *fakeStreamer) Kline(symbol, interval string, handler futures.WsKlineHandler, errHandler futures.ErrHandler) (chan struct{}, chan struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.klineArgs = append(f.klineArgs, [2]string{symbol, interval})
	f.klineHandler = handler
	f.errHandlers = append(f.errHandlers, errHandler)
	doneC, stopC := f.serve()
	return doneC, stopC, nil
}

func (f *fakeStreamer) Depth(symbol string, handler futures.WsDepthHandler, errHandler futures.ErrHandler) (chan struct{}, chan struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.depthSymbols = append(f.depthSymbols, symbol)
	f.depthHandler = handler
	f.errHandlers = append(f.errHandlers, errHandler)
	doneC, stopC := f.serve()
	return doneC, stopC, nil
}

func (f *fakeStreamer) UserData(ctx context.Context, handler futures.WsUserDataHandler, errHandler futures.ErrHandler) (chan struct{}, chan struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userCalls++
	f.errHandlers = append(f.errHandlers, errHandler)
	doneC, stopC := f.serve()
	return doneC, stopC, nil
}

func (f *fakeStreamer) tickerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tickerSymbols)
}

func (f *fakeStreamer) klineCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.klineArgs)
}

func (f *fakeStreamer) ticker() futures.WsMarketTickerHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tickerHandler
}

func (f *fakeStreamer) mini() futures.WsAllMiniMarketTickerHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.miniHandler
}

func muxConfig() *appconfig.Config {
	return &appconfig.Config{
		Server: appconfig.ServerConfig{SendBuffer: 16},
		Streams: appconfig.StreamsConfig{
			DefaultInterval: "1m",
			FallbackSymbols: []string{"BTCUSDT", "ETHUSDT", "BNBUSDT"},
		},
	}
}

func newTestMux(t *testing.T) (*Multiplexer, *Hub, *Client, *fakeConn, *fakeStreamer, context.CancelFunc) {
	t.Helper()
	cfg := muxConfig()
	h := NewHub(cfg)
	conn := &fakeConn{}
	c := h.NewClient(conn)
	h.Register(c)

	fs := &fakeStreamer{}
	m := NewMultiplexer(cfg, h, fs)
	ctx, cancel := context.WithCancel(context.Background())
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	return m, h, c, conn, fs, cancel
}

func TestMultiplexerStartTwice(t *testing.T) {
	m := NewMultiplexer(muxConfig(), NewHub(muxConfig()), &fakeStreamer{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Start(ctx); err == nil {
		t.Fatalf("expected error on second start")
	}
	m.Stop()
}

func TestMultiplexerSubscribeIdempotent(t *testing.T) {
	m, h, c, _, fs, cancel := newTestMux(t)
	defer cancel()

	d1 := m.Subscribe(c, models.KindTicker, "btcusdt", "")
	d2 := m.Subscribe(c, models.KindTicker, "BTCUSDT", "")
	if d1 != d2 {
		t.Fatalf("expected the same subscription for repeated subscribe")
	}

	waitFor(t, 2*time.Second, func() bool { return fs.tickerCount() == 1 })
	if got := m.SubscriptionCount(c.ID); got != 1 {
		t.Fatalf("expected 1 subscription, got %d", got)
	}

	m.Stop()
	h.Stop()
}

func TestMultiplexerSubscribeInvalid(t *testing.T) {
	m, h, c, _, _, cancel := newTestMux(t)
	defer cancel()

	done := m.Subscribe(c, models.KindTicker, "", "")
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected closed channel for missing symbol")
	}

	done = m.Subscribe(c, models.StreamKind("trades"), "BTCUSDT", "")
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected closed channel for unknown kind")
	}

	if got := m.SubscriptionCount(c.ID); got != 0 {
		t.Fatalf("expected 0 subscriptions, got %d", got)
	}

	m.Stop()
	h.Stop()
}

func TestMultiplexerSubscribeBeforeStart(t *testing.T) {
	cfg := muxConfig()
	h := NewHub(cfg)
	conn := &fakeConn{}
	c := h.NewClient(conn)
	h.Register(c)

	m := NewMultiplexer(cfg, h, &fakeStreamer{})
	done := m.Subscribe(c, models.KindTicker, "BTCUSDT", "")
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected closed channel before start")
	}

	h.Stop()
}

func TestMultiplexerUnsubscribeCancels(t *testing.T) {
	m, h, c, _, fs, cancel := newTestMux(t)
	defer cancel()

	done := m.Subscribe(c, models.KindTicker, "BTCUSDT", "")
	waitFor(t, 2*time.Second, func() bool { return fs.tickerCount() == 1 })

	m.Unsubscribe(c.ID, models.KindTicker, "btc-usdt")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected subscription to end after unsubscribe")
	}
	waitFor(t, 2*time.Second, func() bool { return m.SubscriptionCount(c.ID) == 0 })

	m.Stop()
	h.Stop()
}

func TestMultiplexerUnsubscribeNoMatch(t *testing.T) {
	m, h, c, _, fs, cancel := newTestMux(t)
	defer cancel()

	m.Subscribe(c, models.KindTicker, "BTCUSDT", "")
	waitFor(t, 2*time.Second, func() bool { return fs.tickerCount() == 1 })

	m.Unsubscribe(c.ID, models.KindTicker, "ETHUSDT")
	m.Unsubscribe(c.ID, models.KindDepth, "BTCUSDT")

	if got := m.SubscriptionCount(c.ID); got != 1 {
		t.Fatalf("expected subscription to survive, got %d", got)
	}

	m.Stop()
	h.Stop()
}

func TestMultiplexerKlineAnyIntervalUnsubscribe(t *testing.T) {
	m, h, c, _, fs, cancel := newTestMux(t)
	defer cancel()

	d1 := m.Subscribe(c, models.KindKline, "BTCUSDT", "")
	d2 := m.Subscribe(c, models.KindKline, "BTCUSDT", "5m")
	waitFor(t, 2*time.Second, func() bool { return fs.klineCount() == 2 })

	fs.mu.Lock()
	first := fs.klineArgs[0]
	fs.mu.Unlock()
	if first != [2]string{"BTCUSDT", "1m"} {
		t.Fatalf("expected default interval 1m, got %v", first)
	}

	m.Unsubscribe(c.ID, models.KindKline, "BTCUSDT")

	for i, done := range []<-chan struct{}{d1, d2} {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("expected kline subscription %d to end", i)
		}
	}

	m.Stop()
	h.Stop()
}

func TestMultiplexerUnsubscribeAll(t *testing.T) {
	m, h, c, _, fs, cancel := newTestMux(t)
	defer cancel()

	dones := []<-chan struct{}{
		m.Subscribe(c, models.KindTicker, "BTCUSDT", ""),
		m.Subscribe(c, models.KindDepth, "ETHUSDT", ""),
		m.Subscribe(c, models.KindKline, "BTCUSDT", "5m"),
	}
	waitFor(t, 2*time.Second, func() bool {
		return fs.tickerCount() == 1 && fs.klineCount() == 1 && m.SubscriptionCount(c.ID) == 3
	})

	m.UnsubscribeAll(c.ID)

	for i, done := range dones {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("expected subscription %d to end", i)
		}
	}
	waitFor(t, 2*time.Second, func() bool { return m.SubscriptionCount(c.ID) == 0 })

	m.Stop()
	h.Stop()
}

func TestMultiplexerMiniTickerFallback(t *testing.T) {
	m, h, c, _, fs, cancel := newTestMux(t)
	defer cancel()
	fs.mu.Lock()
	fs.failMini = true
	fs.mu.Unlock()

	done := m.Subscribe(c, models.KindMiniTicker, "", "")
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected mini ticker subscription to end")
	}

	waitFor(t, 2*time.Second, func() bool { return fs.tickerCount() == 3 })
	waitFor(t, 2*time.Second, func() bool { return m.SubscriptionCount(c.ID) == 3 })

	m.Stop()
	h.Stop()
}

func TestMultiplexerTickerFailureSendsError(t *testing.T) {
	m, h, c, conn, fs, cancel := newTestMux(t)
	defer cancel()
	fs.mu.Lock()
	fs.failTicker = true
	fs.mu.Unlock()

	done := m.Subscribe(c, models.KindTicker, "BTCUSDT", "")
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected subscription to end")
	}

	waitFor(t, 2*time.Second, func() bool { return conn.writeCount() == 1 })
	msg, ok := conn.lastWrite().(models.ErrorMessage)
	if !ok {
		t.Fatalf("expected ErrorMessage, got %T", conn.lastWrite())
	}
	if msg.Message != "Failed to subscribe to BTCUSDT: ticker unavailable" {
		t.Fatalf("unexpected error text %q", msg.Message)
	}

	m.Stop()
	h.Stop()
}

func TestMultiplexerUpstreamEndReportsError(t *testing.T) {
	m, h, c, conn, fs, cancel := newTestMux(t)
	defer cancel()

	done := m.Subscribe(c, models.KindTicker, "BTCUSDT", "")
	waitFor(t, 2*time.Second, func() bool { return fs.tickerCount() == 1 })

	fs.failStreams(errors.New("read timeout"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected subscription to end")
	}

	waitFor(t, 2*time.Second, func() bool { return conn.writeCount() >= 1 })
	msg, ok := conn.lastWrite().(models.ErrorMessage)
	if !ok {
		t.Fatalf("expected ErrorMessage, got %T", conn.lastWrite())
	}
	if msg.Message != "API error for BTCUSDT: read timeout" {
		t.Fatalf("unexpected error text %q", msg.Message)
	}
	waitFor(t, 2*time.Second, func() bool { return m.SubscriptionCount(c.ID) == 0 })

	m.Stop()
	h.Stop()
}

func TestMultiplexerForwardsTickerEvents(t *testing.T) {
	m, h, c, conn, fs, cancel := newTestMux(t)
	defer cancel()

	m.Subscribe(c, models.KindTicker, "BTCUSDT", "")
	waitFor(t, 2*time.Second, func() bool { return fs.ticker() != nil })

	fs.ticker()(&futures.WsMarketTickerEvent{
		Event:              "24hrTicker",
		Time:               1700000000000,
		Symbol:             "BTCUSDT",
		ClosePrice:         "42000.5",
		PriceChange:        "120.5",
		PriceChangePercent: "0.29",
		HighPrice:          "42500",
		LowPrice:           "41000",
		BaseVolume:         "1234.5",
		QuoteVolume:        "51234567.8",
	})

	waitFor(t, 2*time.Second, func() bool { return conn.writeCount() == 1 })
	msg, ok := conn.lastWrite().(models.TickerMessage)
	if !ok {
		t.Fatalf("expected TickerMessage, got %T", conn.lastWrite())
	}
	if msg.Symbol != "BTCUSDT" || msg.Price != 42000.5 || msg.Timestamp != 1700000000000 {
		t.Fatalf("unexpected ticker message %+v", msg)
	}

	m.Stop()
	h.Stop()
}

func TestMultiplexerMiniTickerFansOut(t *testing.T) {
	m, h, c, conn, fs, cancel := newTestMux(t)
	defer cancel()

	m.Subscribe(c, models.KindMiniTicker, "", "")
	waitFor(t, 2*time.Second, func() bool { return fs.mini() != nil })

	fs.mini()(futures.WsAllMiniMarketTickerEvent{
		{Event: "24hrMiniTicker", Time: 1700000000000, Symbol: "BTCUSDT", ClosePrice: "42000", OpenPrice: "41000", HighPrice: "42500", LowPrice: "40900", Volume: "10", QuoteVolume: "420000"},
		{Event: "24hrMiniTicker", Time: 1700000000000, Symbol: "ETHUSDT", ClosePrice: "2200", OpenPrice: "2100", HighPrice: "2250", LowPrice: "2050", Volume: "20", QuoteVolume: "44000"},
		{Event: "24hrMiniTicker", Time: 1700000000000, Symbol: "BNBUSDT", ClosePrice: "300", OpenPrice: "290", HighPrice: "305", LowPrice: "288", Volume: "30", QuoteVolume: "9000"},
	})

	waitFor(t, 2*time.Second, func() bool { return conn.writeCount() == 3 })

	symbols := make(map[string]bool)
	for _, w := range conn.allWrites() {
		msg, ok := w.(models.MiniTickerMessage)
		if !ok {
			t.Fatalf("expected MiniTickerMessage, got %T", w)
		}
		symbols[msg.Symbol] = true
	}
	if !symbols["BTCUSDT"] || !symbols["ETHUSDT"] || !symbols["BNBUSDT"] {
		t.Fatalf("unexpected symbols %v", symbols)
	}

	m.Stop()
	h.Stop()
}

func TestMultiplexerMiniTickerInvalidEntry(t *testing.T) {
	m, h, c, conn, fs, cancel := newTestMux(t)
	defer cancel()

	m.Subscribe(c, models.KindMiniTicker, "", "")
	waitFor(t, 2*time.Second, func() bool { return fs.mini() != nil })

	fs.mini()(futures.WsAllMiniMarketTickerEvent{
		{
			Event:       "24hrMiniTicker",
			Time:        1700000000000,
			Symbol:      "BTCUSDT",
			ClosePrice:  "not a number",
			OpenPrice:   "1",
			HighPrice:   "1",
			LowPrice:    "1",
			Volume:      "1",
			QuoteVolume: "1",
		},
	})

	waitFor(t, 2*time.Second, func() bool { return conn.writeCount() == 1 })
	msg, ok := conn.lastWrite().(models.ErrorMessage)
	if !ok {
		t.Fatalf("expected ErrorMessage, got %T", conn.lastWrite())
	}
	if msg.Message != "Invalid data format" {
		t.Fatalf("unexpected error text %q", msg.Message)
	}

	m.Stop()
	h.Stop()
}
