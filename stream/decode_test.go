package stream

import (
	"encoding/json"
	"testing"
	"time"

	"cryptotrader/logger"

	futures "github.com/adshao/go-binance/v2/futures"
)

func testEntry() *logger.Entry {
	return logger.GetLogger().WithComponent("stream_decode")
}

func TestIsoTimeRoundTrip(t *testing.T) {
	ms := int64(1700000000123)
	got := isoTime(ms)
	parsed, err := time.ParseInLocation("2006-01-02T15:04:05.999999", got, time.Local)
	if err != nil {
		t.Fatalf("parse %q: %v", got, err)
	}
	if parsed.UnixMilli() != ms {
		t.Fatalf("expected %d, got %d", ms, parsed.UnixMilli())
	}
}

func TestDecodeTicker(t *testing.T) {
	msg := DecodeTicker(testEntry(), &futures.WsMarketTickerEvent{
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

	if msg.Type != "ticker" {
		t.Fatalf("expected type ticker, got %q", msg.Type)
	}
	if msg.Symbol != "BTCUSDT" {
		t.Fatalf("expected symbol BTCUSDT, got %q", msg.Symbol)
	}
	if msg.Price != 42000.5 || msg.PriceChange != 120.5 || msg.PriceChangePercent != 0.29 {
		t.Fatalf("unexpected price fields %+v", msg)
	}
	if msg.High != 42500 || msg.Low != 41000 || msg.Volume != 1234.5 || msg.QuoteVolume != 51234567.8 {
		t.Fatalf("unexpected range fields %+v", msg)
	}
	if msg.Timestamp != 1700000000000 {
		t.Fatalf("expected timestamp 1700000000000, got %d", msg.Timestamp)
	}
	if msg.EventTime != isoTime(1700000000000) {
		t.Fatalf("unexpected event time %q", msg.EventTime)
	}
}

func TestDecodeTickerMalformedFieldZeroed(t *testing.T) {
	msg := DecodeTicker(testEntry(), &futures.WsMarketTickerEvent{
		Symbol:     "BTCUSDT",
		ClosePrice: "garbage",
	})
	if msg.Price != 0 {
		t.Fatalf("expected zeroed price, got %f", msg.Price)
	}
}

func TestDecodeMiniTicker(t *testing.T) {
	msg, err := decodeMiniTicker(&futures.WsMiniMarketTickerEvent{
		Event:       "24hrMiniTicker",
		Time:        1700000000000,
		Symbol:      "ETHUSDT",
		ClosePrice:  "2200.25",
		OpenPrice:   "2100",
		HighPrice:   "2250",
		LowPrice:    "2050",
		Volume:      "5000",
		QuoteVolume: "11000000",
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != "mini_ticker" || msg.Symbol != "ETHUSDT" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.Price != 2200.25 || msg.Open != 2100 || msg.High != 2250 || msg.Low != 2050 {
		t.Fatalf("unexpected price fields %+v", msg)
	}
}

func TestDecodeMiniTickerInvalid(t *testing.T) {
	_, err := decodeMiniTicker(&futures.WsMiniMarketTickerEvent{
		Symbol:      "ETHUSDT",
		ClosePrice:  "not a number",
		OpenPrice:   "1",
		HighPrice:   "1",
		LowPrice:    "1",
		Volume:      "1",
		QuoteVolume: "1",
	})
	if err == nil {
		t.Fatalf("expected error for malformed price")
	}
}

func TestDecodeKline(t *testing.T) {
	msg := decodeKline(testEntry(), &futures.WsKlineEvent{
		Event:  "kline",
		Time:   1700000000500,
		Symbol: "BTCUSDT",
		Kline: futures.WsKline{
			StartTime: 1700000000000,
			EndTime:   1700000059999,
			Symbol:    "BTCUSDT",
			Interval:  "1m",
			Open:      "42000",
			Close:     "42100",
			High:      "42200",
			Low:       "41900",
			Volume:    "12.5",
			IsFinal:   true,
		},
	})

	if msg.Type != "kline" || msg.Symbol != "BTCUSDT" || msg.Interval != "1m" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.Open != 42000 || msg.Close != 42100 || msg.High != 42200 || msg.Low != 41900 || msg.Volume != 12.5 {
		t.Fatalf("unexpected ohlcv %+v", msg)
	}
	if !msg.IsClosed {
		t.Fatalf("expected closed candle")
	}
	if msg.StartTime != 1700000000000 || msg.EndTime != 1700000059999 {
		t.Fatalf("unexpected window %+v", msg)
	}
	if msg.EventTime != msg.EndTime {
		t.Fatalf("expected event time to match candle end, got %d", msg.EventTime)
	}
}

func TestDecodeDepth(t *testing.T) {
	msg := decodeDepth(testEntry(), &futures.WsDepthEvent{
		Event:  "depthUpdate",
		Time:   1700000000000,
		Symbol: "BTCUSDT",
		Bids: []futures.Bid{
			{Price: "42000.5", Quantity: "1.5"},
			{Price: "42000.0", Quantity: "2"},
		},
		Asks: []futures.Ask{
			{Price: "42001.0", Quantity: "0.7"},
		},
	})

	if msg.Type != "depth" || msg.Symbol != "BTCUSDT" || msg.EventTime != 1700000000000 {
		t.Fatalf("unexpected message %+v", msg)
	}
	if len(msg.Bids) != 2 || len(msg.Asks) != 1 {
		t.Fatalf("unexpected book size %+v", msg)
	}
	if msg.Bids[0] != [2]float64{42000.5, 1.5} {
		t.Fatalf("unexpected best bid %v", msg.Bids[0])
	}
	if msg.Asks[0] != [2]float64{42001.0, 0.7} {
		t.Fatalf("unexpected best ask %v", msg.Asks[0])
	}
}

func TestDecodeUserData(t *testing.T) {
	event := &futures.WsUserDataEvent{
		Event: futures.UserDataEventTypeOrderTradeUpdate,
		Time:  1700000000000,
	}
	msg, err := decodeUserData(event)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != "user_data" {
		t.Fatalf("expected type user_data, got %q", msg.Type)
	}
	if msg.EventType != string(futures.UserDataEventTypeOrderTradeUpdate) {
		t.Fatalf("unexpected event type %q", msg.EventType)
	}
	if msg.EventTime != 1700000000000 {
		t.Fatalf("unexpected event time %d", msg.EventTime)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(msg.Data, &raw); err != nil {
		t.Fatalf("unmarshal passthrough payload: %v", err)
	}
}
