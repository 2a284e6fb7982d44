package stream

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"cryptotrader/logger"
	"cryptotrader/models"

	futures "github.com/adshao/go-binance/v2/futures"
)

// isoTime renders a millisecond timestamp the way clients expect it,
// local time without a zone suffix.
func isoTime(ms int64) string {
	return time.UnixMilli(ms).Format("2006-01-02T15:04:05.999999")
}

// parseFloat converts a numeric string field, logging and substituting zero
// on malformed input so a single bad field does not kill the stream.
func parseFloat(log *logger.Entry, field, value string) float64 {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"field": field, "value": value}).Warn("failed to parse numeric field")
		return 0
	}
	return f
}

// DecodeTicker converts an upstream 24hr ticker event into the normalized
// client payload.
func DecodeTicker(log *logger.Entry, event *futures.WsMarketTickerEvent) models.TickerMessage {
	return models.TickerMessage{
		Type:               "ticker",
		Symbol:             event.Symbol,
		Price:              parseFloat(log, "price", event.ClosePrice),
		PriceChange:        parseFloat(log, "price_change", event.PriceChange),
		PriceChangePercent: parseFloat(log, "price_change_percent", event.PriceChangePercent),
		High:               parseFloat(log, "high", event.HighPrice),
		Low:                parseFloat(log, "low", event.LowPrice),
		Volume:             parseFloat(log, "volume", event.BaseVolume),
		QuoteVolume:        parseFloat(log, "quote_volume", event.QuoteVolume),
		Timestamp:          event.Time,
		EventTime:          isoTime(event.Time),
	}
}

// strictFloat converts a numeric string field and reports malformed input
// instead of substituting zero.
func strictFloat(field, value string) (float64, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", field, value, err)
	}
	return f, nil
}

// decodeMiniTicker is strict. Clients subscribed to the combined mini
// ticker stream receive an explicit error payload for malformed entries
// instead of silently zeroed fields.
func decodeMiniTicker(event *futures.WsMiniMarketTickerEvent) (models.MiniTickerMessage, error) {
	msg := models.MiniTickerMessage{
		Type:      "mini_ticker",
		Symbol:    event.Symbol,
		Timestamp: event.Time,
		EventTime: isoTime(event.Time),
	}

	var err error
	if msg.Price, err = strictFloat("price", event.ClosePrice); err != nil {
		return models.MiniTickerMessage{}, err
	}
	if msg.Open, err = strictFloat("open", event.OpenPrice); err != nil {
		return models.MiniTickerMessage{}, err
	}
	if msg.High, err = strictFloat("high", event.HighPrice); err != nil {
		return models.MiniTickerMessage{}, err
	}
	if msg.Low, err = strictFloat("low", event.LowPrice); err != nil {
		return models.MiniTickerMessage{}, err
	}
	if msg.Volume, err = strictFloat("volume", event.Volume); err != nil {
		return models.MiniTickerMessage{}, err
	}
	if msg.QuoteVolume, err = strictFloat("quote_volume", event.QuoteVolume); err != nil {
		return models.MiniTickerMessage{}, err
	}

	return msg, nil
}

func decodeKline(log *logger.Entry, event *futures.WsKlineEvent) models.KlineMessage {
	k := event.Kline
	return models.KlineMessage{
		Type:      "kline",
		Symbol:    k.Symbol,
		Interval:  k.Interval,
		Open:      parseFloat(log, "open", k.Open),
		High:      parseFloat(log, "high", k.High),
		Low:       parseFloat(log, "low", k.Low),
		Close:     parseFloat(log, "close", k.Close),
		Volume:    parseFloat(log, "volume", k.Volume),
		IsClosed:  k.IsFinal,
		EventTime: k.EndTime,
		StartTime: k.StartTime,
		EndTime:   k.EndTime,
	}
}

func decodeDepth(log *logger.Entry, event *futures.WsDepthEvent) models.DepthMessage {
	bids := make([][2]float64, 0, len(event.Bids))
	for _, b := range event.Bids {
		bids = append(bids, [2]float64{
			parseFloat(log, "bid_price", b.Price),
			parseFloat(log, "bid_quantity", b.Quantity),
		})
	}

	asks := make([][2]float64, 0, len(event.Asks))
	for _, a := range event.Asks {
		asks = append(asks, [2]float64{
			parseFloat(log, "ask_price", a.Price),
			parseFloat(log, "ask_quantity", a.Quantity),
		})
	}

	return models.DepthMessage{
		Type:      "depth",
		Symbol:    event.Symbol,
		EventTime: event.Time,
		Bids:      bids,
		Asks:      asks,
	}
}

func decodeUserData(event *futures.WsUserDataEvent) (models.UserDataMessage, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return models.UserDataMessage{}, fmt.Errorf("marshal user data event: %w", err)
	}

	return models.UserDataMessage{
		Type:      "user_data",
		EventType: string(event.Event),
		EventTime: event.Time,
		Data:      payload,
	}, nil
}
