package models

import "encoding/json"

// StreamKind identifies one of the upstream stream types a client can
// subscribe to.
type StreamKind string

const (
	KindTicker     StreamKind = "ticker"
	KindMiniTicker StreamKind = "mini_ticker"
	KindKline      StreamKind = "kline"
	KindDepth      StreamKind = "depth"
	KindUserData   StreamKind = "user_data"
)

// StreamMessage is implemented by every payload delivered to client sockets.
// MessageType returns the value of the "type" discriminator field.
type StreamMessage interface {
	MessageType() string
}

// TickerMessage represents a normalized 24hr ticker update for a symbol.
type TickerMessage struct {
	Type               string  `json:"type"`
	Symbol             string  `json:"symbol"`
	Price              float64 `json:"price"`
	PriceChange        float64 `json:"price_change"`
	PriceChangePercent float64 `json:"price_change_percent"`
	High               float64 `json:"high"`
	Low                float64 `json:"low"`
	Volume             float64 `json:"volume"`
	QuoteVolume        float64 `json:"quote_volume"`
	Timestamp          int64   `json:"timestamp"`
	EventTime          string  `json:"event_time"`
}

func (m TickerMessage) MessageType() string { return "ticker" }

// MiniTickerMessage represents a normalized mini ticker update for a symbol.
type MiniTickerMessage struct {
	Type        string  `json:"type"`
	Symbol      string  `json:"symbol"`
	Price       float64 `json:"price"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Volume      float64 `json:"volume"`
	QuoteVolume float64 `json:"quote_volume"`
	Timestamp   int64   `json:"timestamp"`
	EventTime   string  `json:"event_time"`
}

func (m MiniTickerMessage) MessageType() string { return "mini_ticker" }

// KlineMessage represents a normalized candlestick update.
type KlineMessage struct {
	Type      string  `json:"type"`
	Symbol    string  `json:"symbol"`
	Interval  string  `json:"interval"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	IsClosed  bool    `json:"is_closed"`
	EventTime int64   `json:"event_time"`
	StartTime int64   `json:"start_time"`
	EndTime   int64   `json:"end_time"`
}

func (m KlineMessage) MessageType() string { return "kline" }

// DepthMessage represents a normalized order book delta. Bids and asks are
// price/quantity pairs.
type DepthMessage struct {
	Type      string       `json:"type"`
	Symbol    string       `json:"symbol"`
	EventTime int64        `json:"event_time"`
	Bids      [][2]float64 `json:"bids"`
	Asks      [][2]float64 `json:"asks"`
}

func (m DepthMessage) MessageType() string { return "depth" }

// UserDataMessage wraps an account or order update from the user data stream.
// Data carries the raw upstream event untouched.
type UserDataMessage struct {
	Type      string          `json:"type"`
	EventType string          `json:"event_type"`
	EventTime int64           `json:"event_time"`
	Data      json.RawMessage `json:"data"`
}

func (m UserDataMessage) MessageType() string { return "user_data" }

// ErrorMessage represents an error delivered to a client socket.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (m ErrorMessage) MessageType() string { return "error" }

// HeartbeatMessage is sent on the control socket when no command arrives
// within the idle window.
type HeartbeatMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

func (m HeartbeatMessage) MessageType() string { return "heartbeat" }

// PongMessage answers a client ping command.
type PongMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

func (m PongMessage) MessageType() string { return "pong" }

// ConnectionMessage confirms a freshly accepted control connection.
type ConnectionMessage struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

func (m ConnectionMessage) MessageType() string { return "connection" }

// NewErrorMessage builds an error payload for client delivery.
func NewErrorMessage(message string) ErrorMessage {
	return ErrorMessage{Type: "error", Message: message}
}
