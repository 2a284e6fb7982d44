package models

// Supported command actions on the trade control socket.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionPing        = "ping"
)

// Command represents a control request received from a client on the trade
// socket. Interval only applies to kline subscriptions.
type Command struct {
	Action   string `json:"action"`
	Type     string `json:"type,omitempty"`
	Symbol   string `json:"symbol,omitempty"`
	Interval string `json:"interval,omitempty"`
}
