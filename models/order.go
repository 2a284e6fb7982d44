package models

// Supported order types accepted by the order placement endpoint.
const (
	OrderTypeMarket       = "MARKET"
	OrderTypeLimit        = "LIMIT"
	OrderTypeStopLimit    = "STOP_LIMIT"
	OrderTypeTrailingStop = "TRAILING_STOP"
	OrderTypeStopMarket   = "STOP_MARKET"
)

// OrderRequest represents an order placement request accepted by the REST
// API. Quantity may be omitted when RiskPercentage is set, in which case the
// size is derived from the account balance.
type OrderRequest struct {
	Symbol          string  `json:"symbol"`
	Side            string  `json:"side"`
	OrderType       string  `json:"order_type"`
	Quantity        float64 `json:"quantity,omitempty"`
	Price           float64 `json:"price,omitempty"`
	StopPrice       float64 `json:"stop_price,omitempty"`
	CallbackRate    float64 `json:"callback_rate,omitempty"`
	ActivationPrice float64 `json:"activation_price,omitempty"`
	RiskPercentage  float64 `json:"risk_percentage,omitempty"`
}
