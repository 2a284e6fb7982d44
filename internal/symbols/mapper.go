package symbols

import "strings"

// Normalize converts client-supplied symbol input to the form Binance
// futures endpoints expect: uppercase with no separators.
// Examples:
//
//	btcusdt   -> BTCUSDT
//	BTC-USDT  -> BTCUSDT
//	btc/usdt  -> BTCUSDT
func Normalize(sym string) string {
	sym = strings.TrimSpace(sym)
	sym = strings.ReplaceAll(sym, "-", "")
	sym = strings.ReplaceAll(sym, "/", "")
	return strings.ToUpper(sym)
}

// Valid reports whether a normalized symbol looks like a Binance futures
// trading pair. It rejects empty strings and anything with characters
// outside A-Z and 0-9.
func Valid(sym string) bool {
	if sym == "" {
		return false
	}
	for _, r := range sym {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
