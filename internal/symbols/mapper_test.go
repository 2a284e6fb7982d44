package symbols

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"btcusdt", "BTCUSDT"},
		{"BTCUSDT", "BTCUSDT"},
		{"BTC-USDT", "BTCUSDT"},
		{"btc/usdt", "BTCUSDT"},
		{" ethusdt ", "ETHUSDT"},
		{"1000pepeusdt", "1000PEPEUSDT"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q)=%q want %q", tt.in, got, tt.want)
		}
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"BTCUSDT", true},
		{"1000PEPEUSDT", true},
		{"", false},
		{"BTC USDT", false},
		{"btcusdt", false},
	}
	for _, tt := range tests {
		if got := Valid(tt.in); got != tt.want {
			t.Errorf("Valid(%q)=%v want %v", tt.in, got, tt.want)
		}
	}
}
