package config

import (
	"os"
	"strings"
	"testing"
)

// writeTempConfig creates a minimal configuration file required for LoadConfig
// and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

const minimalYAML = `cryptotrader:
  name: "TestApp"
  version: "1.0"
`

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t, minimalYAML)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Cryptotrader.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Cryptotrader.Name)
	}
	if cfg.Server.SendBuffer != 256 {
		t.Errorf("unexpected send buffer default: %d", cfg.Server.SendBuffer)
	}
	if cfg.Streams.DefaultInterval != "1m" {
		t.Errorf("unexpected default interval: %s", cfg.Streams.DefaultInterval)
	}
	if len(cfg.Streams.FallbackSymbols) != 6 {
		t.Errorf("unexpected fallback symbols: %v", cfg.Streams.FallbackSymbols)
	}
}

func TestLoadConfigMissingName(t *testing.T) {
	path := writeTempConfig(t, `cryptotrader:
  version: "1.0"
`)
	defer os.Remove(path)

	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected error for missing name")
	}
}

func TestLoadConfigInvalidInterval(t *testing.T) {
	path := writeTempConfig(t, minimalYAML+`streams:
  default_interval: "7m"
`)
	defer os.Remove(path)

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatalf("expected error for invalid interval")
	}
	if !strings.Contains(err.Error(), "default_interval") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadConfigArchiveDefaults(t *testing.T) {
	path := writeTempConfig(t, minimalYAML)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Archive.Enabled {
		t.Errorf("archive should be disabled by default")
	}
	if cfg.Archive.BatchSize != 500 {
		t.Errorf("unexpected batch size default: %d", cfg.Archive.BatchSize)
	}
	if cfg.Archive.Compression != "snappy" {
		t.Errorf("unexpected compression default: %s", cfg.Archive.Compression)
	}
}

func TestLoadConfigArchiveRequiresBucket(t *testing.T) {
	path := writeTempConfig(t, minimalYAML+`archive:
  enabled: true
  symbols:
    - BTCUSDT
`)
	defer os.Remove(path)

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatalf("expected error for missing bucket")
	}
	if !strings.Contains(err.Error(), "archive.s3.bucket") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "env-key")
	t.Setenv("BINANCE_API_SECRET", "env-secret")

	path := writeTempConfig(t, minimalYAML+`binance:
  api_key: "file-key"
  api_secret: "file-secret"
`)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Binance.APIKey != "env-key" {
		t.Errorf("env override not applied: %s", cfg.Binance.APIKey)
	}
	if cfg.Binance.APISecret != "env-secret" {
		t.Errorf("env override not applied: %s", cfg.Binance.APISecret)
	}
}

func TestIsValidInterval(t *testing.T) {
	cases := []struct {
		interval string
		valid    bool
	}{
		{"1m", true},
		{"1h", true},
		{"1M", true},
		{"7m", false},
		{"", false},
	}
	for _, c := range cases {
		if got := isValidInterval(c.interval); got != c.valid {
			t.Errorf("isValidInterval(%q) = %v, want %v", c.interval, got, c.valid)
		}
	}
}

func TestIsValidSymbol(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"BTCUSDT", true},
		{"1000PEPEUSDT", true},
		{"btcusdt", false},
		{"", false},
	}
	for _, c := range cases {
		if got := isValidSymbol(c.name); got != c.valid {
			t.Errorf("isValidSymbol(%q) = %v, want %v", c.name, got, c.valid)
		}
	}
}
