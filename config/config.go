package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Cryptotrader CryptotraderConfig `yaml:"cryptotrader"`
	Server       ServerConfig       `yaml:"server"`
	Binance      BinanceConfig      `yaml:"binance"`
	Streams      StreamsConfig      `yaml:"streams"`
	Archive      ArchiveConfig      `yaml:"archive"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type CryptotraderConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ServerConfig struct {
	Address           string        `yaml:"address"`
	SendBuffer        int           `yaml:"send_buffer"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

type BinanceConfig struct {
	APIKey            string          `yaml:"api_key"`
	APISecret         string          `yaml:"api_secret"`
	Testnet           bool            `yaml:"testnet"`
	KeepAliveInterval time.Duration   `yaml:"keepalive_interval"`
	RateLimit         RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type StreamsConfig struct {
	DefaultInterval string   `yaml:"default_interval"`
	FallbackSymbols []string `yaml:"fallback_symbols"`
}

// ArchiveConfig controls the parquet archive of ticker frames written to S3.
type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Symbols       []string      `yaml:"symbols"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Compression   string        `yaml:"compression"`
	S3            S3Config      `yaml:"s3"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type LoggingConfig struct {
	Level         string                 `yaml:"level"`
	Format        string                 `yaml:"format"`
	Output        string                 `yaml:"output"`
	MaxAge        int                    `yaml:"max_age"`
	Fields        map[string]interface{} `yaml:"fields"`
	DashboardName string                 `yaml:"dashboard_name"`
}

func LoadConfig(path string) (*Config, error) {
	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Server: ServerConfig{
			Address:           "0.0.0.0:8000",
			SendBuffer:        256,
			HeartbeatInterval: 30 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Binance: BinanceConfig{
			Testnet:           true,
			KeepAliveInterval: 25 * time.Minute,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 10,
				BurstSize:         10,
			},
		},
		Streams: StreamsConfig{
			DefaultInterval: "1m",
			FallbackSymbols: []string{"BTCUSDT", "ETHUSDT", "BNBUSDT", "ADAUSDT", "XRPUSDT", "SOLUSDT"},
		},
		Archive: ArchiveConfig{
			BatchSize:     500,
			FlushInterval: time.Minute,
			Compression:   "snappy",
		},
		Metrics: MetricsConfig{
			Address: "0.0.0.0:2112",
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override Binance credentials from environment variables if available
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		config.Binance.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("BINANCE_API_SECRET"); v != "" {
		config.Binance.APISecret = strings.TrimSpace(v)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Cryptotrader.Name == "" {
		return fmt.Errorf("cryptotrader.name is required")
	}

	if cfg.Cryptotrader.Version == "" {
		return fmt.Errorf("cryptotrader.version is required")
	}

	if cfg.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if cfg.Server.SendBuffer <= 0 {
		return fmt.Errorf("server.send_buffer must be greater than 0")
	}
	if cfg.Server.HeartbeatInterval <= 0 {
		return fmt.Errorf("server.heartbeat_interval must be greater than 0")
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be greater than 0")
	}

	if cfg.Binance.KeepAliveInterval <= 0 {
		return fmt.Errorf("binance.keepalive_interval must be greater than 0")
	}
	if cfg.Binance.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("binance.rate_limit.requests_per_second must be greater than 0")
	}
	if cfg.Binance.RateLimit.BurstSize <= 0 {
		return fmt.Errorf("binance.rate_limit.burst_size must be greater than 0")
	}

	if !isValidInterval(cfg.Streams.DefaultInterval) {
		return fmt.Errorf("streams.default_interval '%s' is invalid", cfg.Streams.DefaultInterval)
	}
	for _, sym := range cfg.Streams.FallbackSymbols {
		if !isValidSymbol(sym) {
			return fmt.Errorf("streams.fallback_symbols entry '%s' is invalid", sym)
		}
	}

	if cfg.Archive.Enabled {
		if cfg.Archive.S3.Bucket == "" {
			return fmt.Errorf("archive.s3.bucket is required when the archive is enabled")
		}
		if cfg.Archive.S3.Region == "" {
			return fmt.Errorf("archive.s3.region is required when the archive is enabled")
		}
		if len(cfg.Archive.Symbols) == 0 {
			return fmt.Errorf("archive.symbols must list at least one symbol")
		}
		for _, sym := range cfg.Archive.Symbols {
			if !isValidSymbol(sym) {
				return fmt.Errorf("archive.symbols entry '%s' is invalid", sym)
			}
		}
		if cfg.Archive.BatchSize <= 0 {
			return fmt.Errorf("archive.batch_size must be greater than 0")
		}
		if cfg.Archive.FlushInterval <= 0 {
			return fmt.Errorf("archive.flush_interval must be greater than 0")
		}
		switch cfg.Archive.Compression {
		case "", "uncompressed", "snappy", "gzip":
		default:
			return fmt.Errorf("archive.compression '%s' is invalid", cfg.Archive.Compression)
		}
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Address == "" {
		return fmt.Errorf("metrics.address is required when metrics are enabled")
	}

	return nil
}

var klineIntervals = map[string]struct{}{
	"1m": {}, "3m": {}, "5m": {}, "15m": {}, "30m": {},
	"1h": {}, "2h": {}, "4h": {}, "6h": {}, "8h": {}, "12h": {},
	"1d": {}, "3d": {}, "1w": {}, "1M": {},
}

func isValidInterval(interval string) bool {
	_, ok := klineIntervals[interval]
	return ok
}

var symbolRegexp = regexp.MustCompile(`^[A-Z0-9]{1,20}$`)

func isValidSymbol(sym string) bool {
	return symbolRegexp.MatchString(sym)
}
