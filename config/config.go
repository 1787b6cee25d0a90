package config

import (
	"os"
	"strconv"
)

// Config holds broker-wide configuration, loaded entirely from the process
// environment. There is no config file — matches the teacher's env-first
// posture but trims the multi-tenant SaaS sections that don't apply to a
// single-process market-data broker.
type Config struct {
	Binance BinanceConfig
	Server  ServerConfig
	Logging LoggingConfig
	Proxy   ProxyConfig
	Redis   RedisConfig
}

// BinanceConfig holds exchange credentials and connection settings.
// Absence of APIKey/SecretKey selects mock mode (§4.7 "Mock mode").
type BinanceConfig struct {
	APIKey    string
	SecretKey string
	BaseURL   string
	WSBaseURL string
	TestNet   bool
}

// ServerConfig holds the downstream renderer-facing listener settings.
type ServerConfig struct {
	WSPort int
}

// LoggingConfig mirrors the teacher's logging.Config shape.
type LoggingConfig struct {
	Level       string
	Output      string
	JSONFormat  bool
	IncludeFile bool
}

// ProxyConfig captures the outbound proxy the broker should dial upstream
// connections through, if any (§6 "http_proxy/https_proxy/HTTP_PROXY/HTTPS_PROXY").
type ProxyConfig struct {
	URL string // empty means "no proxy"
}

// RedisConfig configures the optional cross-process renderer-count mirror
// (see internal/statemirror).
type RedisConfig struct {
	Addr    string
	Enabled bool
}

// Load builds a Config from the environment using the defaults §4.1 and §6 name.
func Load() (*Config, error) {
	cfg := &Config{
		Binance: BinanceConfig{
			APIKey:    getEnv("BK", ""),
			SecretKey: getEnv("BS", ""),
			BaseURL:   getEnv("BINANCE_BASE_URL", "https://api.binance.com"),
			WSBaseURL: getEnv("BINANCE_WS_BASE_URL", "wss://stream.binance.com:9443"),
			TestNet:   getEnvBool("BINANCE_TESTNET", false),
		},
		Server: ServerConfig{
			WSPort: firstEnvInt(14477, "WS_PORT", "WEBSOCKET_PORT", "VITE_WS_PORT"),
		},
		Logging: LoggingConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Output:      getEnv("LOG_OUTPUT", "stdout"),
			JSONFormat:  getEnvBool("LOG_JSON", false),
			IncludeFile: getEnvBool("LOG_INCLUDE_FILE", false),
		},
		Proxy: ProxyConfig{
			URL: firstEnv("https_proxy", "HTTPS_PROXY", "http_proxy", "HTTP_PROXY"),
		},
		Redis: RedisConfig{
			Addr:    getEnv("REDIS_ADDR", ""),
			Enabled: getEnvBool("REDIS_STATE_MIRROR", false),
		},
	}

	return cfg, nil
}

// IsMockMode reports whether the broker should run without a real exchange
// connection (§4.7 "Mock mode").
func (c *Config) IsMockMode() bool {
	return c.Binance.APIKey == "" || c.Binance.SecretKey == ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func firstEnvInt(fallback int, keys ...string) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
