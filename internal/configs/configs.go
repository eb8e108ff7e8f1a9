/*
Package configs is responsible for loading and parsing the application's configuration settings.

Settings come from operating system environment variables. An optional YAML file named by
CONFIG_FILE supplies values for variables that are not set in the environment, which keeps
secrets out of the file while letting a deployment check in its non-secret settings.
*/
package configs

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultMemberSessionTTL is the lifetime of a member session (30 days).
	DefaultMemberSessionTTL = 30 * 24 * time.Hour

	// DefaultAdminSessionTTL is the lifetime of an admin session (7 days).
	DefaultAdminSessionTTL = 7 * 24 * time.Hour

	developmentDSN = "file:data/nook.db"
)

// AppConfig contains all configuration parameters required for the application to run.
type AppConfig struct {
	// General Server Settings
	Environment string
	Port        int

	// Security Settings
	AllowedOrigins      []string
	SessionCookieSecure bool
	TrustProxyHeaders   bool
	APIRate             float64
	APIBurst            int

	// Database Settings
	DatabaseDSN string

	// Session Settings
	MemberSessionTTL    time.Duration
	AdminSessionTTL     time.Duration
	SessionReapInterval time.Duration

	// Relay Settings
	WSConnectRate  float64
	WSConnectBurst int
	WSPingPeriod   time.Duration
	SignalBuffer   int
	ChatBuffer     int
	SignalMaxFrame int64
	ChatMaxFrame   int64

	// Observability Settings
	OTLPEndpoint string
	AMQPURL      string
	AMQPExchange string
}

// IsDevelopment reports whether the server runs in the development environment.
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// source resolves a key from the environment first and the YAML overlay second.
type source struct {
	file map[string]string
}

func (s source) get(key string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return s.file[key]
}

func loadOverlay(path string) (map[string]string, error) {
	if path == "" {
		return map[string]string{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case []any:
			parts := make([]string, 0, len(val))
			for _, p := range val {
				parts = append(parts, fmt.Sprint(p))
			}
			out[strings.ToUpper(k)] = strings.Join(parts, ",")
		default:
			out[strings.ToUpper(k)] = fmt.Sprint(val)
		}
	}
	return out, nil
}

// LoadConfig reads and parses the application configuration.
// It provides default values for each configuration item and performs necessary type conversions and validation.
func LoadConfig() (*AppConfig, error) {
	overlay, err := loadOverlay(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}
	src := source{file: overlay}

	cfg := &AppConfig{}

	// --- General Server Settings ---
	cfg.Environment = src.get("ENVIRONMENT")
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	port, err := intOr(src, "PORT", 3000)
	if err != nil {
		return nil, err
	}
	if port < 1024 || port > 65535 {
		return nil, fmt.Errorf("port number %d is outside the recommended range (%d-%d) to avoid privileged ports", port, 1024, 65535)
	}
	cfg.Port = port

	// --- Security Settings ---
	cfg.AllowedOrigins = []string{}
	if originsStr := src.get("ALLOWED_ORIGINS"); originsStr != "" {
		for _, origin := range strings.Split(originsStr, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
			}
		}
	}

	secure, err := boolOr(src, "SESSION_COOKIE_SECURE", !cfg.IsDevelopment())
	if err != nil {
		return nil, err
	}
	cfg.SessionCookieSecure = secure

	// Proxy headers are only honoured behind a proxy that overwrites them.
	if cfg.TrustProxyHeaders, err = boolOr(src, "TRUST_PROXY_HEADERS", false); err != nil {
		return nil, err
	}
	if cfg.APIRate, err = floatOr(src, "API_RATE", 5); err != nil {
		return nil, err
	}
	if cfg.APIBurst, err = intOr(src, "API_BURST", 20); err != nil {
		return nil, err
	}
	if cfg.APIRate <= 0 || cfg.APIBurst < 1 {
		return nil, fmt.Errorf("API_RATE and API_BURST must be positive")
	}

	// --- Database Settings ---
	cfg.DatabaseDSN = src.get("DATABASE_URL")
	if cfg.DatabaseDSN == "" {
		if !cfg.IsDevelopment() {
			return nil, fmt.Errorf("DATABASE_URL environment variable is required in %s environment", cfg.Environment)
		}
		cfg.DatabaseDSN = developmentDSN
	}

	// --- Session Settings ---
	if cfg.MemberSessionTTL, err = durationOr(src, "MEMBER_SESSION_TTL", DefaultMemberSessionTTL); err != nil {
		return nil, err
	}
	if cfg.AdminSessionTTL, err = durationOr(src, "ADMIN_SESSION_TTL", DefaultAdminSessionTTL); err != nil {
		return nil, err
	}
	if cfg.MemberSessionTTL <= 0 || cfg.AdminSessionTTL <= 0 {
		return nil, fmt.Errorf("session lifetimes must be positive")
	}
	if cfg.SessionReapInterval, err = durationOr(src, "SESSION_REAP_INTERVAL", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SessionReapInterval < 0 {
		return nil, fmt.Errorf("SESSION_REAP_INTERVAL must not be negative")
	}

	// --- Relay Settings ---
	if cfg.WSConnectRate, err = floatOr(src, "WS_CONNECT_RATE", 0.5); err != nil {
		return nil, err
	}
	if cfg.WSConnectBurst, err = intOr(src, "WS_CONNECT_BURST", 10); err != nil {
		return nil, err
	}
	if cfg.WSPingPeriod, err = durationOr(src, "WS_PING_PERIOD", 54*time.Second); err != nil {
		return nil, err
	}
	if cfg.WSPingPeriod <= 0 {
		return nil, fmt.Errorf("WS_PING_PERIOD must be positive")
	}
	if cfg.SignalBuffer, err = intOr(src, "SIGNAL_BUFFER", 64); err != nil {
		return nil, err
	}
	if cfg.ChatBuffer, err = intOr(src, "CHAT_BUFFER", 256); err != nil {
		return nil, err
	}
	if cfg.SignalBuffer < 1 || cfg.ChatBuffer < 1 {
		return nil, fmt.Errorf("relay buffers must hold at least one message")
	}
	if cfg.SignalMaxFrame, err = int64Or(src, "SIGNAL_MAX_FRAME", 256*1024); err != nil {
		return nil, err
	}
	if cfg.ChatMaxFrame, err = int64Or(src, "CHAT_MAX_FRAME", 1<<20); err != nil {
		return nil, err
	}
	if cfg.SignalMaxFrame < 1 || cfg.ChatMaxFrame < 1 {
		return nil, fmt.Errorf("relay frame limits must be positive")
	}

	// --- Observability Settings ---
	cfg.OTLPEndpoint = src.get("OTEL_EXPORTER_OTLP_ENDPOINT")
	cfg.AMQPURL = src.get("AMQP_URL")
	cfg.AMQPExchange = src.get("AMQP_EXCHANGE")
	if cfg.AMQPExchange == "" {
		cfg.AMQPExchange = "nook.events"
	}

	return cfg, nil
}

func intOr(src source, key string, def int) (int, error) {
	v := src.get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return n, nil
}

func int64Or(src source, key string, def int64) (int64, error) {
	v := src.get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return n, nil
}

func floatOr(src source, key string, def float64) (float64, error) {
	v := src.get(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return f, nil
}

func boolOr(src source, key string, def bool) (bool, error) {
	v := src.get(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return b, nil
}

func durationOr(src source, key string, def time.Duration) (time.Duration, error) {
	v := src.get(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return d, nil
}
