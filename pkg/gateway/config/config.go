// Package config loads the assistant server configuration from the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds everything the server needs at startup. All values come
// from LUMEN_* environment variables, except the upstream service keys
// which keep their conventional names.
type Config struct {
	Addr      string
	AppName   string
	Version   string
	PublicURL string

	// Upstream model access.
	GoogleAPIKey  string
	LiveModel     string
	SubAgentModel string
	EmailModel    string
	Voice         string

	// User accounts. An empty DatabaseURL disables the account
	// endpoints; chat still works for any user id.
	DatabaseURL string
	UserDataDir string

	// Uploads. S3Bucket empty means local disk under UploadDir.
	UploadDir      string
	S3Bucket       string
	S3Prefix       string
	MaxUploadBytes int64
	MaxBodyBytes   int64

	// Graph memory. An empty key disables recall and auto-save.
	MemoryAPIKey  string
	MemoryBaseURL string

	// MCP sub-agent servers. Empty path uses the built-in catalog.
	MCPCatalogPath string

	// Agent-to-agent.
	A2AEnabled     bool
	A2ADefaultUser string
	A2AAgentURLs   []string
	A2ATimeout     time.Duration

	// Limits.
	RateLimitRPS   float64
	RateLimitBurst int
	MaxSessions    int

	// CORS. Empty disables cross-origin access.
	CORSAllowedOrigins map[string]struct{}

	// Timeouts.
	ReadHeaderTimeout time.Duration
	WSWriteTimeout    time.Duration
	WSPingInterval    time.Duration
	SessionGrace      time.Duration
	ShutdownGrace     time.Duration

	// Logging.
	LogLevel  string
	LogFormat string
}

// Version reported by GET /config until a build injects a real one.
const defaultVersion = "0.1.0"

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:               envOr("LUMEN_ADDR", ":8001"),
		AppName:            envOr("LUMEN_APP_NAME", "Lumen"),
		Version:            envOr("LUMEN_VERSION", defaultVersion),
		PublicURL:          envOr("LUMEN_PUBLIC_URL", "http://localhost:8001"),
		GoogleAPIKey:       strings.TrimSpace(os.Getenv("GOOGLE_API_KEY")),
		LiveModel:          envOr("LUMEN_LIVE_MODEL", ""),
		SubAgentModel:      envOr("LUMEN_SUBAGENT_MODEL", ""),
		EmailModel:         envOr("LUMEN_EMAIL_MODEL", ""),
		Voice:              envOr("LUMEN_VOICE", "Aoede"),
		DatabaseURL:        envOr("LUMEN_DATABASE_URL", ""),
		UserDataDir:        envOr("LUMEN_USER_DATA_DIR", "user_data"),
		UploadDir:          envOr("LUMEN_UPLOAD_DIR", "uploads"),
		S3Bucket:           envOr("LUMEN_S3_BUCKET", ""),
		S3Prefix:           envOr("LUMEN_S3_PREFIX", ""),
		MaxUploadBytes:     envInt64Or("LUMEN_MAX_UPLOAD_BYTES", 25<<20),
		MaxBodyBytes:       envInt64Or("LUMEN_MAX_BODY_BYTES", 1<<20),
		MemoryAPIKey:       strings.TrimSpace(os.Getenv("ZEP_API_KEY")),
		MemoryBaseURL:      envOr("LUMEN_MEMORY_BASE_URL", ""),
		MCPCatalogPath:     envOr("LUMEN_MCP_CATALOG", ""),
		A2AEnabled:         envBoolOr("LUMEN_A2A_ENABLED", true),
		A2ADefaultUser:     envOr("LUMEN_A2A_DEFAULT_USER", "test"),
		A2AAgentURLs:       splitCSV(os.Getenv("LUMEN_A2A_AGENT_URLS")),
		A2ATimeout:         envDurationOr("LUMEN_A2A_TIMEOUT", 30*time.Second),
		RateLimitRPS:       envFloat64Or("LUMEN_RATE_LIMIT_RPS", 10),
		RateLimitBurst:     envIntOr("LUMEN_RATE_LIMIT_BURST", 20),
		MaxSessions:        envIntOr("LUMEN_MAX_SESSIONS", 32),
		CORSAllowedOrigins: make(map[string]struct{}),
		ReadHeaderTimeout:  envDurationOr("LUMEN_READ_HEADER_TIMEOUT", 10*time.Second),
		WSWriteTimeout:     envDurationOr("LUMEN_WS_WRITE_TIMEOUT", 5*time.Second),
		WSPingInterval:     envDurationOr("LUMEN_WS_PING_INTERVAL", 20*time.Second),
		SessionGrace:       envDurationOr("LUMEN_SESSION_GRACE", 5*time.Second),
		ShutdownGrace:      envDurationOr("LUMEN_SHUTDOWN_GRACE", 30*time.Second),
		LogLevel:           envOr("LUMEN_LOG_LEVEL", "info"),
		LogFormat:          envOr("LUMEN_LOG_FORMAT", "text"),
	}

	for _, origin := range splitCSV(os.Getenv("LUMEN_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.GoogleAPIKey == "" {
		return Config{}, fmt.Errorf("GOOGLE_API_KEY must be set")
	}
	if cfg.Addr == "" {
		return Config{}, fmt.Errorf("LUMEN_ADDR must not be empty")
	}
	if cfg.PublicURL == "" {
		return Config{}, fmt.Errorf("LUMEN_PUBLIC_URL must not be empty")
	}
	if cfg.MaxUploadBytes <= 0 {
		return Config{}, fmt.Errorf("LUMEN_MAX_UPLOAD_BYTES must be > 0")
	}
	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("LUMEN_MAX_BODY_BYTES must be > 0")
	}
	if cfg.A2ATimeout <= 0 {
		return Config{}, fmt.Errorf("LUMEN_A2A_TIMEOUT must be > 0")
	}
	if cfg.A2AEnabled && strings.TrimSpace(cfg.A2ADefaultUser) == "" {
		return Config{}, fmt.Errorf("LUMEN_A2A_DEFAULT_USER must be set when LUMEN_A2A_ENABLED=true")
	}
	if cfg.RateLimitRPS < 0 {
		return Config{}, fmt.Errorf("LUMEN_RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.RateLimitBurst < 0 {
		return Config{}, fmt.Errorf("LUMEN_RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.RateLimitRPS > 0 && cfg.RateLimitBurst < 1 {
		return Config{}, fmt.Errorf("LUMEN_RATE_LIMIT_BURST must be >= 1 when rate limiting is enabled")
	}
	if cfg.MaxSessions <= 0 {
		return Config{}, fmt.Errorf("LUMEN_MAX_SESSIONS must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("LUMEN_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("LUMEN_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("LUMEN_WS_PING_INTERVAL must be > 0")
	}
	if cfg.SessionGrace <= 0 {
		return Config{}, fmt.Errorf("LUMEN_SESSION_GRACE must be > 0")
	}
	if cfg.ShutdownGrace <= 0 {
		return Config{}, fmt.Errorf("LUMEN_SHUTDOWN_GRACE must be > 0")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("LUMEN_LOG_LEVEL must be one of debug|info|warn|error")
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return Config{}, fmt.Errorf("LUMEN_LOG_FORMAT must be one of text|json")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
