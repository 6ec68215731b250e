// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, the database path, bot credentials, webhook settings, rate
// limiting, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tccp/tipbot-backend/internal/domain"
)

// BotConfig holds the Telegram bot credentials and webhook settings.
type BotConfig struct {
	Token         string // BOT_TOKEN
	Username      string // BOT_USERNAME, the "@handle" used to strip command suffixes
	APIBase       string // BOT_API_BASE, override for tests; empty means the public API
	WebhookPath   string // WEBHOOK_PATH, route the webhook listens on
	WebhookSecret string // WEBHOOK_SECRET, expected X-Telegram-Bot-Api-Secret-Token
	WebhookURL    string // WEBHOOK_URL, public URL registered on startup; empty skips registration
	AdminID       int64  // ADMIN_ID, the only account allowed to issue and fulfill
}

// TipConfig holds the defaults applied to the bare /tip form.
type TipConfig struct {
	DefaultAmount   decimal.Decimal // TIP_DEFAULT_AMOUNT
	DefaultCurrency string          // TIP_DEFAULT_CURRENCY
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool

	// App
	DBPath string // SQLite path
	Bot    BotConfig
	Tip    TipConfig

	// UpdateTTL bounds how long processed update ids are remembered for
	// webhook redelivery dedupe.
	UpdateTTL time.Duration

	// Rate limiting
	RateRPS   float64
	RateBurst int

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables, applies defaults,
// normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// App
		DBPath: getenv("DB_PATH", "tipbot.db"),
		Bot: BotConfig{
			Token:         getenv("BOT_TOKEN", ""),
			Username:      normalizeHandle(getenv("BOT_USERNAME", "")),
			APIBase:       getenv("BOT_API_BASE", ""),
			WebhookPath:   normalizePath(getenv("WEBHOOK_PATH", "/webhook")),
			WebhookSecret: getenv("WEBHOOK_SECRET", ""),
			WebhookURL:    getenv("WEBHOOK_URL", ""),
			AdminID:       getint64("ADMIN_ID", 0),
		},
		Tip: TipConfig{
			DefaultAmount:   getdecimal("TIP_DEFAULT_AMOUNT", decimal.NewFromInt(1000)),
			DefaultCurrency: strings.ToLower(getenv("TIP_DEFAULT_CURRENCY", "chdpu")),
		},

		UpdateTTL: getdur("UPDATE_TTL", 24*time.Hour),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 20.0),
		RateBurst: getint("RATE_BURST", 40),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "tipbot-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if strings.TrimSpace(cfg.Bot.Token) == "" {
		return cfg, errors.New("BOT_TOKEN must not be empty")
	}
	if cfg.Bot.AdminID == 0 {
		return cfg, errors.New("ADMIN_ID must be set to the admin's numeric account id")
	}
	if !cfg.Tip.DefaultAmount.IsPositive() {
		return cfg, errors.New("TIP_DEFAULT_AMOUNT must be a positive number")
	}
	if !domain.Currency(cfg.Tip.DefaultCurrency).Valid() {
		return cfg, errors.New("TIP_DEFAULT_CURRENCY must be a supported currency")
	}
	if cfg.UpdateTTL <= 0 {
		return cfg, errors.New("UPDATE_TTL must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps beyond decimal parsing) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getint64(k string, def int64) int64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getdecimal(k string, def decimal.Decimal) decimal.Decimal {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return def
}

// normalizeHandle lowercases a bot handle and guarantees a single leading '@'.
func normalizeHandle(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	if h == "" {
		return ""
	}
	return "@" + strings.TrimLeft(h, "@")
}

// normalizePath ensures a leading '/' and strips a trailing one (except root).
func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
