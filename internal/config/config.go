package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	JWTSecret          string
	JWTIssuer          string
	CORSAllowedOrigins []string

	BaseCurrency string
	// FXRates maps a settlement currency to its fixed conversion rate from the
	// base currency, e.g. "IDR:15500,CNY:7.2". Deployment constants, not live.
	FXRates map[string]float64

	MidtransServerKey string
	MidtransBaseURL   string
	XenditSecretKey   string
	XenditBaseURL     string
	ProviderTimeout   time.Duration

	IdempotencyTTL   time.Duration
	WebhookReplayTTL time.Duration
	CheckoutRate     string
	RedeemRate       string

	EventEndpoints     []string
	EventSigningSecret string
	EventQueueName     string
	WorkerConcurrency  int
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		JWTSecret:          k.String("JWT_SECRET"),
		JWTIssuer:          strings.TrimSpace(k.String("JWT_ISSUER")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		BaseCurrency:       strings.ToUpper(valueOrDefault(k.String("BASE_CURRENCY"), "USD")),
		FXRates:            parseRates(k.String("PAYMENT_FX_RATES")),
		MidtransServerKey:  k.String("MIDTRANS_SERVER_KEY"),
		MidtransBaseURL:    k.String("MIDTRANS_BASE_URL"),
		XenditSecretKey:    k.String("XENDIT_SECRET_KEY"),
		XenditBaseURL:      k.String("XENDIT_BASE_URL"),
		ProviderTimeout:    parseDuration(k.String("PROVIDER_TIMEOUT"), "10s"),
		IdempotencyTTL:     parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		WebhookReplayTTL:   parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "72h"),
		CheckoutRate:       valueOrDefault(k.String("CHECKOUT_RATE_LIMIT"), "20-M"),
		RedeemRate:         valueOrDefault(k.String("REDEEM_RATE_LIMIT"), "10-M"),
		EventEndpoints:     splitAndTrim(k.String("EVENT_ENDPOINTS")),
		EventSigningSecret: k.String("EVENT_SIGNING_SECRET"),
		EventQueueName:     valueOrDefault(k.String("EVENT_QUEUE_NAME"), "billing"),
		WorkerConcurrency:  parseInt(k.String("WORKER_CONCURRENCY"), 4),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func parseRates(value string) map[string]float64 {
	rates := make(map[string]float64)
	for _, pair := range splitAndTrim(value) {
		currency, rate, found := strings.Cut(pair, ":")
		if !found {
			continue
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(rate), 64)
		if err != nil || parsed <= 0 {
			continue
		}
		rates[strings.ToUpper(strings.TrimSpace(currency))] = parsed
	}
	return rates
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && parsed > 0 {
		return parsed
	}
	return fallback
}
