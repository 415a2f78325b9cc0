// Package config loads process configuration from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/atmx/procurement-engine/internal/ratelimit"
)

// Model is a provider and model name used for one reasoning role.
type Model struct {
	Provider string
	Name     string
}

type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	// Reasoning backends. A backend is only registered when its key is set.
	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	GeminiAPIKey      string
	GeminiBaseURL     string
	MistralAPIKey     string
	MistralBaseURL    string

	BuyerPrimary   Model
	BuyerFallback  Model
	SellerPrimary  Model
	SellerFallback Model
	MaxRetries     int

	QuoteWindow    time.Duration
	QuoteExtension time.Duration
	RoundWindow    time.Duration
	FinalizeWindow time.Duration
	MaxRounds      int

	RateLimits ratelimit.Limits

	// SellerCatalog is a JSON catalog path; empty selects the demo sellers.
	SellerCatalog string
}

// Load reads the configuration. A missing .env file is not an error;
// malformed numbers and durations are.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnvDefault("PORT", "8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		OpenRouterAPIKey:  os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterBaseURL: getEnvDefault("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		GeminiBaseURL:     getEnvDefault("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/openai/"),
		MistralAPIKey:     os.Getenv("MISTRAL_API_KEY"),
		MistralBaseURL:    getEnvDefault("MISTRAL_BASE_URL", "https://api.mistral.ai/v1"),
		BuyerPrimary:      Model{ratelimit.ProviderGemini, getEnvDefault("BUYER_PRIMARY_MODEL", "gemini-2.0-flash")},
		BuyerFallback:     Model{ratelimit.ProviderOpenRouter, getEnvDefault("BUYER_FALLBACK_MODEL", "deepseek/deepseek-chat-v3-0324:free")},
		SellerPrimary:     Model{ratelimit.ProviderGemini, getEnvDefault("SELLER_PRIMARY_MODEL", "gemini-2.0-flash")},
		SellerFallback:    Model{ratelimit.ProviderOpenRouter, getEnvDefault("SELLER_FALLBACK_MODEL", "deepseek/deepseek-chat-v3-0324:free")},
		SellerCatalog:     os.Getenv("SELLER_CATALOG"),
	}

	var err error
	ints := []struct {
		key string
		def int
		dst *int
	}{
		{"REASONING_MAX_RETRIES", 3, &cfg.MaxRetries},
		{"MAX_ROUNDS", 3, &cfg.MaxRounds},
		{"RATE_PER_MINUTE", 60, &cfg.RateLimits.PerMinute},
		{"RATE_PER_HOUR", 1000, &cfg.RateLimits.PerHour},
		{"RATE_PER_DAY", 10000, &cfg.RateLimits.PerDay},
		{"RATE_BURST", 10, &cfg.RateLimits.Burst},
	}
	for _, v := range ints {
		if *v.dst, err = getEnvInt(v.key, v.def); err != nil {
			return nil, err
		}
	}

	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"QUOTE_WINDOW", 30 * time.Second, &cfg.QuoteWindow},
		{"QUOTE_EXTENSION", 10 * time.Second, &cfg.QuoteExtension},
		{"ROUND_WINDOW", 8 * time.Second, &cfg.RoundWindow},
		{"FINALIZE_WINDOW", 15 * time.Second, &cfg.FinalizeWindow},
	}
	for _, v := range durations {
		if *v.dst, err = getEnvDuration(v.key, v.def); err != nil {
			return nil, err
		}
	}

	if cfg.MaxRounds < 1 {
		return nil, fmt.Errorf("MAX_ROUNDS must be at least 1, got %d", cfg.MaxRounds)
	}
	if cfg.MaxRetries < 1 {
		return nil, fmt.Errorf("REASONING_MAX_RETRIES must be at least 1, got %d", cfg.MaxRetries)
	}
	return cfg, nil
}

func getEnvDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, value)
	}
	if n < 0 {
		return 0, fmt.Errorf("%s: must not be negative", key)
	}
	return n, nil
}

// getEnvDuration accepts Go duration strings ("8s") or whole seconds ("8").
func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, value)
	}
	return dur, nil
}
