package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port            int
	DatabaseURL     string
	LogLevel        string
	AnthropicAPIKey string
	AnthropicModel  string
	ReasoningModel  string
	JWTSecret       string
	TokenTTLMinutes int
	HistoryWindow   int
	SerperAPIKey    string
	NatsURL         string
	NatsToken       string
}

func Load() Config {
	cfg := Config{
		Port:            envInt("PARLEY_PORT", 8001),
		DatabaseURL:     envStr("DATABASE_URL", ""),
		LogLevel:        envStr("LOG_LEVEL", "info"),
		AnthropicAPIKey: envStr("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  envStr("PARLEY_MODEL", "claude-sonnet-4-20250514"),
		ReasoningModel:  envStr("PARLEY_REASONING_MODEL", ""),
		JWTSecret:       envStr("PARLEY_JWT_SECRET", ""),
		TokenTTLMinutes: envInt("PARLEY_TOKEN_TTL_MINUTES", 30),
		HistoryWindow:   envInt("PARLEY_HISTORY_WINDOW", 20),
		SerperAPIKey:    envStr("SERPER_API_KEY", ""),
		NatsURL:         envStr("NATS_URL", ""),
		NatsToken:       envStr("NATS_TOKEN", ""),
	}
	if cfg.ReasoningModel == "" {
		cfg.ReasoningModel = cfg.AnthropicModel
	}
	return cfg
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
