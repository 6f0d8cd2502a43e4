// Package config provides configuration for the mediator service.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the service configuration, parsed from the environment.
type Config struct {
	// Server settings. RPCPort enables the JSON-RPC listener for trusted
	// channel adapters; 0 leaves it off.
	HTTPPort int `env:"HTTP_PORT" envDefault:"8080"`
	RPCPort  int `env:"RPC_PORT" envDefault:"0"`

	// LLM settings. The chat-completions client is vendor-agnostic: pointing
	// BaseURL at an OpenAI-compatible endpoint (OpenAI, DeepSeek, Qwen, a
	// local proxy) switches providers without code changes.
	LLMBaseURL string        `env:"LLM_BASE_URL" envDefault:"https://api.openai.com"`
	LLMAPIKey  string        `env:"LLM_API_KEY"`
	LLMModel   string        `env:"LLM_MODEL" envDefault:"gpt-4o"`
	LLMTimeout time.Duration `env:"LLM_TIMEOUT" envDefault:"120s"`

	// Session defaults
	MaxRounds       int           `env:"MAX_ROUNDS" envDefault:"3"`
	RoundTimeout    time.Duration `env:"ROUND_TIMEOUT" envDefault:"300s"`
	MinResponsePct  int           `env:"MIN_RESPONSE_PCT" envDefault:"60"`
	GracePeriod     time.Duration `env:"GRACE_PERIOD" envDefault:"60s"`
	MaxParticipants int           `env:"MAX_PARTICIPANTS" envDefault:"20"`

	// ScopingRound enables the round-0 admin scoping phase before round 1.
	ScopingRound bool `env:"SCOPING_ROUND" envDefault:"false"`

	// Audit trail
	AuditDB string `env:"AUDIT_DB" envDefault:"file:mediator_audit.db?cache=shared&mode=rwc"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load parses configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}
