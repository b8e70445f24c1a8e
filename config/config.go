// Package config loads the gateway configuration from the environment.
// A .env file in the working directory is honored when present; real
// environment variables win over .env entries.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the gateway configuration. It is built once at startup
// and treated as read-only afterwards.
type Config struct {
	// OpenAIBaseURL is the upstream base URL, e.g. "https://host/v1".
	OpenAIBaseURL string

	// HaikuModel is the upstream model substituted for haiku-class requests.
	HaikuModel string

	// Listen is the bind address for the HTTP server.
	Listen string

	// ConnectionTimeout bounds TCP establishment to the upstream.
	ConnectionTimeout time.Duration

	// IdleConnectionTimeout bounds keep-alive idle time, and doubles as the
	// per-read inactivity timeout on upstream streams.
	IdleConnectionTimeout time.Duration

	// DisableDefaultAdapters turns off the default prompt and tool adapters.
	DisableDefaultAdapters bool

	// DisableGroqMaxTokens turns off the Groq/Kimi max_tokens clamp.
	DisableGroqMaxTokens bool

	// LimitDirectiveToClaudeMd restricts user-message directive extraction
	// to messages starting with the CLAUDE.md reminder marker.
	LimitDirectiveToClaudeMd bool

	// LogLevel is the logrus level name.
	LogLevel string
}

const (
	DefaultHaikuModel            = "openai/gpt-4.1-mini"
	DefaultListen                = "0.0.0.0:33332"
	DefaultConnectionTimeout     = 10 * time.Second
	DefaultIdleConnectionTimeout = 60 * time.Second
)

// Load reads configuration from the environment (plus .env when present).
// OPENAI_BASE_URL is required; everything else has a default.
func Load() (*Config, error) {
	// Ignore a missing .env; the environment alone is a valid source.
	_ = godotenv.Load()

	cfg := &Config{
		HaikuModel:            DefaultHaikuModel,
		Listen:                DefaultListen,
		ConnectionTimeout:     DefaultConnectionTimeout,
		IdleConnectionTimeout: DefaultIdleConnectionTimeout,
		LogLevel:              "info",
	}

	cfg.OpenAIBaseURL = os.Getenv("OPENAI_BASE_URL")
	if cfg.OpenAIBaseURL == "" {
		return nil, fmt.Errorf("OPENAI_BASE_URL must be set")
	}

	if haikuModel := os.Getenv("HAIKU_MODEL"); haikuModel != "" {
		cfg.HaikuModel = haikuModel
	}
	if listen := os.Getenv("LISTEN"); listen != "" {
		cfg.Listen = listen
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}

	var err error
	if cfg.ConnectionTimeout, err = secondsEnv("CONNECTION_TIMEOUT", DefaultConnectionTimeout); err != nil {
		return nil, err
	}
	if cfg.IdleConnectionTimeout, err = secondsEnv("IDLE_CONNECTION_TIMEOUT", DefaultIdleConnectionTimeout); err != nil {
		return nil, err
	}

	cfg.DisableDefaultAdapters = boolEnv("DISABLE_DEFAULT_ADAPTERS")
	cfg.DisableGroqMaxTokens = boolEnv("DISABLE_GROQ_MAX_TOKENS")
	cfg.LimitDirectiveToClaudeMd = boolEnv("LIMIT_DIRECTIVE_TO_CLAUDEMD")

	return cfg, nil
}

// boolEnv treats "1" and "true" as enabled, matching the flags' documented
// values.
func boolEnv(name string) bool {
	value := os.Getenv(name)
	return value == "1" || value == "true"
}

func secondsEnv(name string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(name)
	if value == "" {
		return fallback, nil
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer number of seconds, got %q", name, value)
	}
	return time.Duration(seconds) * time.Second, nil
}
