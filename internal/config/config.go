// Package config loads the chatstream CLI configuration from YAML, .env and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Transport modes.
const (
	ModeChunked     = "chunked"
	ModeEventStream = "eventstream"
)

// Broker kinds.
const (
	BrokerLocal = "local"
	BrokerNATS  = "nats"
)

// Config is the top-level configuration.
type Config struct {
	LLM    LLMConfig    `yaml:"llm"`
	Stream StreamConfig `yaml:"stream"`
	Logger LoggerConfig `yaml:"logger"`
	Broker BrokerConfig `yaml:"broker"`
	Digest DigestConfig `yaml:"digest"`
}

// LLMConfig describes the OpenAI-compatible upstream.
type LLMConfig struct {
	APIKey       string  `yaml:"api_key"`
	BaseURL      string  `yaml:"base_url"`
	Model        string  `yaml:"model"`
	Temperature  float64 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
	SystemPrompt string  `yaml:"system_prompt"`
}

// StreamConfig selects and tunes the stream transport.
type StreamConfig struct {
	Mode           string        `yaml:"mode"`
	InitEndpoint   string        `yaml:"init_endpoint"`
	StreamEndpoint string        `yaml:"stream_endpoint"`
	QueryAuth      string        `yaml:"query_auth"`
	ReadSize       int           `yaml:"read_size"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	Breaker        BreakerConfig `yaml:"breaker"`
	RateLimit      float64       `yaml:"rate_limit"`
	RateBurst      int           `yaml:"rate_burst"`
}

// BreakerConfig configures the circuit breaker in front of the transport.
type BreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// LoggerConfig configures the console logger.
type LoggerConfig struct {
	Level string `yaml:"level"`
}

// BrokerConfig selects where session updates are published.
type BrokerConfig struct {
	Kind    string `yaml:"kind"`
	NATSURL string `yaml:"nats_url"`
}

// DigestConfig configures message card summarization.
type DigestConfig struct {
	Enabled bool          `yaml:"enabled"`
	Every   int           `yaml:"every"`
	Timeout time.Duration `yaml:"timeout"`
}

// Defaults returns a config with every field set to its default.
func Defaults() *Config {
	return &Config{
		LLM: LLMConfig{
			BaseURL:      "https://openai.qiniu.com/v1",
			Model:        "moonshotai/kimi-k2-0905",
			Temperature:  0.7,
			MaxTokens:    2000,
			SystemPrompt: "You are a helpful assistant.",
		},
		Stream: StreamConfig{
			Mode:        ModeChunked,
			ReadSize:    4096,
			IdleTimeout: 60 * time.Second,
			Breaker: BreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
			},
			RateLimit: 2,
			RateBurst: 4,
		},
		Logger: LoggerConfig{Level: "info"},
		Broker: BrokerConfig{Kind: BrokerLocal},
		Digest: DigestConfig{
			Enabled: true,
			Every:   3,
			Timeout: 30 * time.Second,
		},
	}
}

// ChatEndpoint returns the chunked-mode completions URL.
func (c *Config) ChatEndpoint() string {
	return strings.TrimRight(c.LLM.BaseURL, "/") + "/chat/completions"
}

// Load reads a YAML config file, the .env file of the working directory, environment
// overrides and finally the given overrides, then validates the result. A missing file is not
// an error; an empty path skips the file.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := LoadDotenv(); err != nil {
		return nil, err
	}
	if err := ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	for _, override := range overrides {
		override(cfg)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotenv loads variables from the given .env files, or ./.env when none are given.
// Variables already present in the environment win. Missing files are ignored.
func LoadDotenv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnvOverrides maps CHATSTREAM_* and NATS_URL env vars to config fields.
func ApplyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("CHATSTREAM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	} else if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("CHATSTREAM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("CHATSTREAM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("CHATSTREAM_SYSTEM_PROMPT"); v != "" {
		cfg.LLM.SystemPrompt = v
	}
	if v := os.Getenv("CHATSTREAM_TEMPERATURE"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("CHATSTREAM_TEMPERATURE: %w", err)
		}
		cfg.LLM.Temperature = t
	}
	if v := os.Getenv("CHATSTREAM_MAX_TOKENS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CHATSTREAM_MAX_TOKENS: %w", err)
		}
		cfg.LLM.MaxTokens = n
	}
	if v := os.Getenv("CHATSTREAM_MODE"); v != "" {
		cfg.Stream.Mode = v
	}
	if v := os.Getenv("CHATSTREAM_IDLE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CHATSTREAM_IDLE_TIMEOUT: %w", err)
		}
		cfg.Stream.IdleTimeout = d
	}
	if v := os.Getenv("CHATSTREAM_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("CHATSTREAM_BROKER"); v != "" {
		cfg.Broker.Kind = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.Broker.NATSURL = v
	}
	return nil
}
