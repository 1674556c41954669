package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg and returns a *ValidationError listing every problem found.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLLM(cfg, ve)
	validateStream(cfg, ve)
	validateBroker(cfg, ve)
	validateDigest(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateLLM(cfg *Config, ve *ValidationError) {
	if cfg.LLM.APIKey == "" {
		ve.Add("llm.api_key must be set (or CHATSTREAM_API_KEY)")
	}
	if u, err := url.Parse(cfg.LLM.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		ve.Add("llm.base_url %q is not an absolute URL", cfg.LLM.BaseURL)
	}
	if cfg.LLM.Model == "" {
		ve.Add("llm.model must not be empty")
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		ve.Add("llm.temperature must be in [0, 2], got %v", cfg.LLM.Temperature)
	}
	if cfg.LLM.MaxTokens <= 0 {
		ve.Add("llm.max_tokens must be > 0")
	}
}

func validateStream(cfg *Config, ve *ValidationError) {
	switch cfg.Stream.Mode {
	case ModeChunked:
	case ModeEventStream:
		if cfg.Stream.StreamEndpoint == "" {
			ve.Add("stream.stream_endpoint is required in %s mode", ModeEventStream)
		}
	default:
		ve.Add("stream.mode must be %q or %q, got %q", ModeChunked, ModeEventStream, cfg.Stream.Mode)
	}
	if cfg.Stream.ReadSize <= 0 {
		ve.Add("stream.read_size must be > 0")
	}
	if cfg.Stream.IdleTimeout < 0 {
		ve.Add("stream.idle_timeout must not be negative")
	}
	if cfg.Stream.Breaker.Enabled && cfg.Stream.Breaker.MaxFailures == 0 {
		ve.Add("stream.breaker.max_failures must be > 0 when the breaker is enabled")
	}
	if cfg.Stream.RateLimit < 0 {
		ve.Add("stream.rate_limit must not be negative")
	}
	if cfg.Stream.RateLimit > 0 && cfg.Stream.RateBurst <= 0 {
		ve.Add("stream.rate_burst must be > 0 when rate_limit is set")
	}
}

func validateBroker(cfg *Config, ve *ValidationError) {
	switch cfg.Broker.Kind {
	case BrokerLocal, BrokerNATS:
	default:
		ve.Add("broker.kind must be %q or %q, got %q", BrokerLocal, BrokerNATS, cfg.Broker.Kind)
	}
}

func validateDigest(cfg *Config, ve *ValidationError) {
	if !cfg.Digest.Enabled {
		return
	}
	if cfg.Digest.Every <= 0 {
		ve.Add("digest.every must be > 0")
	}
	if cfg.Digest.Timeout <= 0 {
		ve.Add("digest.timeout must be > 0")
	}
}
