package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"CHATSTREAM_API_KEY", "OPENAI_API_KEY", "CHATSTREAM_BASE_URL", "CHATSTREAM_MODEL",
	"CHATSTREAM_SYSTEM_PROMPT", "CHATSTREAM_TEMPERATURE", "CHATSTREAM_MAX_TOKENS",
	"CHATSTREAM_MODE", "CHATSTREAM_IDLE_TIMEOUT", "CHATSTREAM_LOG_LEVEL", "CHATSTREAM_BROKER",
	"NATS_URL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHATSTREAM_API_KEY", "sk-test")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "https://openai.qiniu.com/v1", cfg.LLM.BaseURL)
	assert.Equal(t, "moonshotai/kimi-k2-0905", cfg.LLM.Model)
	assert.InDelta(t, 0.7, cfg.LLM.Temperature, 1e-9)
	assert.Equal(t, 2000, cfg.LLM.MaxTokens)
	assert.Equal(t, ModeChunked, cfg.Stream.Mode)
	assert.Equal(t, BrokerLocal, cfg.Broker.Kind)
	assert.Equal(t, "https://openai.qiniu.com/v1/chat/completions", cfg.ChatEndpoint())
}

func TestLoad_YAML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "chatstream.yaml", `
llm:
  api_key: sk-file
  base_url: http://localhost:8080/v1/
  model: gpt-4o-mini
  temperature: 0.2
  max_tokens: 512
stream:
  mode: eventstream
  init_endpoint: http://localhost:8080/chat/init
  stream_endpoint: http://localhost:8080/chat/stream
  query_auth: auth
  idle_timeout: 15s
broker:
  kind: nats
  nats_url: nats://127.0.0.1:4222
digest:
  every: 5
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sk-file", cfg.LLM.APIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.InDelta(t, 0.2, cfg.LLM.Temperature, 1e-9)
	assert.Equal(t, 512, cfg.LLM.MaxTokens)
	assert.Equal(t, "http://localhost:8080/v1/chat/completions", cfg.ChatEndpoint())
	assert.Equal(t, ModeEventStream, cfg.Stream.Mode)
	assert.Equal(t, "auth", cfg.Stream.QueryAuth)
	assert.Equal(t, 15*time.Second, cfg.Stream.IdleTimeout)
	assert.Equal(t, 4096, cfg.Stream.ReadSize, "unset fields keep their defaults")
	assert.Equal(t, BrokerNATS, cfg.Broker.Kind)
	assert.Equal(t, 5, cfg.Digest.Every)
	assert.True(t, cfg.Digest.Enabled)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "chatstream.yaml", "llm:\n  api_key: sk-file\n  model: from-file\n")
	t.Setenv("CHATSTREAM_API_KEY", "sk-env")
	t.Setenv("CHATSTREAM_MODEL", "from-env")
	t.Setenv("CHATSTREAM_TEMPERATURE", "1.5")
	t.Setenv("CHATSTREAM_MAX_TOKENS", "100")
	t.Setenv("CHATSTREAM_IDLE_TIMEOUT", "2m")
	t.Setenv("NATS_URL", "nats://example:4222")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-env", cfg.LLM.APIKey)
	assert.Equal(t, "from-env", cfg.LLM.Model)
	assert.InDelta(t, 1.5, cfg.LLM.Temperature, 1e-9)
	assert.Equal(t, 100, cfg.LLM.MaxTokens)
	assert.Equal(t, 2*time.Minute, cfg.Stream.IdleTimeout)
	assert.Equal(t, "nats://example:4222", cfg.Broker.NATSURL)
}

func TestLoad_OverridesRunBeforeValidation(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHATSTREAM_API_KEY", "sk-test")
	t.Setenv("CHATSTREAM_MODE", "websocket")

	_, err := Load("")
	require.Error(t, err)

	cfg, err := Load("", func(c *Config) { c.Stream.Mode = ModeChunked })
	require.NoError(t, err)
	assert.Equal(t, ModeChunked, cfg.Stream.Mode)
}

func TestLoad_OpenAIKeyFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-openai")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-openai", cfg.LLM.APIKey)
}

func TestLoad_BadEnvValue(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHATSTREAM_API_KEY", "sk-test")
	t.Setenv("CHATSTREAM_MAX_TOKENS", "lots")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHATSTREAM_MAX_TOKENS")
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "bad.yaml", "llm: [unterminated")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoadDotenv(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, ".env", "CHATSTREAM_MODEL=from-dotenv\nCHATSTREAM_API_KEY=sk-dotenv\n")
	t.Setenv("CHATSTREAM_API_KEY", "sk-process")
	// godotenv treats a set-but-empty variable as present
	require.NoError(t, os.Unsetenv("CHATSTREAM_MODEL"))

	require.NoError(t, LoadDotenv(path))
	assert.Equal(t, "from-dotenv", os.Getenv("CHATSTREAM_MODEL"))
	assert.Equal(t, "sk-process", os.Getenv("CHATSTREAM_API_KEY"), "existing variables win")

	assert.NoError(t, LoadDotenv(filepath.Join(t.TempDir(), "missing.env")))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing key", func(c *Config) { c.LLM.APIKey = "" }, "llm.api_key"},
		{"relative base url", func(c *Config) { c.LLM.BaseURL = "/v1" }, "llm.base_url"},
		{"empty model", func(c *Config) { c.LLM.Model = "" }, "llm.model"},
		{"temperature too high", func(c *Config) { c.LLM.Temperature = 2.5 }, "llm.temperature"},
		{"negative temperature", func(c *Config) { c.LLM.Temperature = -0.1 }, "llm.temperature"},
		{"zero max tokens", func(c *Config) { c.LLM.MaxTokens = 0 }, "llm.max_tokens"},
		{"unknown mode", func(c *Config) { c.Stream.Mode = "websocket" }, "stream.mode"},
		{"eventstream without endpoint", func(c *Config) { c.Stream.Mode = ModeEventStream }, "stream.stream_endpoint"},
		{"zero read size", func(c *Config) { c.Stream.ReadSize = 0 }, "stream.read_size"},
		{"negative idle timeout", func(c *Config) { c.Stream.IdleTimeout = -time.Second }, "stream.idle_timeout"},
		{"breaker without failures", func(c *Config) { c.Stream.Breaker.MaxFailures = 0 }, "stream.breaker.max_failures"},
		{"rate without burst", func(c *Config) { c.Stream.RateBurst = 0 }, "stream.rate_burst"},
		{"unknown broker", func(c *Config) { c.Broker.Kind = "kafka" }, "broker.kind"},
		{"digest every zero", func(c *Config) { c.Digest.Every = 0 }, "digest.every"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.LLM.APIKey = "sk-test"
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.MaxTokens = 0
	cfg.Stream.Mode = "nope"

	var ve *ValidationError
	require.ErrorAs(t, Validate(cfg), &ve)
	assert.Len(t, ve.Errors, 3)
}

func TestValidate_DisabledDigestSkipsChecks(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.APIKey = "sk-test"
	cfg.Digest = DigestConfig{Enabled: false}
	assert.NoError(t, Validate(cfg))
}
