package config

import (
	"time"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Client   ClientConfig   `yaml:"client"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the relay HTTP server settings
type ServerConfig struct {
	ListenAddr          string `yaml:"listen_addr" env:"RELAY_LISTEN_ADDR"`
	Route               string `yaml:"route" env:"RELAY_ROUTE"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds" env:"RELAY_READ_TIMEOUT_SECONDS"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds" env:"RELAY_WRITE_TIMEOUT_SECONDS"`
}

// ReadTimeout returns the read timeout as a Duration
func (s *ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutSeconds) * time.Second
}

// WriteTimeout returns the write timeout as a Duration
func (s *ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutSeconds) * time.Second
}

// UpstreamConfig describes the chat-completion API the relay forwards to.
// The API key itself is never part of the config, only the name of the
// environment variable holding it.
type UpstreamConfig struct {
	BaseURL        string `yaml:"base_url" env:"RELAY_UPSTREAM_BASE_URL"`
	APIKeyEnv      string `yaml:"api_key_env" env:"RELAY_API_KEY_ENV"`
	TimeoutSeconds int    `yaml:"timeout_seconds" env:"RELAY_UPSTREAM_TIMEOUT_SECONDS"`
	MaxBodyBytes   int64  `yaml:"max_body_bytes" env:"RELAY_MAX_BODY_BYTES"`
	RawTruncate    int    `yaml:"raw_truncate" env:"RELAY_RAW_TRUNCATE"`
}

// Timeout returns the upstream request timeout as a Duration
func (u *UpstreamConfig) Timeout() time.Duration {
	return time.Duration(u.TimeoutSeconds) * time.Second
}

// ClientConfig holds the defaults used by the chat client
type ClientConfig struct {
	Endpoint       string  `yaml:"endpoint" env:"RELAY_CLIENT_ENDPOINT"`
	UpstreamPath   string  `yaml:"upstream_path" env:"RELAY_CLIENT_UPSTREAM_PATH"`
	Model          string  `yaml:"model" env:"RELAY_CLIENT_MODEL"`
	FallbackModel  string  `yaml:"fallback_model" env:"RELAY_CLIENT_FALLBACK_MODEL"`
	Temperature    float64 `yaml:"temperature" env:"RELAY_CLIENT_TEMPERATURE"`
	MaxTokens      int     `yaml:"max_tokens" env:"RELAY_CLIENT_MAX_TOKENS"`
	ResponseFormat string  `yaml:"response_format" env:"RELAY_CLIENT_RESPONSE_FORMAT"`
	TimeoutSeconds int     `yaml:"timeout_seconds" env:"RELAY_CLIENT_TIMEOUT_SECONDS"`
}

// Timeout returns the per-attempt HTTP timeout as a Duration
func (c *ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `yaml:"level" env:"RELAY_LOG_LEVEL"`
	Format string `yaml:"format" env:"RELAY_LOG_FORMAT"`
}
