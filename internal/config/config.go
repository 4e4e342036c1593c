package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Load builds the configuration from defaults, an optional YAML file and
// RELAY_* environment variables, in that order of precedence.
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// Environment overrides whatever the file said
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if !strings.HasPrefix(c.Server.Route, "/") {
		return fmt.Errorf("server.route must start with '/'")
	}

	if err := validateURL("upstream.base_url", c.Upstream.BaseURL); err != nil {
		return err
	}
	if c.Upstream.APIKeyEnv == "" {
		return fmt.Errorf("upstream.api_key_env is required")
	}
	if c.Upstream.TimeoutSeconds <= 0 {
		return fmt.Errorf("upstream.timeout_seconds must be positive")
	}
	if c.Upstream.MaxBodyBytes <= 0 {
		return fmt.Errorf("upstream.max_body_bytes must be positive")
	}
	if c.Upstream.RawTruncate <= 0 || c.Upstream.RawTruncate > MaxRawTruncate {
		return fmt.Errorf("upstream.raw_truncate must be between 1 and %d", MaxRawTruncate)
	}

	if err := c.Client.Validate(); err != nil {
		return err
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}

	return nil
}

// Validate checks the client section on its own, so callers that only build
// a chat client do not need a full server config
func (c *ClientConfig) Validate() error {
	if err := validateURL("client.endpoint", c.Endpoint); err != nil {
		return err
	}
	if c.UpstreamPath == "" {
		return fmt.Errorf("client.upstream_path is required")
	}
	if c.Model == "" {
		return fmt.Errorf("client.model is required")
	}
	if c.FallbackModel == "" {
		return fmt.Errorf("client.fallback_model is required")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("client.temperature must be between 0 and 2, got %v", c.Temperature)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("client.max_tokens must be positive")
	}
	switch c.ResponseFormat {
	case "json_object", "text":
	default:
		return fmt.Errorf("client.response_format must be json_object or text, got %q", c.ResponseFormat)
	}
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("client.timeout_seconds must be positive")
	}
	return nil
}

func validateURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an http(s) URL, got %q", field, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s has no host", field)
	}
	return nil
}
