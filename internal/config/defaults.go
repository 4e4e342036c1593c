package config

// MaxRawTruncate caps how much of a non-JSON upstream body is echoed back
const MaxRawTruncate = 1000

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:          ":8080",
			Route:               "/.netlify/functions/openai-proxy",
			ReadTimeoutSeconds:  30,
			WriteTimeoutSeconds: 150,
		},
		Upstream: UpstreamConfig{
			BaseURL:        "https://api.openai.com/v1",
			APIKeyEnv:      "OPENAI_API_KEY",
			TimeoutSeconds: 120, // 2 minutes, same as a slow completion
			MaxBodyBytes:   20 << 20,
			RawTruncate:    500,
		},
		Client: ClientConfig{
			Endpoint:       "http://localhost:8080/.netlify/functions/openai-proxy",
			UpstreamPath:   "chat/completions",
			Model:          "gpt-4o-mini",
			FallbackModel:  "gpt-4o",
			Temperature:    0.2,
			MaxTokens:      2000,
			ResponseFormat: "json_object",
			TimeoutSeconds: 120,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
