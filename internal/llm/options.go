package llm

// chatSettings are the per-call values a ChatOption can override
type chatSettings struct {
	model          string
	fallbackModel  string
	temperature    float64
	maxTokens      int
	responseFormat ResponseFormat
}

// ChatOption overrides a default for a single Chat call
type ChatOption func(*chatSettings)

// WithModel overrides the primary model. An empty name keeps the default.
func WithModel(model string) ChatOption {
	return func(s *chatSettings) {
		if model != "" {
			s.model = model
		}
	}
}

// WithFallbackModel overrides the model used for the retry
func WithFallbackModel(model string) ChatOption {
	return func(s *chatSettings) {
		if model != "" {
			s.fallbackModel = model
		}
	}
}

// WithTemperature sets the sampling temperature; zero is a valid value
func WithTemperature(t float64) ChatOption {
	return func(s *chatSettings) {
		s.temperature = t
	}
}

// WithMaxTokens caps the completion length
func WithMaxTokens(n int) ChatOption {
	return func(s *chatSettings) {
		s.maxTokens = n
	}
}

// WithResponseFormat sets the output-format hint
func WithResponseFormat(f ResponseFormat) ChatOption {
	return func(s *chatSettings) {
		s.responseFormat = f
	}
}
