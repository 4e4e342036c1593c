// Package llm is the chat client for the relay. A call goes to the primary
// model first and is retried exactly once with a fallback model when the
// primary attempt fails.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kaptinlin/jsonrepair"
	"github.com/rs/zerolog"

	"github.com/s33g/oai-relay/internal/config"
)

// Client handles communication with the relay
type Client struct {
	httpClient *http.Client
	endpoint   string
	defaults   chatSettings
	validate   *validator.Validate
	repairJSON bool
	logger     zerolog.Logger
}

// ClientOption customizes a Client at construction time
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithJSONRepair makes the client run jsonrepair over response text that
// does not parse as JSON before giving up on ChatResult.JSON
func WithJSONRepair() ClientOption {
	return func(c *Client) {
		c.repairJSON = true
	}
}

// NewClient creates a chat client from the client section of the config
func NewClient(cfg *config.ClientConfig, logger zerolog.Logger, opts ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client config: %w", err)
	}

	endpoint, err := buildEndpoint(cfg.Endpoint, cfg.UpstreamPath)
	if err != nil {
		return nil, err
	}

	c := &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout(),
		},
		endpoint: endpoint,
		defaults: chatSettings{
			model:          cfg.Model,
			fallbackModel:  cfg.FallbackModel,
			temperature:    cfg.Temperature,
			maxTokens:      cfg.MaxTokens,
			responseFormat: ResponseFormat{Type: cfg.ResponseFormat},
		},
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With().Str("component", "llm").Logger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// buildEndpoint embeds the upstream sub-path as the path query parameter,
// unless the endpoint already carries one
func buildEndpoint(endpoint, upstreamPath string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to parse endpoint: %w", err)
	}

	q := u.Query()
	if q.Get("path") == "" {
		q.Set("path", upstreamPath)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Endpoint returns the URL every request is posted to
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Chat sends messages to the primary model and falls back to the fallback
// model once if that attempt fails. The returned error is an *APIError when
// both attempts were answered but unsuccessful.
func (c *Client) Chat(ctx context.Context, messages []Message, opts ...ChatOption) (*ChatResult, error) {
	settings := c.defaults
	for _, opt := range opts {
		opt(&settings)
	}

	req := ChatRequest{
		Model:          settings.model,
		Messages:       messages,
		ResponseFormat: settings.responseFormat,
		Temperature:    settings.temperature,
		MaxTokens:      settings.maxTokens,
	}
	if err := c.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	att, err := c.send(ctx, req)
	if err != nil {
		return nil, err
	}

	if att.failed() {
		c.logger.Warn().
			Str("model", req.Model).
			Str("fallback_model", settings.fallbackModel).
			Int("status", att.status).
			Str("error", att.describe()).
			Msg("Primary model error, retrying with fallback")

		req.Model = settings.fallbackModel
		att, err = c.send(ctx, req)
		if err != nil {
			return nil, err
		}
		if att.failed() {
			return nil, att.asError(req.Model)
		}
	}

	text := att.text()
	return &ChatResult{
		Raw:   json.RawMessage(att.body),
		Text:  text,
		JSON:  c.parseJSON(text),
		Model: req.Model,
	}, nil
}

// send performs one attempt. Only failures to build the request are
// returned as errors; everything that happens on the wire is recorded in
// the attempt so the caller can decide whether to fall back.
func (c *Client) send(ctx context.Context, req ChatRequest) (*attempt, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &attempt{transportErr: fmt.Errorf("request failed: %w", err)}, nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &attempt{status: resp.StatusCode, transportErr: fmt.Errorf("failed to read response: %w", err)}, nil
	}

	att := &attempt{status: resp.StatusCode, body: respBody}
	if !json.Valid(respBody) {
		att.malformed = true
		return att, nil
	}

	// A valid JSON body that is not an object simply has no choices and no error
	_ = json.Unmarshal(respBody, &att.resp)

	return att, nil
}

func (c *Client) parseJSON(text string) any {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err == nil {
		return v
	}
	if !c.repairJSON || strings.TrimSpace(text) == "" {
		return nil
	}

	repaired, err := jsonrepair.JSONRepair(text)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal([]byte(repaired), &v); err != nil {
		return nil
	}
	return v
}

// attempt records what one round trip to the relay produced
type attempt struct {
	status       int
	body         []byte
	resp         completion
	malformed    bool
	transportErr error
}

// failed reports whether the attempt should trigger the fallback. The
// status and the error field are checked independently since the upstream
// can report errors inside a 200 response.
func (a *attempt) failed() bool {
	if a.transportErr != nil || a.malformed {
		return true
	}
	if a.status < 200 || a.status > 299 {
		return true
	}
	return hasError(a.resp.Error)
}

func (a *attempt) describe() string {
	switch {
	case a.transportErr != nil:
		return a.transportErr.Error()
	case a.malformed:
		return "response body is not JSON"
	case hasError(a.resp.Error):
		var ue upstreamError
		if err := json.Unmarshal(a.resp.Error, &ue); err == nil && ue.Message != "" {
			return ue.Message
		}
		return string(a.resp.Error)
	default:
		return http.StatusText(a.status)
	}
}

func (a *attempt) asError(model string) error {
	if a.transportErr != nil {
		return fmt.Errorf("fallback model %s: %w", model, a.transportErr)
	}

	apiErr := &APIError{StatusCode: a.status, Model: model}
	var ue upstreamError
	if err := json.Unmarshal(a.resp.Error, &ue); err == nil {
		apiErr.Message = ue.Message
		apiErr.Type = ue.Type
	}
	return apiErr
}

// text extracts choices[0].message.content, or "" when it is missing or
// not a string
func (a *attempt) text() string {
	if len(a.resp.Choices) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(a.resp.Choices[0].Message.Content, &s); err != nil {
		return ""
	}
	return s
}

// hasError mirrors a truthiness check on the error field: absent, null,
// false, 0 and "" do not count as errors
func hasError(raw json.RawMessage) bool {
	switch strings.TrimSpace(string(raw)) {
	case "", "null", "false", "0", `""`:
		return false
	}
	return true
}
