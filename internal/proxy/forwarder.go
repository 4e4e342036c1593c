// Package proxy implements the keyed relay: it validates an inbound request,
// adds the server-held API key and forwards the body to the upstream
// chat-completion API, relaying whatever comes back.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/s33g/oai-relay/internal/config"
)

// Error labels returned in the "error" field of relay responses
const (
	ErrMethodNotAllowed = "Method Not Allowed"
	ErrServerConfig     = "Server Configuration Error"
	ErrMissingPath      = "Missing path query (e.g., chat/completions)"
	ErrInvalidPath      = "Invalid path query"
	ErrInvalidJSON      = "Invalid JSON in request body"
	ErrBodyTooLarge     = "Request body too large"
	ErrNonJSON          = "OpenAI non-JSON"
	ErrProxyFailure     = "Proxy failure"
)

// ErrorBody is the JSON body of every response the relay generates itself
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RawBody wraps an upstream response that was not JSON
type RawBody struct {
	Error string `json:"error"`
	Raw   string `json:"raw"`
}

// upstream is the reloadable part of the forwarder
type upstream struct {
	baseURL     string
	apiKeyEnv   string
	maxBody     int64
	rawTruncate int
	client      *http.Client
}

// Forwarder relays POST requests to the upstream API
type Forwarder struct {
	settings atomic.Pointer[upstream]
	logger   zerolog.Logger
}

// NewForwarder creates a forwarder for the given upstream
func NewForwarder(cfg *config.UpstreamConfig, logger zerolog.Logger) *Forwarder {
	f := &Forwarder{
		logger: logger.With().Str("component", "proxy").Logger(),
	}
	f.Reload(cfg)
	return f
}

// Reload swaps in new upstream settings. Requests already in flight finish
// with the settings they started with.
func (f *Forwarder) Reload(cfg *config.UpstreamConfig) {
	truncate := cfg.RawTruncate
	if truncate <= 0 || truncate > config.MaxRawTruncate {
		truncate = config.MaxRawTruncate
	}

	f.settings.Store(&upstream{
		baseURL:     cfg.BaseURL,
		apiKeyEnv:   cfg.APIKeyEnv,
		maxBody:     cfg.MaxBodyBytes,
		rawTruncate: truncate,
		client: &http.Client{
			Timeout: cfg.Timeout(),
		},
	})
}

// ServeHTTP validates the request, forwards it and relays the response.
// Every path writes a JSON body; faults never escape as bare errors.
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s := f.settings.Load()
	logger := f.logger.With().Str("request_id", RequestIDFromContext(r.Context())).Logger()

	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorBody{Error: ErrMethodNotAllowed})
		return
	}

	// Read on every request so a rotated key is picked up without a restart
	apiKey := os.Getenv(s.apiKeyEnv)
	if apiKey == "" {
		logger.Error().Str("env", s.apiKeyEnv).Msg("API key environment variable is not set")
		writeJSON(w, http.StatusInternalServerError, ErrorBody{Error: ErrServerConfig})
		return
	}

	rawPath := r.URL.Query().Get("path")
	if rawPath == "" {
		writeJSON(w, http.StatusBadRequest, ErrorBody{Error: ErrMissingPath})
		return
	}
	upstreamPath, ok := cleanPath(rawPath)
	if !ok {
		writeJSON(w, http.StatusBadRequest, ErrorBody{Error: ErrInvalidPath})
		return
	}

	body, status, errLabel := readJSONBody(w, r, s.maxBody)
	if errLabel != "" {
		writeJSON(w, status, ErrorBody{Error: errLabel})
		return
	}

	resp, err := f.forward(r.Context(), s, upstreamPath, apiKey, body)
	if err != nil {
		logger.Error().Err(err).Str("path", upstreamPath).Msg("Upstream request failed")
		writeJSON(w, http.StatusInternalServerError, ErrorBody{Error: ErrProxyFailure, Message: err.Error()})
		return
	}

	logger.Debug().
		Str("path", upstreamPath).
		Int("status", resp.status).
		Int("bytes", len(resp.body)).
		Msg("Upstream responded")

	if json.Valid(resp.body) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.status)
		if _, err := w.Write(resp.body); err != nil {
			logger.Warn().Err(err).Msg("Failed to write relayed response")
		}
		return
	}

	logger.Warn().Int("status", resp.status).Msg("Upstream returned a non-JSON body")
	writeJSON(w, resp.status, RawBody{Error: ErrNonJSON, Raw: truncateRunes(string(resp.body), s.rawTruncate)})
}

type upstreamResponse struct {
	status int
	body   []byte
}

func (f *Forwarder) forward(ctx context.Context, s *upstream, path, apiKey string, body []byte) (*upstreamResponse, error) {
	target, err := url.JoinPath(s.baseURL, path)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}

	return &upstreamResponse{status: resp.StatusCode, body: respBody}, nil
}

// readJSONBody reads and compacts the request body. An empty body counts as
// an empty object. On failure it returns the status and error label to send.
func readJSONBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, int, string) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, http.StatusRequestEntityTooLarge, ErrBodyTooLarge
		}
		return nil, http.StatusBadRequest, ErrInvalidJSON
	}

	if len(data) == 0 {
		return []byte("{}"), 0, ""
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return nil, http.StatusBadRequest, ErrInvalidJSON
	}
	return buf.Bytes(), 0, ""
}

// cleanPath trims slashes from the upstream sub-path and rejects dot
// segments, so a caller cannot climb out of the versioned API root
func cleanPath(p string) (string, bool) {
	p = strings.Trim(p, "/")
	if p == "" {
		return "", false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", false
		}
	}
	return p, true
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
