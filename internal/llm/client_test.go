package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/s33g/oai-relay/internal/config"
)

// recorder is a fake relay that answers each call with the next scripted reply
type recorder struct {
	mu       sync.Mutex
	requests []ChatRequest
	queries  []string
	replies  []reply
}

type reply struct {
	status int
	body   string
}

func (rec *recorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusTeapot)
		return
	}
	rec.requests = append(rec.requests, req)
	rec.queries = append(rec.queries, r.URL.Query().Get("path"))

	rep := rec.replies[0]
	if len(rec.replies) > 1 {
		rec.replies = rec.replies[1:]
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rep.status)
	io.WriteString(w, rep.body)
}

func (rec *recorder) calls() int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return len(rec.requests)
}

func newTestClient(t *testing.T, rec *recorder, opts ...ClientOption) (*Client, *bytes.Buffer) {
	t.Helper()

	server := httptest.NewServer(rec)
	t.Cleanup(server.Close)

	cfg := config.DefaultConfig().Client
	cfg.Endpoint = server.URL + "/.netlify/functions/openai-proxy"

	var logs bytes.Buffer
	client, err := NewClient(&cfg, zerolog.New(&logs), opts...)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client, &logs
}

func ping() []Message {
	return []Message{UserMessage(TextPart("ping"))}
}

const okBody = `{"choices":[{"message":{"role":"assistant","content":"{\"ok\":true}"}}]}`

func TestClient_Chat(t *testing.T) {
	rec := &recorder{replies: []reply{{http.StatusOK, okBody}}}
	client, logs := newTestClient(t, rec)

	res, err := client.Chat(context.Background(), ping())
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	if res.Text != `{"ok":true}` {
		t.Errorf("Text = %q, want {\"ok\":true}", res.Text)
	}
	if !reflect.DeepEqual(res.JSON, map[string]any{"ok": true}) {
		t.Errorf("JSON = %#v, want map[ok:true]", res.JSON)
	}
	if res.Model != "gpt-4o-mini" {
		t.Errorf("Model = %s, want gpt-4o-mini", res.Model)
	}
	if !json.Valid(res.Raw) || !strings.Contains(string(res.Raw), "choices") {
		t.Errorf("Raw = %s, want the upstream body", res.Raw)
	}
	if rec.calls() != 1 {
		t.Errorf("calls = %d, want 1", rec.calls())
	}
	if logs.Len() != 0 {
		t.Errorf("expected no log output on success, got %s", logs.String())
	}

	// Verify request contents
	req := rec.requests[0]
	if rec.queries[0] != "chat/completions" {
		t.Errorf("path query = %q, want chat/completions", rec.queries[0])
	}
	if req.Temperature != 0.2 || req.MaxTokens != 2000 {
		t.Errorf("temperature/max_tokens = %v/%d, want 0.2/2000", req.Temperature, req.MaxTokens)
	}
	if req.ResponseFormat != FormatJSONObject {
		t.Errorf("response_format = %v, want json_object", req.ResponseFormat)
	}
	if len(req.Messages) != 1 || req.Messages[0].Content[0].Text != "ping" {
		t.Errorf("messages = %+v, want the ping message", req.Messages)
	}
}

func TestClient_ChatFallback(t *testing.T) {
	tests := []struct {
		name    string
		primary reply
	}{
		{
			name:    "server error status",
			primary: reply{http.StatusInternalServerError, `{"error":{"message":"boom"}}`},
		},
		{
			name:    "error field inside 200",
			primary: reply{http.StatusOK, `{"error":{"message":"model overloaded","type":"server_error"}}`},
		},
		{
			name:    "error status without error field",
			primary: reply{http.StatusBadGateway, `{"choices":[]}`},
		},
		{
			name:    "non-JSON body",
			primary: reply{http.StatusOK, `<html>gateway</html>`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{replies: []reply{tt.primary, {http.StatusOK, okBody}}}
			client, logs := newTestClient(t, rec)

			res, err := client.Chat(context.Background(), ping())
			if err != nil {
				t.Fatalf("Chat() error = %v", err)
			}

			if rec.calls() != 2 {
				t.Fatalf("calls = %d, want 2", rec.calls())
			}
			if rec.requests[0].Model != "gpt-4o-mini" {
				t.Errorf("first model = %s, want gpt-4o-mini", rec.requests[0].Model)
			}
			if rec.requests[1].Model != "gpt-4o" {
				t.Errorf("second model = %s, want gpt-4o", rec.requests[1].Model)
			}
			if res.Model != "gpt-4o" {
				t.Errorf("result Model = %s, want gpt-4o", res.Model)
			}
			if !strings.Contains(logs.String(), `"level":"warn"`) {
				t.Errorf("expected a warning on fallback, got %q", logs.String())
			}
		})
	}
}

func TestClient_ChatFalsyErrorField(t *testing.T) {
	rec := &recorder{replies: []reply{{http.StatusOK, `{"error":null,"choices":[{"message":{"content":"hi"}}]}`}}}
	client, _ := newTestClient(t, rec)

	res, err := client.Chat(context.Background(), ping())
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if rec.calls() != 1 {
		t.Errorf("calls = %d, want 1", rec.calls())
	}
	if res.Text != "hi" {
		t.Errorf("Text = %q, want hi", res.Text)
	}
	if res.JSON != nil {
		t.Errorf("JSON = %#v, want nil for free text", res.JSON)
	}
}

func TestClient_ChatBothFail(t *testing.T) {
	tests := []struct {
		name       string
		fallback   reply
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "upstream message",
			fallback:   reply{http.StatusTooManyRequests, `{"error":{"message":"Rate limit reached","type":"requests"}}`},
			wantStatus: http.StatusTooManyRequests,
			wantMsg:    "Rate limit reached",
		},
		{
			name:       "no message",
			fallback:   reply{http.StatusBadGateway, `{}`},
			wantStatus: http.StatusBadGateway,
			wantMsg:    "upstream error 502",
		},
		{
			name:       "proxy non-JSON wrapper",
			fallback:   reply{http.StatusOK, `{"error":"OpenAI non-JSON","raw":"<html>"}`},
			wantStatus: http.StatusOK,
			wantMsg:    "upstream error 200",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{replies: []reply{{http.StatusInternalServerError, `{"error":{"message":"first"}}`}, tt.fallback}}
			client, _ := newTestClient(t, rec)

			_, err := client.Chat(context.Background(), ping())
			if err == nil {
				t.Fatal("Expected error, got nil")
			}

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error = %T, want *APIError", err)
			}
			if apiErr.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.wantStatus)
			}
			if err.Error() != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", err.Error(), tt.wantMsg)
			}
			if apiErr.Model != "gpt-4o" {
				t.Errorf("Model = %s, want gpt-4o", apiErr.Model)
			}
			if rec.calls() != 2 {
				t.Errorf("calls = %d, want exactly 2", rec.calls())
			}
		})
	}
}

func TestClient_ChatMissingContent(t *testing.T) {
	bodies := []string{
		`{}`,
		`{"choices":[]}`,
		`{"choices":[{}]}`,
		`{"choices":[{"message":{"content":null}}]}`,
		`{"choices":[{"message":{"content":[{"type":"text"}]}}]}`,
		`[1,2,3]`,
	}

	for _, body := range bodies {
		t.Run(body, func(t *testing.T) {
			rec := &recorder{replies: []reply{{http.StatusOK, body}}}
			client, _ := newTestClient(t, rec)

			res, err := client.Chat(context.Background(), ping())
			if err != nil {
				t.Fatalf("Chat() error = %v", err)
			}
			if res.Text != "" {
				t.Errorf("Text = %q, want empty", res.Text)
			}
			if res.JSON != nil {
				t.Errorf("JSON = %#v, want nil", res.JSON)
			}
		})
	}
}

func TestClient_ChatJSONRepair(t *testing.T) {
	body := `{"choices":[{"message":{"content":"{name: 'Ada', tags: ['x',]}"}}]}`

	rec := &recorder{replies: []reply{{http.StatusOK, body}}}
	plain, _ := newTestClient(t, rec)
	res, err := plain.Chat(context.Background(), ping())
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if res.JSON != nil {
		t.Errorf("JSON without repair = %#v, want nil", res.JSON)
	}

	rec = &recorder{replies: []reply{{http.StatusOK, body}}}
	repairing, _ := newTestClient(t, rec, WithJSONRepair())
	res, err = repairing.Chat(context.Background(), ping())
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	want := map[string]any{"name": "Ada", "tags": []any{"x"}}
	if !reflect.DeepEqual(res.JSON, want) {
		t.Errorf("JSON with repair = %#v, want %#v", res.JSON, want)
	}
}

func TestClient_ChatOptions(t *testing.T) {
	rec := &recorder{replies: []reply{{http.StatusOK, okBody}}}
	client, _ := newTestClient(t, rec)

	res, err := client.Chat(context.Background(), ping(),
		WithModel("custom-model"),
		WithTemperature(0),
		WithMaxTokens(64),
		WithResponseFormat(FormatText),
	)
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	req := rec.requests[0]
	if req.Model != "custom-model" || res.Model != "custom-model" {
		t.Errorf("Model = %s/%s, want custom-model", req.Model, res.Model)
	}
	if req.Temperature != 0 {
		t.Errorf("Temperature = %v, want 0", req.Temperature)
	}
	if req.MaxTokens != 64 {
		t.Errorf("MaxTokens = %d, want 64", req.MaxTokens)
	}
	if req.ResponseFormat != FormatText {
		t.Errorf("ResponseFormat = %v, want text", req.ResponseFormat)
	}
}

func TestClient_ChatCustomFallback(t *testing.T) {
	rec := &recorder{replies: []reply{{http.StatusServiceUnavailable, `{}`}, {http.StatusOK, okBody}}}
	client, _ := newTestClient(t, rec)

	res, err := client.Chat(context.Background(), ping(), WithFallbackModel("backup"))
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if res.Model != "backup" || rec.requests[1].Model != "backup" {
		t.Errorf("fallback model = %s, want backup", res.Model)
	}
}

func TestClient_ChatValidation(t *testing.T) {
	tests := []struct {
		name     string
		messages []Message
		opts     []ChatOption
	}{
		{name: "no messages", messages: nil},
		{name: "empty content", messages: []Message{{Role: RoleUser}}},
		{name: "bad role", messages: []Message{{Role: "robot", Content: []ContentPart{TextPart("x")}}}},
		{name: "image without url", messages: []Message{UserMessage(ContentPart{Type: PartInputImage})}},
		{name: "temperature too high", messages: ping(), opts: []ChatOption{WithTemperature(3)}},
		{name: "zero max tokens", messages: ping(), opts: []ChatOption{WithMaxTokens(0)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{replies: []reply{{http.StatusOK, okBody}}}
			client, _ := newTestClient(t, rec)

			_, err := client.Chat(context.Background(), tt.messages, tt.opts...)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("error = %v, want ErrInvalidRequest", err)
			}
			if rec.calls() != 0 {
				t.Errorf("calls = %d, want 0", rec.calls())
			}
		})
	}
}

// flakyTransport fails the first round trip and passes later ones through
type flakyTransport struct {
	mu    sync.Mutex
	calls int
}

func (f *flakyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()

	if n == 1 {
		return nil, fmt.Errorf("connection reset")
	}
	return http.DefaultTransport.RoundTrip(r)
}

func TestClient_ChatTransportFailure(t *testing.T) {
	rec := &recorder{replies: []reply{{http.StatusOK, okBody}}}
	transport := &flakyTransport{}
	client, _ := newTestClient(t, rec, WithHTTPClient(&http.Client{Transport: transport}))

	res, err := client.Chat(context.Background(), ping())
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if res.Model != "gpt-4o" {
		t.Errorf("Model = %s, want gpt-4o after transport failure", res.Model)
	}
	if rec.calls() != 1 {
		t.Errorf("server calls = %d, want 1", rec.calls())
	}
}

func TestNewClientEndpoint(t *testing.T) {
	cfg := config.DefaultConfig().Client

	client, err := NewClient(&cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if got := client.Endpoint(); got != "http://localhost:8080/.netlify/functions/openai-proxy?path=chat%2Fcompletions" {
		t.Errorf("Endpoint() = %s", got)
	}

	cfg.Endpoint = "https://relay.example.com/proxy?path=embeddings"
	client, err = NewClient(&cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if got := client.Endpoint(); got != "https://relay.example.com/proxy?path=embeddings" {
		t.Errorf("Endpoint() = %s, want the explicit path kept", got)
	}

	cfg.Model = ""
	if _, err := NewClient(&cfg, zerolog.Nop()); err == nil {
		t.Error("Expected error for config without model")
	}
}
