package llm

import "encoding/json"

// Request types for the OpenAI-compatible API, as sent through the relay

// Role identifies the author of a message
type Role string

const (
	RoleUser      Role = "user"
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
)

// PartType tags a ContentPart
type PartType string

const (
	PartText       PartType = "text"
	PartInputImage PartType = "input_image"
)

// ContentPart is one unit of message content: a piece of text or an image
type ContentPart struct {
	Type     PartType  `json:"type" validate:"oneof=text input_image"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty" validate:"required_if=Type input_image"`
}

// ImageURL references an image by remote URL or data URI
type ImageURL struct {
	URL string `json:"url" validate:"required"`
}

// TextPart returns a text content part
func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

// ImagePart returns an image content part for a URL or data URI
func ImagePart(url string) ContentPart {
	return ContentPart{Type: PartInputImage, ImageURL: &ImageURL{URL: url}}
}

// Message represents a chat message
type Message struct {
	Role    Role          `json:"role" validate:"oneof=user system assistant"`
	Content []ContentPart `json:"content" validate:"min=1,dive"`
}

// UserMessage builds a user message from parts
func UserMessage(parts ...ContentPart) Message {
	return Message{Role: RoleUser, Content: parts}
}

// ResponseFormat is the output-format hint sent upstream
type ResponseFormat struct {
	Type string `json:"type" validate:"oneof=json_object text"`
}

var (
	FormatJSONObject = ResponseFormat{Type: "json_object"}
	FormatText       = ResponseFormat{Type: "text"}
)

// ChatRequest represents a chat completion request
type ChatRequest struct {
	Model          string         `json:"model" validate:"required"`
	Messages       []Message      `json:"messages" validate:"min=1,dive"`
	ResponseFormat ResponseFormat `json:"response_format"`
	Temperature    float64        `json:"temperature" validate:"gte=0,lte=2"`
	MaxTokens      int            `json:"max_tokens" validate:"gt=0"`
}

// ChatResult is the normalized outcome of a Chat call
type ChatResult struct {
	// Raw is the full upstream response body
	Raw json.RawMessage
	// Text is choices[0].message.content, or "" when absent
	Text string
	// JSON is Text parsed as JSON, or nil when Text is not JSON
	JSON any
	// Model is the model that produced Raw
	Model string
}

// completion is the subset of the response body the client inspects.
// Fields stay raw so that unexpected shapes never fail decoding.
type completion struct {
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error json.RawMessage `json:"error"`
}

// upstreamError is the usual shape of an error object
type upstreamError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}
