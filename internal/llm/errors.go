package llm

import (
	"errors"
	"fmt"
)

// ErrInvalidRequest is returned when a request fails validation before any
// network call is made
var ErrInvalidRequest = errors.New("invalid chat request")

// APIError is returned when both the primary and the fallback attempt fail
type APIError struct {
	StatusCode int
	// Message is error.message from the response body, if any
	Message string
	Type    string
	// Model is the model of the last attempt
	Model string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("upstream error %d", e.StatusCode)
}
