package providers

import (
	"context"
	"fmt"
	"net/http"
)

// Prompt is a single-turn completion request.
type Prompt struct {
	Text string
	// Model overrides the backend default when set.
	Model       string
	MaxTokens   int
	Temperature float64
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Completion struct {
	Text         string
	Model        string
	FinishReason string
	Usage        Usage
}

// Completer turns one prompt into text.
type Completer interface {
	Complete(ctx context.Context, p Prompt) (*Completion, error)
	Name() string
	DefaultModel() string
}

// APIError is a non-2xx answer from a completion endpoint.
type APIError struct {
	Provider string
	Status   int
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API request failed: status=%d error=%s", e.Provider, e.Status, e.Message)
}

// Temporary reports whether repeating the request may succeed.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}
