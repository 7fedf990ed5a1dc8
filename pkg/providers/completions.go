package providers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// Requests made without a deadline are cut off here; the architect sets
// its own shorter per-attempt deadline.
const defaultHTTPTimeout = 300 * time.Second

const maxErrorBody = 2000

// endpoint is an OpenAI-compatible /chat/completions backend.
type endpoint struct {
	name    string
	baseURL string
	model   string
	auth    AuthStrategy
	headers http.Header
	client  *http.Client
}

type endpointOption func(*endpoint) error

func withProxy(raw string) endpointOption {
	return func(e *endpoint) error {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return nil
		}
		proxyURL, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("parse %s proxy: %w", e.name, err)
		}
		e.client.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		return nil
	}
}

func withHeader(name, value string) endpointOption {
	return func(e *endpoint) error {
		name, value = strings.TrimSpace(name), strings.TrimSpace(value)
		if name != "" && value != "" {
			e.headers.Set(name, value)
		}
		return nil
	}
}

func newEndpoint(name, baseURL, model string, auth AuthStrategy, opts ...endpointOption) (*endpoint, error) {
	name = NormalizeProviderName(name)
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%s API base not configured", name)
	}
	if auth == nil {
		return nil, fmt.Errorf("%s auth is not configured", name)
	}
	e := &endpoint{
		name:    name,
		baseURL: baseURL,
		model:   strings.TrimSpace(model),
		auth:    auth,
		headers: http.Header{},
		client:  &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *endpoint) Name() string         { return e.name }
func (e *endpoint) DefaultModel() string { return e.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

func (e *endpoint) Complete(ctx context.Context, p Prompt) (*Completion, error) {
	model := strings.TrimSpace(p.Model)
	if model == "" {
		model = e.model
	}
	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: p.Text}},
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", e.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", e.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for name, values := range e.headers {
		req.Header[name] = values
	}
	if err := e.auth.Apply(ctx, req); err != nil {
		return nil, fmt.Errorf("apply %s auth: %w", e.name, err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send %s request: %w", e.name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", e.name, err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, &APIError{
			Provider: e.name,
			Status:   resp.StatusCode,
			Message:  withHint(e.name, errorMessage(raw)),
		}
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse %s response: %w", e.name, err)
	}
	out := &Completion{Model: parsed.Model, Usage: parsed.Usage}
	if out.Model == "" {
		out.Model = model
	}
	if len(parsed.Choices) > 0 {
		out.Text = contentText(parsed.Choices[0].Message.Content)
		out.FinishReason = parsed.Choices[0].FinishReason
	}
	return out, nil
}

// contentText accepts both a plain string and a list of typed parts.
func contentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var parts []struct {
		Text    string `json:"text"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var b strings.Builder
	for _, part := range parts {
		if part.Text != "" {
			b.WriteString(part.Text)
		} else {
			b.WriteString(part.Content)
		}
	}
	return b.String()
}

func errorMessage(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "empty response body"
	}
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if msg := strings.TrimSpace(payload.Error.Message); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(payload.Message); msg != "" {
			return msg
		}
	}
	if len(trimmed) > maxErrorBody {
		return trimmed[:maxErrorBody] + "..."
	}
	return trimmed
}
