package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dotsetgreg/dotpersona/pkg/config"
	"github.com/dotsetgreg/dotpersona/pkg/logger"
	"github.com/dotsetgreg/dotpersona/pkg/metrics"
	"github.com/dotsetgreg/dotpersona/pkg/providers"
)

// Caller is the narrow text-in/text-out view of an LLM the workflows use.
type Caller interface {
	Call(ctx context.Context, sessionKey, purpose, prompt string) (string, error)
}

// Architect sends single-prompt requests with a per-attempt timeout and a
// bounded number of fixed-delay retries.
type Architect struct {
	registry    *ProviderRegistry
	pinned      string
	model       string
	timeout     time.Duration
	maxRetries  int
	retryDelay  time.Duration
	maxTokens   int
	temperature float64
	metrics     metrics.Recorder
}

type ArchitectOption func(*Architect)

func WithMetrics(rec metrics.Recorder) ArchitectOption {
	return func(a *Architect) {
		if rec != nil {
			a.metrics = rec
		}
	}
}

// WithTimeouts overrides the per-attempt timeout and the retry delay.
func WithTimeouts(timeout, retryDelay time.Duration) ArchitectOption {
	return func(a *Architect) {
		a.timeout = timeout
		a.retryDelay = retryDelay
	}
}

func NewArchitect(cfg *config.Config, registry *ProviderRegistry, opts ...ArchitectOption) *Architect {
	a := &Architect{
		registry:    registry,
		pinned:      cfg.Architect.ProviderID,
		model:       cfg.Architect.Model,
		timeout:     cfg.ArchitectTimeout(),
		maxRetries:  cfg.Architect.MaxRetries,
		retryDelay:  cfg.ArchitectRetryDelay(),
		maxTokens:   cfg.Architect.MaxTokens,
		temperature: cfg.Architect.Temperature,
		metrics:     metrics.Noop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Architect) Call(ctx context.Context, sessionKey, purpose, prompt string) (string, error) {
	provider, name, err := a.registry.Resolve(sessionKey, a.pinned)
	if err != nil {
		return "", err
	}

	started := time.Now()
	req := providers.Prompt{
		Text:        prompt,
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
	}

	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			a.metrics.IncLLMRetry(purpose)
			logger.WarnCF("llm", "Retrying architect call", map[string]interface{}{
				"purpose":  purpose,
				"provider": name,
				"attempt":  attempt + 1,
				"error":    lastErr.Error(),
			})
			if err := sleepCtx(ctx, a.retryDelay); err != nil {
				break
			}
		}

		text, err := a.attempt(ctx, provider, req)
		if err == nil {
			a.metrics.ObserveLLMCall(purpose, "ok", time.Since(started))
			return text, nil
		}
		if errors.Is(err, ErrEmptyCompletion) {
			a.metrics.ObserveLLMCall(purpose, "empty", time.Since(started))
			return "", err
		}
		lastErr = err
		var apiErr *providers.APIError
		if ctx.Err() != nil || (errors.As(err, &apiErr) && !apiErr.Temporary()) {
			break
		}
	}

	a.metrics.ObserveLLMCall(purpose, "error", time.Since(started))
	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return "", fmt.Errorf("%s call via %s failed: %w", purpose, name, lastErr)
}

func (a *Architect) attempt(ctx context.Context, provider providers.Completer, req providers.Prompt) (string, error) {
	callCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	out, err := provider.Complete(callCtx, req)
	if err != nil {
		return "", err
	}
	if out == nil {
		return "", ErrEmptyCompletion
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
