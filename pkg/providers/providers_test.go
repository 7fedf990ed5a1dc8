package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/dotsetgreg/dotpersona/pkg/config"
)

func TestCreateProvider_OpenRouterByDefault(t *testing.T) {
	var seenAuth, seenPath, seenTitle string
	var seenReq chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAuth = r.Header.Get("Authorization")
		seenPath = r.URL.Path
		seenTitle = r.Header.Get("X-Title")
		if err := json.NewDecoder(r.Body).Decode(&seenReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	cfg := config.DefaultConfig()
	cfg.Providers.OpenRouter.APIKey = "or-key"
	cfg.Providers.OpenRouter.APIBase = server.URL
	cfg.Agents.Defaults.Provider = ""

	provider, err := CreateProvider(cfg)
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}
	if provider.Name() != ProviderOpenRouter {
		t.Fatalf("expected openrouter, got %q", provider.Name())
	}
	out, err := provider.Complete(context.Background(), Prompt{Text: "describe a cat"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out.Text != "ok" || out.FinishReason != "stop" {
		t.Fatalf("unexpected completion %+v", out)
	}
	if out.Model != provider.DefaultModel() {
		t.Fatalf("expected request model to be reported, got %q", out.Model)
	}
	if seenAuth != "Bearer or-key" {
		t.Fatalf("expected openrouter bearer, got %q", seenAuth)
	}
	if seenPath != "/chat/completions" {
		t.Fatalf("expected /chat/completions path, got %q", seenPath)
	}
	if seenTitle != "dotpersona" {
		t.Fatalf("expected X-Title header, got %q", seenTitle)
	}
	if len(seenReq.Messages) != 1 || seenReq.Messages[0].Role != "user" || seenReq.Messages[0].Content != "describe a cat" {
		t.Fatalf("expected a single user turn, got %+v", seenReq.Messages)
	}
	if seenReq.MaxTokens != 0 {
		t.Fatalf("expected max_tokens to be omitted, got %d", seenReq.MaxTokens)
	}
}

func TestCreateProvider_OpenAIHeadersAndParts(t *testing.T) {
	var seenOrg, seenProject string
	var seenReq map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenOrg = r.Header.Get("OpenAI-Organization")
		seenProject = r.Header.Get("OpenAI-Project")
		if err := json.NewDecoder(r.Body).Decode(&seenReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "gpt-5-2026",
			"choices": [{"message": {"content": [{"type":"text","text":"hello "},{"type":"text","text":"world"}]}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`))
	}))
	defer server.Close()

	cfg := config.DefaultConfig()
	cfg.Agents.Defaults.Provider = ProviderOpenAI
	cfg.Providers.OpenAI.APIKey = "sk-openai"
	cfg.Providers.OpenAI.APIBase = server.URL
	cfg.Providers.OpenAI.Organization = "org_123"
	cfg.Providers.OpenAI.Project = "proj_456"

	provider, err := CreateProvider(cfg)
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}
	out, err := provider.Complete(context.Background(), Prompt{Text: "hi", Model: "gpt-5", MaxTokens: 128, Temperature: 0.3})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out.Text != "hello world" {
		t.Fatalf("expected joined parts, got %q", out.Text)
	}
	if out.Usage.TotalTokens != 15 || out.Model != "gpt-5-2026" {
		t.Fatalf("expected usage and model from response, got %+v", out)
	}
	if seenReq["model"] != "gpt-5" {
		t.Fatalf("expected model override, got %v", seenReq["model"])
	}
	if seenReq["max_tokens"] != float64(128) || seenReq["temperature"] != 0.3 {
		t.Fatalf("expected sampling options, got %v", seenReq)
	}
	if seenOrg != "org_123" || seenProject != "proj_456" {
		t.Fatalf("expected OpenAI headers, got org=%q project=%q", seenOrg, seenProject)
	}
}

func TestComplete_ReturnsAPIError(t *testing.T) {
	status := http.StatusPaymentRequired
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":{"message":"This request requires more credits"}}`))
	}))
	defer server.Close()

	cfg := config.DefaultConfig()
	cfg.Providers.OpenRouter.APIKey = "or-key"
	cfg.Providers.OpenRouter.APIBase = server.URL

	provider, err := CreateProvider(cfg)
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}
	_, err = provider.Complete(context.Background(), Prompt{Text: "hi"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Status != 402 || apiErr.Temporary() {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
	if !strings.Contains(err.Error(), "status=402") || !strings.Contains(err.Error(), "top up") {
		t.Fatalf("unexpected error text: %v", err)
	}

	status = http.StatusServiceUnavailable
	_, err = provider.Complete(context.Background(), Prompt{Text: "hi"})
	if !errors.As(err, &apiErr) || !apiErr.Temporary() {
		t.Fatalf("expected a temporary error for 503, got %v", err)
	}
}

func TestComplete_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	cfg := config.DefaultConfig()
	cfg.Providers.OpenRouter.APIKey = "or-key"
	cfg.Providers.OpenRouter.APIBase = server.URL
	provider, err := CreateProvider(cfg)
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}
	out, err := provider.Complete(context.Background(), Prompt{Text: "hi"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out.Text != "" {
		t.Fatalf("expected empty text, got %q", out.Text)
	}
}

func TestCreateConfiguredProviders_SkipsMissingCredentials(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Providers.OpenAI.APIKey = "sk-openai"

	got := CreateConfiguredProviders(cfg)
	if _, ok := got[ProviderOpenAI]; !ok {
		t.Fatalf("expected openai provider to be built")
	}
	if _, ok := got[ProviderOpenRouter]; ok {
		t.Fatalf("expected openrouter to be skipped without api key")
	}
}

func TestCreateProvider_UnsupportedProvider(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Agents.Defaults.Provider = "does-not-exist"

	if _, err := CreateProvider(cfg); err == nil {
		t.Fatalf("expected unsupported provider error")
	}
}

func TestValidateProviderConfig_MissingCredentials(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Agents.Defaults.Provider = ProviderOpenAI

	if err := ValidateProviderConfig(cfg); err == nil {
		t.Fatalf("expected missing credentials error for openai")
	}
}

func TestProviderCredentialStatus(t *testing.T) {
	cfg := config.DefaultConfig()

	name, configured, _, err := ProviderCredentialStatus(cfg)
	if err != nil || name != ProviderOpenRouter || configured {
		t.Fatalf("expected unconfigured openrouter, got name=%q configured=%v err=%v", name, configured, err)
	}

	cfg.Providers.OpenRouter.APIKey = "or-key"
	name, configured, mode, err := ProviderCredentialStatus(cfg)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if name != ProviderOpenRouter || !configured || mode != authModeAPIKey {
		t.Fatalf("unexpected status name=%q configured=%v mode=%q", name, configured, mode)
	}
}

func TestRegister_InvalidBackendPoisonsLookups(t *testing.T) {
	backendsMu.RLock()
	saved := make(map[string]Backend, len(backends))
	for k, v := range backends {
		saved[k] = v
	}
	savedErr := registerErr
	backendsMu.RUnlock()
	defer func() {
		backendsMu.Lock()
		backends = saved
		registerErr = savedErr
		backendsMu.Unlock()
	}()

	Register(Backend{})

	cfg := config.DefaultConfig()
	cfg.Providers.OpenRouter.APIKey = "or-key"
	if _, err := CreateProvider(cfg); err == nil {
		t.Fatalf("expected provider creation to fail after invalid registration")
	}
}
