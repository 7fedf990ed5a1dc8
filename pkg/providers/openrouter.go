package providers

import (
	"fmt"
	"strings"

	"github.com/dotsetgreg/dotpersona/pkg/config"
)

const (
	defaultOpenRouterAPIBase = "https://openrouter.ai/api/v1"
	defaultOpenRouterModel   = "openai/gpt-5.2"
)

func init() {
	Register(Backend{
		Name:     ProviderOpenRouter,
		Build:    newOpenRouter,
		Check:    checkOpenRouter,
		AuthMode: authModeAPIKey,
	})
}

func checkOpenRouter(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Providers.OpenRouter.APIKey) == "" {
		return fmt.Errorf("OpenRouter API key is required (set providers.openrouter.api_key or DOTPERSONA_PROVIDERS_OPENROUTER_API_KEY)")
	}
	return nil
}

func newOpenRouter(cfg *config.Config) (Completer, error) {
	pc := cfg.Providers.OpenRouter
	base := strings.TrimSpace(pc.APIBase)
	if base == "" {
		base = defaultOpenRouterAPIBase
	}
	model := strings.TrimSpace(cfg.Agents.Defaults.Model)
	if model == "" {
		model = defaultOpenRouterModel
	}
	return newEndpoint(ProviderOpenRouter, base, model,
		NewAPIKeyAuth(pc.APIKey, "providers.openrouter.api_key"),
		withProxy(pc.Proxy),
		withHeader("X-Title", "dotpersona"),
	)
}
