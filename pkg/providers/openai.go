package providers

import (
	"fmt"
	"strings"

	"github.com/dotsetgreg/dotpersona/pkg/config"
)

const (
	defaultOpenAIAPIBase = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-5-mini"
)

func init() {
	Register(Backend{
		Name:     ProviderOpenAI,
		Build:    newOpenAI,
		Check:    checkOpenAI,
		AuthMode: authModeAPIKey,
	})
}

func checkOpenAI(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Providers.OpenAI.APIKey) == "" {
		return fmt.Errorf("OpenAI API key is required (set providers.openai.api_key or DOTPERSONA_PROVIDERS_OPENAI_API_KEY)")
	}
	return nil
}

func newOpenAI(cfg *config.Config) (Completer, error) {
	pc := cfg.Providers.OpenAI
	base := strings.TrimSpace(pc.APIBase)
	if base == "" {
		base = defaultOpenAIAPIBase
	}
	return newEndpoint(ProviderOpenAI, base, defaultOpenAIModel,
		NewAPIKeyAuth(pc.APIKey, "providers.openai.api_key"),
		withProxy(pc.Proxy),
		withHeader("OpenAI-Organization", pc.Organization),
		withHeader("OpenAI-Project", pc.Project),
	)
}
