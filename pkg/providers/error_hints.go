package providers

import "strings"

type hint struct {
	match []string
	text  string
}

var providerHints = map[string][]hint{
	ProviderOpenRouter: {
		{[]string{"insufficient credits"}, "top up OpenRouter credits or lower architect.max_tokens"},
		{[]string{"requires more credits"}, "top up OpenRouter credits or lower architect.max_tokens"},
		{[]string{"no endpoints found"}, "the model is not routable on OpenRouter; check agents.defaults.model or architect.model"},
	},
	ProviderOpenAI: {
		{[]string{"incorrect api key provided"}, "providers.openai.api_key must be a Platform API key"},
		{[]string{"model", "does not exist"}, "OpenAI model names have no vendor prefix; set architect.model to e.g. gpt-5-mini"},
	},
}

// withHint appends a configuration hint for well-known provider errors.
func withHint(provider, message string) string {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return msg
	}
	lower := strings.ToLower(msg)
	for _, h := range providerHints[NormalizeProviderName(provider)] {
		if containsAll(lower, h.match) {
			return msg + " Hint: " + h.text + "."
		}
	}
	return msg
}

func containsAll(s string, parts []string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
