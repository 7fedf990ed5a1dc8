package providers

import (
	"strings"
	"testing"
)

func TestWithHint(t *testing.T) {
	tests := []struct {
		provider string
		message  string
		want     string
	}{
		{ProviderOpenRouter, "This request requires more credits", "top up OpenRouter credits"},
		{ProviderOpenRouter, "No endpoints found for foo/bar", "not routable"},
		{ProviderOpenAI, "Incorrect API key provided", "Platform API key"},
		{ProviderOpenAI, "The model `openai/gpt-5` does not exist", "no vendor prefix"},
	}
	for _, tt := range tests {
		if msg := withHint(tt.provider, tt.message); !strings.Contains(msg, tt.want) {
			t.Fatalf("expected %q in hint for %q, got %q", tt.want, tt.message, msg)
		}
	}
	if got := withHint(ProviderOpenAI, "  rate limited "); got != "rate limited" {
		t.Fatalf("expected trimmed passthrough, got %q", got)
	}
}
