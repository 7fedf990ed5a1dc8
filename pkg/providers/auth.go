package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const authModeAPIKey = "api_key"

// AuthStrategy decorates outgoing completion requests with credentials.
type AuthStrategy interface {
	Mode() string
	Apply(ctx context.Context, req *http.Request) error
}

type apiKeyAuth struct {
	key string
	// origin names the config key the value came from, for error messages.
	origin string
}

// NewAPIKeyAuth sends key as a bearer token.
func NewAPIKeyAuth(key, origin string) AuthStrategy {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		origin = "api key"
	}
	return &apiKeyAuth{key: strings.TrimSpace(key), origin: origin}
}

func (a *apiKeyAuth) Mode() string { return authModeAPIKey }

func (a *apiKeyAuth) Apply(_ context.Context, req *http.Request) error {
	if err := checkKey(a.key); err != nil {
		return fmt.Errorf("%s: %w", a.origin, err)
	}
	req.Header.Set("Authorization", "Bearer "+a.key)
	return nil
}

func checkKey(key string) error {
	switch {
	case key == "":
		return fmt.Errorf("key is empty")
	case strings.HasPrefix(key, "<") && strings.HasSuffix(key, ">"),
		strings.HasPrefix(key, "${") && strings.HasSuffix(key, "}"):
		return fmt.Errorf("key looks like an unexpanded placeholder")
	}
	return nil
}
