package providers

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dotsetgreg/dotpersona/pkg/config"
)

const (
	ProviderOpenRouter = "openrouter"
	ProviderOpenAI     = "openai"
)

// Backend describes how to build one named completer from config.
type Backend struct {
	Name  string
	Build func(cfg *config.Config) (Completer, error)
	// Check reports missing or malformed credentials. Nil means none needed.
	Check    func(cfg *config.Config) error
	AuthMode string
}

var (
	backendsMu  sync.RWMutex
	backends    = map[string]Backend{}
	registerErr error
)

// Register adds b to the set of known backends. Invalid registrations are
// remembered and reported by every later lookup.
func Register(b Backend) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	switch {
	case strings.TrimSpace(b.Name) == "":
		registerErr = errors.Join(registerErr, errors.New("providers: backend name is required"))
		return
	case b.Build == nil:
		registerErr = errors.Join(registerErr, fmt.Errorf("providers: backend %q has no build func", b.Name))
		return
	}
	b.Name = NormalizeProviderName(b.Name)
	backends[b.Name] = b
}

func SupportedProviders() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NormalizeProviderName lowercases name; empty selects openrouter.
func NormalizeProviderName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ProviderOpenRouter
	}
	return name
}

func ActiveProviderName(cfg *config.Config) string {
	if cfg == nil {
		return ProviderOpenRouter
	}
	return NormalizeProviderName(cfg.Agents.Defaults.Provider)
}

func lookup(name string) (Backend, error) {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	if registerErr != nil {
		return Backend{}, fmt.Errorf("provider registration failed: %w", registerErr)
	}
	b, ok := backends[name]
	if !ok {
		names := make([]string, 0, len(backends))
		for n := range backends {
			names = append(names, n)
		}
		sort.Strings(names)
		return Backend{}, fmt.Errorf("unsupported provider %q: supported providers are %s", name, strings.Join(names, ", "))
	}
	return b, nil
}

func (b Backend) check(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	if b.Check == nil {
		return nil
	}
	return b.Check(cfg)
}

// ValidateProviderConfig checks the credentials of the default provider.
func ValidateProviderConfig(cfg *config.Config) error {
	b, err := lookup(ActiveProviderName(cfg))
	if err != nil {
		return err
	}
	return b.check(cfg)
}

func ProviderCredentialStatus(cfg *config.Config) (provider string, configured bool, mode string, err error) {
	provider = ActiveProviderName(cfg)
	b, err := lookup(provider)
	if err != nil {
		return "", false, "", err
	}
	if b.check(cfg) != nil {
		return provider, false, "", nil
	}
	return provider, true, b.AuthMode, nil
}

// CreateProvider builds the provider selected by agents.defaults.provider.
func CreateProvider(cfg *config.Config) (Completer, error) {
	return CreateNamedProvider(cfg, ActiveProviderName(cfg))
}

// CreateNamedProvider builds a specific backend, used when the architect is
// pinned to a provider other than the default.
func CreateNamedProvider(cfg *config.Config, name string) (Completer, error) {
	b, err := lookup(NormalizeProviderName(name))
	if err != nil {
		return nil, err
	}
	if err := b.check(cfg); err != nil {
		return nil, err
	}
	return b.Build(cfg)
}

// CreateConfiguredProviders builds every backend whose credentials are
// present. Backends that fail to build are skipped.
func CreateConfiguredProviders(cfg *config.Config) map[string]Completer {
	out := map[string]Completer{}
	for _, name := range SupportedProviders() {
		c, err := CreateNamedProvider(cfg, name)
		if err != nil {
			continue
		}
		out[name] = c
	}
	return out
}
