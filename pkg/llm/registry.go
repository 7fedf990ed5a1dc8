package llm

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dotsetgreg/dotpersona/pkg/providers"
)

// ProviderRegistry holds the named providers available to a process and
// remembers which one each session currently uses.
type ProviderRegistry struct {
	providers   map[string]providers.Completer
	defaultName string
	current     map[string]string
	mu          sync.RWMutex
}

func NewProviderRegistry(defaultName string, available map[string]providers.Completer) *ProviderRegistry {
	r := &ProviderRegistry{
		providers:   make(map[string]providers.Completer, len(available)),
		defaultName: providers.NormalizeProviderName(defaultName),
		current:     make(map[string]string),
	}
	for name, p := range available {
		r.providers[providers.NormalizeProviderName(name)] = p
	}
	return r
}

func (r *ProviderRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetSessionProvider selects the provider a session's calls go to.
func (r *ProviderRegistry) SetSessionProvider(sessionKey, name string) error {
	name = providers.NormalizeProviderName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return fmt.Errorf("provider %q is not configured", name)
	}
	r.current[sessionKey] = name
	return nil
}

func (r *ProviderRegistry) SessionProvider(sessionKey string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name, ok := r.current[sessionKey]; ok {
		return name
	}
	return r.defaultName
}

// Resolve picks pinned, then the session's current, then the default provider.
func (r *ProviderRegistry) Resolve(sessionKey, pinned string) (providers.Completer, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if pinned = strings.TrimSpace(pinned); pinned != "" {
		name := providers.NormalizeProviderName(pinned)
		if p, ok := r.providers[name]; ok {
			return p, name, nil
		}
		return nil, name, fmt.Errorf("%w: pinned provider %q is not configured", ErrNoProvider, name)
	}
	if name, ok := r.current[sessionKey]; ok {
		if p, ok := r.providers[name]; ok {
			return p, name, nil
		}
	}
	if p, ok := r.providers[r.defaultName]; ok {
		return p, r.defaultName, nil
	}
	return nil, "", ErrNoProvider
}
