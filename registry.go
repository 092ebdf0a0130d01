package polyllm

import (
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
)

// Registry maps provider names to constructors and caches live providers.
//
// Names are case-insensitive. All methods are safe for concurrent use; the
// cache check and the construction of a missing provider happen under one
// lock so concurrent first use never builds the same provider twice.
type Registry struct {
	mu        sync.Mutex
	factories map[string]ProviderFactory
	instances map[string]Provider
	getenv    func(string) string
	logger    *slog.Logger
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the registry logger.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithEnvLookup replaces os.Getenv for credential resolution.
func WithEnvLookup(getenv func(string) string) RegistryOption {
	return func(r *Registry) {
		if getenv != nil {
			r.getenv = getenv
		}
	}
}

// NewRegistry creates an empty, isolated Registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		factories: make(map[string]ProviderFactory),
		instances: make(map[string]Provider),
		getenv:    os.Getenv,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var (
	defaultRegistryOnce sync.Once
	defaultRegistry     *Registry
)

// DefaultRegistry returns the process-wide Registry. Every call returns the
// same instance.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// Register adds a provider constructor under name, overwriting any previous
// registration for the same name.
func (r *Registry) Register(name string, factory ProviderFactory) {
	key := strings.ToLower(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[key] = factory
	r.logger.Debug("registered provider", "provider", key)
}

// IsRegistered reports whether name has a constructor.
func (r *Registry) IsRegistered(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.factories[strings.ToLower(name)]
	return ok
}

// Providers returns the registered names in sorted order.
func (r *Registry) Providers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type providerRequest struct {
	apiKey   string
	hasKey   bool
	config   Options
	useCache bool
}

// ProviderOption customizes a Registry.Provider lookup.
type ProviderOption func(*providerRequest)

// WithAPIKey supplies the credential explicitly. It takes precedence over the
// {NAME}_API_KEY environment convention.
func WithAPIKey(key string) ProviderOption {
	return func(p *providerRequest) {
		p.apiKey = key
		p.hasKey = key != ""
	}
}

// WithProviderConfig supplies provider configuration for construction.
func WithProviderConfig(cfg Options) ProviderOption {
	return func(p *providerRequest) {
		p.config = cfg
	}
}

// WithoutCache bypasses the cache: a fresh provider is built and not stored.
func WithoutCache() ProviderOption {
	return func(p *providerRequest) {
		p.useCache = false
	}
}

// Provider returns the provider registered under name.
//
// With caching (the default) an existing instance is returned unchanged and
// the supplied key and config are ignored. Otherwise the credential is
// resolved, a new provider is built and, when caching, stored.
//
// The credential is the WithAPIKey value when non-empty, otherwise the
// {NAME}_API_KEY environment variable. Lookup, construction and caching run
// under one lock, so concurrent first use builds a single instance.
//
// Returns ErrProviderNotRegistered, listing the registered names, when no
// factory exists for name, or the factory's own error.
//
// Example:
//
//	reg := polyllm.NewRegistry()
//	reg.Register("groq", groq.New)
//
//	// Cached: later calls return this instance.
//	p, err := reg.Provider("groq", polyllm.WithAPIKey(key))
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// Uncached: a throwaway instance, e.g. to validate another key.
//	other, _ := reg.Provider("groq", polyllm.WithAPIKey(otherKey), polyllm.WithoutCache())
//	fmt.Println(p.AvailableModels(), other.ValidateAPIKey(ctx))
func (r *Registry) Provider(name string, opts ...ProviderOption) (Provider, error) {
	req := providerRequest{useCache: true}
	for _, opt := range opts {
		opt(&req)
	}
	key := strings.ToLower(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if req.useCache {
		if p, ok := r.instances[key]; ok {
			return p, nil
		}
	}

	factory, ok := r.factories[key]
	if !ok {
		return nil, notRegisteredError(name, r.namesLocked())
	}

	apiKey := req.apiKey
	if !req.hasKey {
		apiKey = r.getenv(EnvKeyName(name))
	}

	p, err := factory(key, NewSecret(apiKey), req.config)
	if err != nil {
		return nil, err
	}
	if req.useCache {
		r.instances[key] = p
	}
	r.logger.Debug("created provider", "provider", key, "cached", req.useCache, "has_key", apiKey != "")
	return p, nil
}

// ClearCache evicts the cached instances for names, or all of them when no
// name is given.
func (r *Registry) ClearCache(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(names) == 0 {
		clear(r.instances)
		return
	}
	for _, name := range names {
		delete(r.instances, strings.ToLower(name))
	}
}

// IsCached reports whether a live instance is cached for name.
func (r *Registry) IsCached(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.instances[strings.ToLower(name)]
	return ok
}

// EnvKeyName returns the environment variable consulted for a provider
// credential: the upper-cased name with an _API_KEY suffix.
func EnvKeyName(provider string) string {
	return strings.ToUpper(provider) + "_API_KEY"
}
