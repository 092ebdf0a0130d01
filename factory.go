package polyllm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/xostack/polyllm/config"
)

// Fallback target used when fallback is enabled.
const (
	FallbackProvider = "mock"
	FallbackModel    = "mock-model"
)

// ClientFactory resolves provider and model names, validates model support
// and builds Clients.
//
// It holds the configured defaults and the fallback policy. All methods are
// safe for concurrent use.
type ClientFactory struct {
	registry *Registry
	logger   *slog.Logger

	mu               sync.RWMutex
	defaultProvider  string
	defaultModel     string
	fallbackEnabled  bool
	fallbackProvider string
	fallbackModel    string
}

// FactoryOption customizes a ClientFactory.
type FactoryOption func(*ClientFactory)

// WithFactoryLogger sets the factory logger.
func WithFactoryLogger(l *slog.Logger) FactoryOption {
	return func(f *ClientFactory) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithFallbackTarget changes the provider and model used for fallback.
func WithFallbackTarget(provider, model string) FactoryOption {
	return func(f *ClientFactory) {
		f.fallbackProvider = strings.ToLower(provider)
		f.fallbackModel = model
	}
}

// NewClientFactory creates a factory over reg with no defaults and fallback
// disabled. A nil reg means DefaultRegistry.
func NewClientFactory(reg *Registry, opts ...FactoryOption) *ClientFactory {
	if reg == nil {
		reg = DefaultRegistry()
	}
	f := &ClientFactory{
		registry:         reg,
		logger:           slog.Default(),
		fallbackProvider: FallbackProvider,
		fallbackModel:    FallbackModel,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

var (
	defaultFactoryOnce sync.Once
	defaultFactory     *ClientFactory
)

// DefaultClientFactory returns the process-wide ClientFactory, bound to
// DefaultRegistry. Every call returns the same instance.
func DefaultClientFactory() *ClientFactory {
	defaultFactoryOnce.Do(func() {
		defaultFactory = NewClientFactory(DefaultRegistry())
	})
	return defaultFactory
}

// Registry returns the registry the factory resolves providers from.
func (f *ClientFactory) Registry() *Registry {
	return f.registry
}

// LoadConfig takes the default provider/model and the fallback flag from cfg.
// Empty defaults fall back to the mock provider and model.
func (f *ClientFactory) LoadConfig(cfg config.Config) {
	provider, model := cfg.Defaults.Provider, cfg.Defaults.Model
	if provider == "" {
		provider = config.DefaultProvider
	}
	if model == "" {
		model = config.DefaultModel
	}

	f.mu.Lock()
	f.defaultProvider = provider
	f.defaultModel = model
	f.fallbackEnabled = cfg.FallbackToMock
	f.mu.Unlock()

	f.logger.Info("loaded client factory configuration",
		"default_provider", provider, "default_model", model, "fallback_to_mock", cfg.FallbackToMock)
}

// SetDefaults overrides the default provider and model.
func (f *ClientFactory) SetDefaults(provider, model string) {
	f.mu.Lock()
	f.defaultProvider = provider
	f.defaultModel = model
	f.mu.Unlock()
	f.logger.Info("set client factory defaults", "provider", provider, "model", model)
}

// SetFallback enables or disables fallback without reloading configuration.
func (f *ClientFactory) SetFallback(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallbackEnabled = enabled
}

// Defaults returns the current default provider and model.
func (f *ClientFactory) Defaults() (provider, model string) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.defaultProvider, f.defaultModel
}

// FallbackEnabled reports whether fallback is active.
func (f *ClientFactory) FallbackEnabled() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.fallbackEnabled
}

type clientRequest struct {
	provider       string
	model          string
	apiKey         string
	historySize    int
	overrides      Options
	providerConfig Options
}

// ClientOption customizes CreateClient.
type ClientOption func(*clientRequest)

// WithProvider names the provider explicitly.
func WithProvider(name string) ClientOption {
	return func(r *clientRequest) { r.provider = name }
}

// WithModel names the model explicitly.
func WithModel(id string) ClientOption {
	return func(r *clientRequest) { r.model = id }
}

// WithClientAPIKey supplies the provider credential.
func WithClientAPIKey(key string) ClientOption {
	return func(r *clientRequest) { r.apiKey = key }
}

// WithHistorySize sets the History capacity of the new client.
func WithHistorySize(n int) ClientOption {
	return func(r *clientRequest) { r.historySize = n }
}

// WithOverrides supplies facade configuration overrides.
func WithOverrides(o Options) ClientOption {
	return func(r *clientRequest) { r.overrides = r.overrides.Merge(o) }
}

// WithClientProviderConfig supplies configuration used if the provider has to
// be constructed.
func WithClientProviderConfig(cfg Options) ClientOption {
	return func(r *clientRequest) { r.providerConfig = cfg }
}

// APIKeyOf reports the credential carried by opts, if any.
func APIKeyOf(opts ...ClientOption) string {
	var r clientRequest
	for _, opt := range opts {
		opt(&r)
	}
	return r.apiKey
}

// ProviderOf reports the provider name carried by opts, if any.
func ProviderOf(opts ...ClientOption) string {
	var r clientRequest
	for _, opt := range opts {
		opt(&r)
	}
	return r.provider
}

// CreateClient resolves the provider and model, validates that the provider
// supports the model and returns a new Client around a fresh Facade.
//
// When a step fails and fallback is enabled, creation is retried exactly
// once against the fallback provider and model, unless the failing request
// already targeted the fallback provider. A failed fallback is not retried
// again; its error is joined with the original one.
//
// The context is reserved for providers that need it during construction.
//
// Parameters:
//   - ctx: Context for the creation call
//   - opts: WithProvider, WithModel, WithClientAPIKey, WithHistorySize,
//     WithOverrides and WithClientProviderConfig; omitted provider and model
//     fall back to the factory defaults
//
// Returns:
//   - *Client: A client with an empty history of the requested size
//   - error: ErrNoProvider, ErrNoModel, ErrProviderNotRegistered,
//     ErrModelNotSupported or a provider construction error, wrapped
//
// Example:
//
//	factory := polyllm.NewClientFactory(polyllm.DefaultRegistry())
//	factory.SetDefaults("ollama", "llama3.2")
//	factory.SetFallback(true)
//
//	client, err := factory.CreateClient(ctx, polyllm.WithModel("mistral"))
//	if err != nil {
//		log.Fatal(err)
//	}
//	resp := client.Generate(ctx, "Hello, world!")
//	if resp.Failed() {
//		log.Fatal(resp.Error)
//	}
//	fmt.Println(resp.Content)
func (f *ClientFactory) CreateClient(ctx context.Context, opts ...ClientOption) (*Client, error) {
	req := clientRequest{historySize: DefaultHistorySize}
	for _, opt := range opts {
		opt(&req)
	}

	client, provider, err := f.create(req)
	if err == nil {
		return client, nil
	}
	f.logger.Error("error creating client", "provider", provider, "error", err)

	f.mu.RLock()
	fallback := f.fallbackEnabled
	fbProvider, fbModel := f.fallbackProvider, f.fallbackModel
	f.mu.RUnlock()

	if !fallback || strings.EqualFold(provider, fbProvider) {
		return nil, err
	}

	f.logger.Warn("falling back", "provider", fbProvider, "model", fbModel)
	client, _, fbErr := f.create(clientRequest{
		provider:    fbProvider,
		model:       fbModel,
		historySize: req.historySize,
	})
	if fbErr != nil {
		return nil, errors.Join(err, fmt.Errorf("fallback to %s failed: %w", fbProvider, fbErr))
	}
	return client, nil
}

// create runs resolution and construction once. It returns the resolved
// provider name so the caller can apply the fallback policy.
func (f *ClientFactory) create(req clientRequest) (*Client, string, error) {
	f.mu.RLock()
	provider, model := req.provider, req.model
	if provider == "" {
		provider = f.defaultProvider
	}
	if model == "" {
		model = f.defaultModel
	}
	f.mu.RUnlock()

	if provider == "" {
		return nil, "", ErrNoProvider
	}
	if model == "" {
		return nil, provider, ErrNoModel
	}

	var popts []ProviderOption
	if req.apiKey != "" {
		popts = append(popts, WithAPIKey(req.apiKey))
	}
	if req.providerConfig != nil {
		popts = append(popts, WithProviderConfig(req.providerConfig))
	}
	p, err := f.registry.Provider(provider, popts...)
	if err != nil {
		return nil, provider, err
	}

	if !p.SupportsModel(model) {
		return nil, provider, ModelNotSupportedError(provider, model, p.AvailableModels())
	}

	facade, err := p.CreateFacade(model, req.overrides)
	if err != nil {
		return nil, provider, fmt.Errorf("failed to create facade for %s/%s: %w", provider, model, err)
	}

	f.logger.Info("created client", "provider", provider, "model", model, "history_size", req.historySize)
	return NewClient(facade, req.historySize).WithLogger(f.logger), provider, nil
}

// Providers lists the registered provider names.
func (f *ClientFactory) Providers() []string {
	return f.registry.Providers()
}

// ProviderModels lists the models of provider. Errors are logged and yield
// an empty list.
func (f *ClientFactory) ProviderModels(provider string) []string {
	p, err := f.registry.Provider(provider)
	if err != nil {
		f.logger.Error("error getting models", "provider", provider, "error", err)
		return []string{}
	}
	return p.AvailableModels()
}

func (f *ClientFactory) String() string {
	provider, model := f.Defaults()
	return fmt.Sprintf("ClientFactory(default_provider=%s, default_model=%s)", provider, model)
}
