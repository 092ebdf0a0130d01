// Package system wires configuration, logging, the provider registry and the
// client factory into one object with an explicit lifecycle.
//
//	sys := system.New()
//	if err := sys.Initialize(""); err != nil { ... }
//	client, err := sys.CreateClient(ctx, polyllm.WithProvider("groq"))
package system

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/xostack/polyllm"
	"github.com/xostack/polyllm/config"
	"github.com/xostack/polyllm/gemini"
	"github.com/xostack/polyllm/grok"
	"github.com/xostack/polyllm/groq"
	"github.com/xostack/polyllm/mock"
	"github.com/xostack/polyllm/ollama"
	"github.com/xostack/polyllm/together"
)

// ErrNotInitialized is returned by calls made before Initialize.
var ErrNotInitialized = errors.New("system not initialized, call Initialize first")

// DefaultDebounce is how long Watch waits for further file events before
// reloading.
const DefaultDebounce = 200 * time.Millisecond

// BuiltinProviders returns the constructors of the bundled providers by name.
func BuiltinProviders() map[string]polyllm.ProviderFactory {
	return map[string]polyllm.ProviderFactory{
		"mock":     mock.New,
		"ollama":   ollama.New,
		"groq":     groq.New,
		"together": together.New,
		"grok":     grok.New,
		"gemini":   gemini.New,
	}
}

// System owns the configuration, the Registry and the ClientFactory.
type System struct {
	mu          sync.RWMutex
	initialized bool
	configPath  string
	cfg         config.Config
	registry    *polyllm.Registry
	factory     *polyllm.ClientFactory
	logger      *slog.Logger

	logOutput io.Writer
	extra     map[string]polyllm.ProviderFactory
	debounce  time.Duration
	onReload  func(config.Config)
}

// Option customizes a System.
type Option func(*System)

// WithLogger uses l instead of building a handler from the configured level.
func WithLogger(l *slog.Logger) Option {
	return func(s *System) { s.logger = l }
}

// WithLogOutput sets where the built logger writes. Defaults to os.Stderr.
func WithLogOutput(w io.Writer) Option {
	return func(s *System) { s.logOutput = w }
}

// WithRegistry uses reg instead of a fresh Registry.
func WithRegistry(reg *polyllm.Registry) Option {
	return func(s *System) { s.registry = reg }
}

// WithProviderFactory registers an additional provider, or replaces a
// builtin one of the same name.
func WithProviderFactory(name string, f polyllm.ProviderFactory) Option {
	return func(s *System) { s.extra[strings.ToLower(name)] = f }
}

// WithDebounce sets the Watch debounce interval.
func WithDebounce(d time.Duration) Option {
	return func(s *System) { s.debounce = d }
}

// WithReloadHook registers fn to be called after every successful Reload.
func WithReloadHook(fn func(config.Config)) Option {
	return func(s *System) { s.onReload = fn }
}

// New returns an uninitialized System.
func New(opts ...Option) *System {
	s := &System{
		logOutput: os.Stderr,
		extra:     map[string]polyllm.ProviderFactory{},
		debounce:  DefaultDebounce,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	defaultOnce   sync.Once
	defaultSystem *System
)

// Default returns the process-wide System. It is bound to
// polyllm.DefaultRegistry and still has to be initialized.
func Default() *System {
	defaultOnce.Do(func() {
		defaultSystem = New(WithRegistry(polyllm.DefaultRegistry()))
	})
	return defaultSystem
}

// Initialize loads the configuration at configPath (the XDG path when
// empty; a missing file yields defaults), sets up logging, registers the
// providers and configures the client factory. A second call logs a warning
// and does nothing.
func (s *System) Initialize(configPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		s.logger.Warn("system already initialized")
		return nil
	}

	if configPath == "" {
		p, err := config.GetConfigFilePath()
		if err != nil {
			return err
		}
		configPath = p
	}
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(s.logOutput, &slog.HandlerOptions{
			Level: ParseLevel(cfg.LogLevel),
		}))
	}
	s.logger.Info("configuration loaded", "path", configPath)

	if s.registry == nil {
		s.registry = polyllm.NewRegistry(polyllm.WithRegistryLogger(s.logger))
	}
	providers := BuiltinProviders()
	maps.Copy(providers, s.extra)
	for _, name := range slices.Sorted(maps.Keys(providers)) {
		s.registry.Register(name, providers[name])
		s.logger.Debug("registered provider", "provider", name)
	}

	s.factory = polyllm.NewClientFactory(s.registry, polyllm.WithFactoryLogger(s.logger))
	s.factory.LoadConfig(cfg)

	s.configPath = configPath
	s.cfg = cfg
	s.initialized = true
	s.logger.Info("system initialized successfully", "providers", len(providers))
	return nil
}

// IsInitialized reports whether Initialize has completed.
func (s *System) IsInitialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// Logger returns the system logger, or slog.Default before Initialize.
func (s *System) Logger() *slog.Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.logger == nil {
		return slog.Default()
	}
	return s.logger
}

// Registry returns the provider registry, or nil before Initialize.
func (s *System) Registry() *polyllm.Registry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil
	}
	return s.registry
}

// Factory returns the client factory, or nil before Initialize.
func (s *System) Factory() *polyllm.ClientFactory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil
	}
	return s.factory
}

// Config returns the loaded configuration.
func (s *System) Config() (config.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return config.Config{}, ErrNotInitialized
	}
	return s.cfg, nil
}

// ConfigPath returns the path the configuration was loaded from.
func (s *System) ConfigPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.configPath
}

// providerConfig builds the constructor configuration for provider from its
// config section and the configured models that name it.
func (s *System) providerConfig(provider string) polyllm.Options {
	opts := polyllm.Options(s.cfg.ProviderOptions(provider))
	var infos []polyllm.ModelInfo
	for _, id := range s.cfg.ModelNames() {
		mc := s.cfg.Models[id]
		if !strings.EqualFold(mc.Provider, provider) {
			continue
		}
		infos = append(infos, polyllm.ModelInfo{
			ID:                   id,
			Name:                 mc.Name,
			Description:          mc.Description,
			Version:              mc.Version,
			ContextWindow:        mc.ContextWindow,
			MaxOutputTokens:      mc.MaxOutputTokens,
			Strengths:            mc.Strengths,
			InputCostPerMillion:  mc.InputCostPerMillion,
			OutputCostPerMillion: mc.OutputCostPerMillion,
		})
	}
	if len(infos) > 0 {
		opts[polyllm.OptModelInfo] = infos
	}
	return opts
}

// providerOptions returns the registry options carrying the configured
// credential and provider configuration.
func (s *System) providerOptions(provider string) []polyllm.ProviderOption {
	opts := []polyllm.ProviderOption{polyllm.WithProviderConfig(s.providerConfig(provider))}
	if key := s.cfg.APIKey(provider); key != "" {
		opts = append(opts, polyllm.WithAPIKey(key))
	}
	return opts
}

// CreateClient creates a client through the factory. The configured
// credential and provider section are supplied unless opts carry their own.
func (s *System) CreateClient(ctx context.Context, opts ...polyllm.ClientOption) (*polyllm.Client, error) {
	s.mu.RLock()
	if !s.initialized {
		s.mu.RUnlock()
		return nil, ErrNotInitialized
	}
	factory := s.factory
	provider := polyllm.ProviderOf(opts...)
	if provider == "" {
		provider, _ = factory.Defaults()
	}
	injected := []polyllm.ClientOption{polyllm.WithClientProviderConfig(s.providerConfig(provider))}
	if polyllm.APIKeyOf(opts...) == "" {
		if key := s.cfg.APIKey(provider); key != "" {
			injected = append(injected, polyllm.WithClientAPIKey(key))
		}
	}
	s.mu.RUnlock()

	// caller options come last and win
	return factory.CreateClient(ctx, append(injected, opts...)...)
}

// ListProviders lists the registered providers.
func (s *System) ListProviders() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	return s.registry.Providers(), nil
}

// ListModels lists the catalog of provider, or every configured model when
// provider is empty.
func (s *System) ListModels(provider string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	if provider == "" {
		return s.cfg.ModelNames(), nil
	}
	p, err := s.registry.Provider(provider, s.providerOptions(provider)...)
	if err != nil {
		return nil, err
	}
	return p.AvailableModels(), nil
}

// Provider returns the registered provider, constructed with the configured
// credential on first use.
func (s *System) Provider(name string) (polyllm.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	return s.registry.Provider(name, s.providerOptions(name)...)
}

// ValidateAPIKey checks key against provider with a fresh, uncached
// instance. An empty key means the configured credential.
func (s *System) ValidateAPIKey(ctx context.Context, provider, key string) (bool, error) {
	s.mu.RLock()
	if !s.initialized {
		s.mu.RUnlock()
		return false, ErrNotInitialized
	}
	opts := append(s.providerOptions(provider), polyllm.WithoutCache())
	if key != "" {
		opts = append(opts, polyllm.WithAPIKey(key))
	}
	p, err := s.registry.Provider(provider, opts...)
	s.mu.RUnlock()
	if err != nil {
		return false, err
	}
	return p.ValidateAPIKey(ctx), nil
}

// ModelInfo returns the configured metadata for model. The zero value is
// returned when the model is not configured.
func (s *System) ModelInfo(model string) (config.ModelConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return config.ModelConfig{}, ErrNotInitialized
	}
	mc, _ := s.cfg.GetModelConfig(model)
	return mc, nil
}

// ProviderInfo returns the configured section for provider. The zero value
// is returned when the provider is not configured.
func (s *System) ProviderInfo(provider string) (config.ProviderConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return config.ProviderConfig{}, ErrNotInitialized
	}
	pc, _ := s.cfg.GetProviderConfig(provider)
	return pc, nil
}

// Reload re-reads the configuration file and applies defaults and fallback
// to the factory. Cached providers are dropped so that new credentials and
// provider settings take effect.
func (s *System) Reload() error {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return ErrNotInitialized
	}
	cfg, err := config.LoadOrDefault(s.configPath)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to reload configuration: %w", err)
	}
	s.cfg = cfg
	s.factory.LoadConfig(cfg)
	s.registry.ClearCache()
	hook, logger, path := s.onReload, s.logger, s.configPath
	s.mu.Unlock()

	logger.Info("configuration reloaded", "path", path)
	if hook != nil {
		hook(cfg)
	}
	return nil
}

// Watch reloads the configuration whenever its file changes, until ctx is
// done. It returns once the watcher is running.
func (s *System) Watch(ctx context.Context) error {
	s.mu.RLock()
	if !s.initialized {
		s.mu.RUnlock()
		return ErrNotInitialized
	}
	path, debounce, logger := s.configPath, s.debounce, s.logger
	s.mu.RUnlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	// Watch the directory: editors often replace the file on save.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	logger.Info("watching configuration", "path", path)

	go func() {
		defer watcher.Close()
		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, func() {
					if err := s.Reload(); err != nil {
						logger.Error("config reload failed", "error", err)
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", "error", err)
			}
		}
	}()
	return nil
}

// ParseLevel maps a configured log level name to a slog.Level. Unknown
// names yield info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "critical":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (s *System) String() string {
	if s.IsInitialized() {
		return "System(initialized)"
	}
	return "System(not initialized)"
}
