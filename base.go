package polyllm

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

// BaseProvider implements the catalog half of Provider. Vendor providers embed
// it and add CreateFacade and ValidateAPIKey.
type BaseProvider struct {
	name   string
	apiKey Secret
	config Options
	logger *slog.Logger

	mu      sync.RWMutex
	order   []string
	catalog map[string]ModelInfo
}

// NewBaseProvider builds the shared provider state. The builtin catalog is
// extended with any model ids listed under the "models" config key that it
// does not already contain, and with the entries of OptModelInfo.
func NewBaseProvider(name string, apiKey Secret, cfg Options, builtin []ModelInfo) *BaseProvider {
	b := &BaseProvider{
		name:    strings.ToLower(name),
		apiKey:  apiKey,
		config:  cfg.Merge(),
		logger:  slog.Default().With("provider", strings.ToLower(name)),
		catalog: make(map[string]ModelInfo, len(builtin)),
	}
	for _, info := range builtin {
		b.AddModel(info)
	}
	for _, id := range cfg.Strings("models") {
		if !b.SupportsModel(id) {
			b.AddModel(ModelInfo{ID: id, Name: id})
		}
	}
	if infos, ok := cfg[OptModelInfo].([]ModelInfo); ok {
		for _, info := range infos {
			b.AddModel(info)
		}
	}
	return b
}

// AddModel inserts or replaces a catalog entry.
func (b *BaseProvider) AddModel(info ModelInfo) {
	if info.ID == "" {
		info.ID = info.Name
	}
	if info.Name == "" {
		info.Name = info.ID
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.catalog[info.ID]; !exists {
		b.order = append(b.order, info.ID)
	}
	b.catalog[info.ID] = info
}

// Name returns the provider name.
func (b *BaseProvider) Name() string {
	return b.name
}

// APIKey returns the provider credential.
func (b *BaseProvider) APIKey() Secret {
	return b.apiKey
}

// Config returns a copy of the provider configuration.
func (b *BaseProvider) Config() Options {
	return b.config.Merge()
}

// Logger returns the provider-scoped logger.
func (b *BaseProvider) Logger() *slog.Logger {
	return b.logger
}

// AvailableModels returns the catalog ids in catalog order.
func (b *BaseProvider) AvailableModels() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.order)
}

// SupportsModel reports whether id is in the catalog.
func (b *BaseProvider) SupportsModel(id string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.catalog[id]
	return ok
}

// ModelInfo returns the catalog entry for id.
func (b *BaseProvider) ModelInfo(id string) (ModelInfo, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	info, ok := b.catalog[id]
	if ok {
		info.Strengths = slices.Clone(info.Strengths)
	}
	return info, ok
}

// FacadeConfig validates modelID and returns the merged configuration
// snapshot for a new facade: model metadata, then provider config, then
// caller overrides.
func (b *BaseProvider) FacadeConfig(modelID string, overrides Options) (Options, error) {
	info, ok := b.ModelInfo(modelID)
	if !ok {
		return nil, ModelNotSupportedError(b.name, modelID, b.AvailableModels())
	}
	base := Options{}
	if info.MaxOutputTokens > 0 {
		base[OptMaxTokens] = info.MaxOutputTokens
	}
	cfg := base.Merge(b.config, overrides)
	delete(cfg, "models")
	delete(cfg, OptModelInfo)
	return cfg, nil
}

// FacadeBase returns the shared facade state for modelID, carrying the
// catalog entry so facades can report their model metadata.
func (b *BaseProvider) FacadeBase(modelID string, cfg Options) BaseFacade {
	f := NewBaseFacade(b.name, modelID, cfg)
	if info, ok := b.ModelInfo(modelID); ok {
		f.info = info
	}
	return f
}

func (b *BaseProvider) String() string {
	return fmt.Sprintf("Provider(%s, models=%d)", b.name, len(b.AvailableModels()))
}

// BaseFacade carries the identity and configuration snapshot of a facade.
type BaseFacade struct {
	model    string
	provider string
	config   Options
	info     ModelInfo
}

// NewBaseFacade builds the shared facade state. Its ModelInfo holds only the
// model id; BaseProvider.FacadeBase attaches the catalog entry.
func NewBaseFacade(provider, model string, cfg Options) BaseFacade {
	return BaseFacade{
		model:    model,
		provider: provider,
		config:   cfg.Merge(),
		info:     ModelInfo{ID: model, Name: model},
	}
}

// Model returns the bound model id.
func (f BaseFacade) Model() string { return f.model }

// Provider returns the bound provider name.
func (f BaseFacade) Provider() string { return f.provider }

// Config returns a copy of the configuration snapshot.
func (f BaseFacade) Config() Options { return f.config.Merge() }

// ModelInfo returns the catalog entry of the bound model.
func (f BaseFacade) ModelInfo() ModelInfo {
	info := f.info
	info.Strengths = slices.Clone(info.Strengths)
	return info
}

// MaxTokens returns the configured max_tokens, falling back to the model's
// MaxOutputTokens. Zero means no limit is known.
func (f BaseFacade) MaxTokens() int {
	if n := f.config.Int(OptMaxTokens, 0); n > 0 {
		return n
	}
	return f.info.MaxOutputTokens
}

// CallOptions merges per-call options over the snapshot.
func (f BaseFacade) CallOptions(opts Options) Options {
	return f.config.Merge(opts)
}

// Fail returns an error Response for this facade.
func (f BaseFacade) Fail(err error) Response {
	return ErrorResponse(f.model, f.provider, err)
}

// OnceStream makes seq single-use. Ranging a second time yields a single
// ErrStreamConsumed pair.
func OnceStream(seq Stream) Stream {
	var used atomic.Bool
	return func(yield func(string, error) bool) {
		if used.Swap(true) {
			yield("", ErrStreamConsumed)
			return
		}
		seq(yield)
	}
}

// ErrorStream returns a stream made of one terminal error pair.
func ErrorStream(err error) Stream {
	return OnceStream(func(yield func(string, error) bool) {
		yield("", err)
	})
}

// CollectStream drains s and returns the concatenated text and the first
// error encountered.
func CollectStream(s Stream) (string, error) {
	var sb strings.Builder
	for chunk, err := range s {
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(chunk)
	}
	return sb.String(), nil
}
