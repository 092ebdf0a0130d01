// Package polyllm provides unified interfaces and abstractions for interacting with Large Language Models.
//
// This package offers a consistent API for working with various LLM providers including:
//   - Google Gemini (cloud-based)
//   - Groq, Together and xAI Grok (OpenAI-compatible cloud APIs)
//   - Ollama (self-hosted)
//   - Mock (offline, deterministic)
//
// The core is split in four layers:
//
//   - Facade: the per-model calling surface (generate/chat, streaming and not).
//   - Provider: owns credentials and a model catalog and builds Facades.
//   - Registry: maps provider names to constructors and caches live Providers.
//   - ClientFactory: resolves (provider, model) defaults, validates the model and
//     wraps the Facade in a Client with a bounded interaction History.
//
// Example usage:
//
//	reg := polyllm.NewRegistry()
//	reg.Register("mock", mock.New)
//
//	factory := polyllm.NewClientFactory(reg)
//	factory.SetDefaults("mock", "mock-model")
//
//	client, err := factory.CreateClient(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	resp := client.Generate(ctx, "Hello, world!")
//	if resp.Failed() {
//		log.Fatal(resp.Error)
//	}
//	fmt.Println(resp.Content)
//
// Most applications go through the system package, which loads configuration
// and registers every bundled provider.
package polyllm

import (
	"context"
	"iter"
)

// Stream is a single-use, pull-based sequence of text fragments.
//
// Ranging over a Stream blocks until the next fragment is available. A failure
// is reported in-band as one terminal pair with an empty fragment and a non-nil
// error; every fragment produced before the failure is delivered first.
type Stream = iter.Seq2[string, error]

// Facade is the interface that every per-model calling surface must implement.
//
// A Facade is bound to exactly one (provider, model) pair and a merged
// configuration snapshot taken at creation time.
//
// Invocation failures (network errors, vendor errors, content filtering) are
// never returned out of band: Generate and Chat return a Response with Error
// set and empty Content, and the streaming variants emit a terminal error pair.
// The context can be used by callers to layer their own deadlines.
//
// Facades are created by Provider.CreateFacade and are safe for concurrent
// use. Vendor implementations embed BaseFacade, which supplies the identity,
// configuration and model metadata methods.
//
// Example:
//
//	f, err := provider.CreateFacade("llama3.2", polyllm.Options{"temperature": 0.2})
//	if err != nil {
//		log.Fatal(err)
//	}
//	resp := f.Chat(ctx, []polyllm.Message{
//		polyllm.SystemMessage("Answer in one sentence."),
//		polyllm.UserMessage("What is a goroutine?"),
//	}, nil)
//	if resp.Failed() {
//		log.Fatal(resp.Error)
//	}
//
//	for fragment, err := range f.GenerateStream(ctx, "Count to five.", nil) {
//		if err != nil {
//			log.Fatal(err)
//		}
//		fmt.Print(fragment)
//	}
type Facade interface {
	// Model returns the model identifier this facade is bound to.
	Model() string

	// Provider returns the lowercase provider name this facade belongs to.
	Provider() string

	// Config returns a copy of the merged configuration snapshot.
	Config() Options

	// ModelInfo returns the catalog metadata of the bound model.
	ModelInfo() ModelInfo

	// MaxTokens returns the effective output token limit, or 0 if unknown.
	MaxTokens() int

	// Generate performs a single-turn completion of prompt.
	Generate(ctx context.Context, prompt string, opts Options) Response

	// GenerateStream performs a single-turn completion and yields text
	// fragments as the vendor produces them.
	GenerateStream(ctx context.Context, prompt string, opts Options) Stream

	// Chat performs a multi-turn completion over the ordered messages.
	Chat(ctx context.Context, messages []Message, opts Options) Response

	// ChatStream performs a multi-turn completion and yields text fragments.
	ChatStream(ctx context.Context, messages []Message, opts Options) Stream
}

// Provider is the interface that all LLM provider implementations must satisfy.
//
// A provider owns the credential for one vendor and a catalog of the models it
// can serve. Implementations usually embed *BaseProvider, which covers
// everything except CreateFacade and ValidateAPIKey.
type Provider interface {
	// Name returns the provider name as it was registered.
	Name() string

	// AvailableModels returns the catalog model identifiers in catalog order.
	AvailableModels() []string

	// SupportsModel reports whether id is in the catalog.
	SupportsModel(id string) bool

	// ModelInfo returns the catalog metadata for id.
	ModelInfo(id string) (ModelInfo, bool)

	// CreateFacade builds a Facade for modelID. It fails with
	// ErrModelNotSupported when the model is absent from the catalog.
	CreateFacade(modelID string, overrides Options) (Facade, error)

	// ValidateAPIKey performs a best-effort live check of the credential.
	// It returns false on any failure and never panics.
	ValidateAPIKey(ctx context.Context) bool
}

// ProviderFactory constructs a Provider. It is what gets registered in a
// Registry under a provider name.
type ProviderFactory func(name string, apiKey Secret, cfg Options) (Provider, error)
