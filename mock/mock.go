// Package mock provides an offline LLM provider that returns deterministic
// responses. It is the fallback target of the client factory and the
// workhorse of tests.
package mock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/xostack/polyllm"
)

const (
	providerName    = "mock"
	defaultTemplate = "Mock response to: {prompt}"
	chatTemplate    = "Mock chat response to: {prompt}"
	promptLimit     = 100

	// Config keys understood by the mock facade.
	OptResponseTemplate = "response_template"
	OptResponseDelay    = "response_delay"
	OptChunkDelay       = "chunk_delay"
	OptFailWith         = "fail_with"
)

var catalog = []polyllm.ModelInfo{
	{
		ID:              "mock-model",
		Name:            "mock-model",
		Description:     "Basic mock model for testing",
		Version:         "1.0",
		ContextWindow:   4096,
		MaxOutputTokens: 4096,
		Strengths:       []string{"testing"},
	},
	{
		ID:              "mock-model-large",
		Name:            "mock-model-large",
		Description:     "Large mock model for testing",
		Version:         "1.0",
		ContextWindow:   8192,
		MaxOutputTokens: 8192,
		Strengths:       []string{"testing", "long context"},
	},
	{
		ID:              "mock-model-fast",
		Name:            "mock-model-fast",
		Description:     "Fast mock model with minimal delay",
		Version:         "1.0",
		ContextWindow:   2048,
		MaxOutputTokens: 2048,
		Strengths:       []string{"testing", "latency"},
	},
}

// Provider is the mock provider.
type Provider struct {
	*polyllm.BaseProvider
}

// New creates a mock provider. It matches polyllm.ProviderFactory.
func New(name string, apiKey polyllm.Secret, cfg polyllm.Options) (polyllm.Provider, error) {
	if name == "" {
		name = providerName
	}
	return &Provider{BaseProvider: polyllm.NewBaseProvider(name, apiKey, cfg, catalog)}, nil
}

// CreateFacade builds a mock facade for modelID.
func (p *Provider) CreateFacade(modelID string, overrides polyllm.Options) (polyllm.Facade, error) {
	cfg, err := p.FacadeConfig(modelID, overrides)
	if err != nil {
		return nil, err
	}
	if !cfg.Has(OptResponseDelay) {
		// a short delay keeps the mock honest about blocking; "fast" skips it
		if strings.Contains(modelID, "fast") {
			cfg[OptResponseDelay] = 0
		} else {
			cfg[OptResponseDelay] = 10 * time.Millisecond
		}
	}
	return &Facade{BaseFacade: p.FacadeBase(modelID, cfg)}, nil
}

// ValidateAPIKey always succeeds.
func (p *Provider) ValidateAPIKey(ctx context.Context) bool {
	return true
}

// Facade is the mock facade. Config keys: response_template ({prompt} is
// replaced by the first 100 characters of the prompt), response_delay,
// chunk_delay and fail_with, which makes every call fail with that message.
type Facade struct {
	polyllm.BaseFacade
}

func (f *Facade) render(template, prompt string) string {
	if r := []rune(prompt); len(r) > promptLimit {
		prompt = string(r[:promptLimit])
	}
	return strings.ReplaceAll(template, "{prompt}", prompt)
}

func (f *Facade) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (f *Facade) failure(opts polyllm.Options) error {
	if msg := opts.String(OptFailWith, ""); msg != "" {
		return errors.New(msg)
	}
	return nil
}

// Generate returns the rendered template.
func (f *Facade) Generate(ctx context.Context, prompt string, opts polyllm.Options) polyllm.Response {
	o := f.CallOptions(opts)
	if err := f.wait(ctx, o.Duration(OptResponseDelay, 0)); err != nil {
		return f.Fail(err)
	}
	if err := f.failure(o); err != nil {
		return f.Fail(err)
	}

	content := f.render(o.String(OptResponseTemplate, defaultTemplate), prompt)
	return polyllm.NewResponse(content, f.Model(), f.Provider(),
		polyllm.WithUsage(polyllm.Usage{
			polyllm.InputTokens:  len(strings.Fields(prompt)),
			polyllm.OutputTokens: len(strings.Fields(content)),
		}),
		polyllm.WithMetadata(map[string]any{
			"mock":        true,
			"temperature": o.Float(polyllm.OptTemperature, 1.0),
		}),
	)
}

// Chat answers the last message.
func (f *Facade) Chat(ctx context.Context, messages []polyllm.Message, opts polyllm.Options) polyllm.Response {
	o := f.CallOptions(opts)
	if err := f.wait(ctx, o.Duration(OptResponseDelay, 0)); err != nil {
		return f.Fail(err)
	}
	if err := f.failure(o); err != nil {
		return f.Fail(err)
	}

	content := f.render(chatTemplate, lastContent(messages))
	input := 0
	for _, m := range messages {
		input += len(strings.Fields(m.Content))
	}
	return polyllm.NewResponse(content, f.Model(), f.Provider(),
		polyllm.WithUsage(polyllm.Usage{
			polyllm.InputTokens:  input,
			polyllm.OutputTokens: len(strings.Fields(content)),
		}),
		polyllm.WithMetadata(map[string]any{
			"mock":           true,
			"messages_count": len(messages),
		}),
	)
}

// GenerateStream yields the rendered template word by word.
func (f *Facade) GenerateStream(ctx context.Context, prompt string, opts polyllm.Options) polyllm.Stream {
	o := f.CallOptions(opts)
	return f.stream(ctx, f.render(o.String(OptResponseTemplate, defaultTemplate), prompt), o)
}

// ChatStream yields the chat answer word by word.
func (f *Facade) ChatStream(ctx context.Context, messages []polyllm.Message, opts polyllm.Options) polyllm.Stream {
	o := f.CallOptions(opts)
	return f.stream(ctx, f.render(chatTemplate, lastContent(messages)), o)
}

// stream yields content word by word. With fail_with set, half of the words
// are delivered before the terminal error.
func (f *Facade) stream(ctx context.Context, content string, o polyllm.Options) polyllm.Stream {
	return polyllm.OnceStream(func(yield func(string, error) bool) {
		if err := f.wait(ctx, o.Duration(OptResponseDelay, 0)); err != nil {
			yield("", err)
			return
		}
		words := strings.Fields(content)
		failErr := f.failure(o)
		if failErr != nil {
			words = words[:len(words)/2]
		}
		for _, w := range words {
			if !yield(w+" ", nil) {
				return
			}
			if err := f.wait(ctx, o.Duration(OptChunkDelay, 0)); err != nil {
				yield("", err)
				return
			}
		}
		if failErr != nil {
			yield("", failErr)
		}
	})
}

func lastContent(messages []polyllm.Message) string {
	if len(messages) == 0 {
		return "No message"
	}
	return messages[len(messages)-1].Content
}
