// Package gemini provides an LLM provider for Google's Gemini models.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/xostack/polyllm"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const (
	providerName = "gemini"
	modelRole    = "model"
	userRole     = "user"
)

// ErrNoAPIKey is returned by every call of a provider built without a key.
var ErrNoAPIKey = errors.New("Gemini API key is required")

// ErrNoChatMessage is returned when a chat has nothing to send: no messages,
// or only system messages.
var ErrNoChatMessage = errors.New("Gemini chat requires a trailing user or assistant message")

var catalog = []polyllm.ModelInfo{
	{
		ID:                   "gemini-1.5-pro",
		Description:          "Gemini 1.5 Pro, long context multimodal model",
		Version:              "1.5",
		ContextWindow:        2097152,
		MaxOutputTokens:      8192,
		Strengths:            []string{"long context", "reasoning", "multimodal"},
		InputCostPerMillion:  1.25,
		OutputCostPerMillion: 5.00,
	},
	{
		ID:                   "gemini-1.5-flash",
		Description:          "Gemini 1.5 Flash, fast and cost efficient",
		Version:              "1.5",
		ContextWindow:        1048576,
		MaxOutputTokens:      8192,
		Strengths:            []string{"speed", "low cost"},
		InputCostPerMillion:  0.075,
		OutputCostPerMillion: 0.30,
	},
	{
		ID:                   "gemini-2.0-flash",
		Description:          "Gemini 2.0 Flash",
		Version:              "2.0",
		ContextWindow:        1048576,
		MaxOutputTokens:      8192,
		Strengths:            []string{"speed", "tool use"},
		InputCostPerMillion:  0.10,
		OutputCostPerMillion: 0.40,
	},
	{
		ID:              "gemma-3-27b-it",
		Description:     "Gemma 3 27B instruct served by the Gemini API",
		Version:         "3",
		ContextWindow:   131072,
		MaxOutputTokens: 8192,
		Strengths:       []string{"open weights", "general"},
	},
}

// Provider is the Gemini provider. The underlying genai client is created
// on first use and shared by every facade of the provider.
type Provider struct {
	*polyllm.BaseProvider
	timeout time.Duration

	mu     sync.Mutex
	client *genai.Client
}

// New creates a Gemini provider. It matches polyllm.ProviderFactory.
//
// Config keys: request_timeout_seconds bounds client initialization, models
// extends the catalog.
func New(name string, apiKey polyllm.Secret, cfg polyllm.Options) (polyllm.Provider, error) {
	if name == "" {
		name = providerName
	}
	p := &Provider{
		BaseProvider: polyllm.NewBaseProvider(name, apiKey, cfg, catalog),
		timeout:      time.Duration(cfg.Int("request_timeout_seconds", 0)) * time.Second,
	}
	if apiKey.IsEmpty() {
		p.Logger().Warn("no API key configured; requests will fail", "env", polyllm.EnvKeyName(name))
	}
	return p, nil
}

// connect returns the shared genai client, creating it if needed.
func (p *Provider) connect(ctx context.Context) (*genai.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	if p.APIKey().IsEmpty() {
		return nil, ErrNoAPIKey
	}

	// Apply timeout to context if specified
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(p.APIKey().Expose()))
	if err != nil {
		p.Logger().Error("error initializing Google GenAI client; make sure your API key is valid and has permissions", "error", err)
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	p.client = client
	return client, nil
}

// Close releases the genai client.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	return err
}

// CreateFacade builds a facade for modelID.
func (p *Provider) CreateFacade(modelID string, overrides polyllm.Options) (polyllm.Facade, error) {
	cfg, err := p.FacadeConfig(modelID, overrides)
	if err != nil {
		return nil, err
	}
	return &Facade{
		BaseFacade: p.FacadeBase(modelID, cfg),
		connect:    p.connect,
	}, nil
}

// ValidateAPIKey fetches the first entry of the model listing.
func (p *Provider) ValidateAPIKey(ctx context.Context) bool {
	client, err := p.connect(ctx)
	if err != nil {
		return false
	}
	if _, err := client.ListModels(ctx).Next(); err != nil && !errors.Is(err, iterator.Done) {
		p.Logger().Error("API key validation failed", "error", err)
		return false
	}
	return true
}

// Facade talks to one Gemini model.
type Facade struct {
	polyllm.BaseFacade
	connect func(context.Context) (*genai.Client, error)
}

// model configures a GenerativeModel from the merged call options.
func (f *Facade) model(ctx context.Context, opts polyllm.Options) (*genai.GenerativeModel, error) {
	if f.connect == nil {
		return nil, fmt.Errorf("Gemini client not initialized")
	}
	client, err := f.connect(ctx)
	if err != nil {
		return nil, err
	}
	model := client.GenerativeModel(f.Model())
	if model == nil {
		return nil, fmt.Errorf("failed to get generative model: %s", f.Model())
	}

	o := f.CallOptions(opts)
	if o.Has(polyllm.OptTemperature) {
		model.SetTemperature(float32(o.Float(polyllm.OptTemperature, 0)))
	}
	if o.Has(polyllm.OptMaxTokens) {
		model.SetMaxOutputTokens(int32(o.Int(polyllm.OptMaxTokens, 0)))
	}
	if o.Has(polyllm.OptTopP) {
		model.SetTopP(float32(o.Float(polyllm.OptTopP, 0)))
	}
	if sys := o.String(polyllm.OptSystemPrompt, ""); sys != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(sys))
	}
	return model, nil
}

// Generate sends the prompt to the model.
func (f *Facade) Generate(ctx context.Context, prompt string, opts polyllm.Options) polyllm.Response {
	model, err := f.model(ctx, opts)
	if err != nil {
		return f.Fail(err)
	}
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return f.Fail(fmt.Errorf("failed to generate content from Gemini: %w", err))
	}
	return f.respond(resp)
}

// Chat replays all but the last message as chat history and sends the last.
func (f *Facade) Chat(ctx context.Context, messages []polyllm.Message, opts polyllm.Options) polyllm.Response {
	model, err := f.model(ctx, opts)
	if err != nil {
		return f.Fail(err)
	}
	session, last, err := startChat(model, messages)
	if err != nil {
		return f.Fail(err)
	}
	resp, err := session.SendMessage(ctx, genai.Text(last))
	if err != nil {
		return f.Fail(fmt.Errorf("failed to send chat message to Gemini: %w", err))
	}
	return f.respond(resp)
}

// GenerateStream streams the reply to the prompt.
func (f *Facade) GenerateStream(ctx context.Context, prompt string, opts polyllm.Options) polyllm.Stream {
	return polyllm.OnceStream(func(yield func(string, error) bool) {
		model, err := f.model(ctx, opts)
		if err != nil {
			yield("", err)
			return
		}
		drain(model.GenerateContentStream(ctx, genai.Text(prompt)), yield)
	})
}

// ChatStream streams the reply to the last message.
func (f *Facade) ChatStream(ctx context.Context, messages []polyllm.Message, opts polyllm.Options) polyllm.Stream {
	return polyllm.OnceStream(func(yield func(string, error) bool) {
		model, err := f.model(ctx, opts)
		if err != nil {
			yield("", err)
			return
		}
		session, last, err := startChat(model, messages)
		if err != nil {
			yield("", err)
			return
		}
		drain(session.SendMessageStream(ctx, genai.Text(last)), yield)
	})
}

func (f *Facade) respond(resp *genai.GenerateContentResponse) polyllm.Response {
	text, err := extractText(resp)
	if err != nil {
		return f.Fail(err)
	}
	var opts []polyllm.ResponseOption
	if um := resp.UsageMetadata; um != nil {
		opts = append(opts, polyllm.WithUsage(polyllm.Usage{
			polyllm.InputTokens:  int(um.PromptTokenCount),
			polyllm.OutputTokens: int(um.CandidatesTokenCount),
			polyllm.TotalTokens:  int(um.TotalTokenCount),
		}))
	}
	opts = append(opts, polyllm.WithMetadata(map[string]any{
		"finish_reason": resp.Candidates[0].FinishReason.String(),
	}))
	return polyllm.NewResponse(text, f.Model(), f.Provider(), opts...)
}

// startChat converts messages to a chat session. System messages become the
// system instruction; the last message is returned for sending.
func startChat(model *genai.GenerativeModel, messages []polyllm.Message) (*genai.ChatSession, string, error) {
	if len(messages) == 0 || messages[len(messages)-1].Role == polyllm.RoleSystem {
		return nil, "", ErrNoChatMessage
	}
	session := model.StartChat()
	var system []string
	var history []*genai.Content
	last := ""
	for i, m := range messages {
		if i == len(messages)-1 {
			last = m.Content
			break
		}
		switch m.Role {
		case polyllm.RoleSystem:
			system = append(system, m.Content)
		case polyllm.RoleAssistant:
			history = append(history, &genai.Content{Role: modelRole, Parts: []genai.Part{genai.Text(m.Content)}})
		default:
			history = append(history, &genai.Content{Role: userRole, Parts: []genai.Part{genai.Text(m.Content)}})
		}
	}
	if len(system) > 0 && model.SystemInstruction == nil {
		model.SystemInstruction = genai.NewUserContent(genai.Text(strings.Join(system, "\n")))
	}
	session.History = history
	return session, last, nil
}

// drain forwards the text of each streamed response until iterator.Done.
func drain(iter *genai.GenerateContentResponseIterator, yield func(string, error) bool) {
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return
		}
		if err != nil {
			yield("", fmt.Errorf("failed to stream content from Gemini: %w", err))
			return
		}
		text, err := streamChunk(resp)
		if text != "" && !yield(text, nil) {
			return
		}
		if err != nil {
			yield("", err)
			return
		}
	}
}

// streamChunk returns the text of one streamed response. A chunk that ends
// the stream on a safety block yields its text, if any, plus the error.
func streamChunk(resp *genai.GenerateContentResponse) (string, error) {
	return textParts(resp), blockedError(resp)
}

// blockedError reports a blocked prompt or a candidate stopped by safety
// settings.
func blockedError(resp *genai.GenerateContentResponse) error {
	if resp == nil {
		return nil
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return fmt.Errorf("Gemini content generation blocked due to safety settings")
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
		return fmt.Errorf("Gemini prompt blocked: %s", resp.PromptFeedback.BlockReason.String())
	}
	return nil
}

// extractText returns the text of the first candidate. Blocked or empty
// responses are errors.
func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		if err := blockedError(resp); err != nil {
			return "", err
		}
		return "", fmt.Errorf("Gemini response was empty or malformed")
	}

	resultText := textParts(resp)
	if resultText == "" {
		// Only non-text parts, or a genuinely empty reply.
		return "", fmt.Errorf("Gemini response contained no usable text content")
	}
	return resultText, nil
}

// textParts concatenates the text parts of the first candidate. Other part
// kinds (function calls, blobs) are ignored.
func textParts(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String()
}
