// Package openaicompat implements a provider and facade for vendors that
// expose the OpenAI chat completions API (Groq, Together AI, xAI Grok).
package openaicompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xostack/polyllm"
)

const (
	completionsPath = "/chat/completions"
	modelsPath      = "/models"
	maxRetries      = 1 // Simple retry for transient network issues
	defaultTimeout  = 60 * time.Second
	sseDone         = "[DONE]"
)

// Settings describes one vendor.
type Settings struct {
	// Name is the provider name used when the registry passes none.
	Name string
	// Label is the vendor name used in error messages, e.g. "groq".
	Label string
	// BaseURL is the API root, e.g. https://api.groq.com/openai/v1.
	BaseURL string
	// Catalog is the built-in model catalog.
	Catalog []polyllm.ModelInfo
}

// RetryDelay is the pause before the retry of a failed request.
var RetryDelay = 1 * time.Second

// Provider is an OpenAI-compatible provider.
type Provider struct {
	*polyllm.BaseProvider
	label        string
	httpClient   *http.Client
	streamClient *http.Client
	baseURL      string
}

// New builds a provider for the vendor described by s.
//
// Config keys: base_url overrides s.BaseURL, request_timeout_seconds sets
// the HTTP timeout (default 60) and models extends the catalog.
func New(s Settings, name string, apiKey polyllm.Secret, cfg polyllm.Options) (*Provider, error) {
	if name == "" {
		name = s.Name
	}
	label := s.Label
	if label == "" {
		label = strings.ToLower(name)
	}

	baseURL := cfg.String("base_url", s.BaseURL)
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid %s base URL '%s': %w", label, baseURL, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("%s base URL scheme must be http or https, got '%s'", label, parsedURL.Scheme)
	}

	timeout := time.Duration(cfg.Int("request_timeout_seconds", 0)) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	p := &Provider{
		BaseProvider: polyllm.NewBaseProvider(name, apiKey, cfg, s.Catalog),
		label:        label,
		httpClient:   &http.Client{Timeout: timeout},
		streamClient: newStreamClient(timeout),
		baseURL:      strings.TrimSuffix(parsedURL.String(), "/"),
	}
	if apiKey.IsEmpty() {
		p.Logger().Warn("no API key configured; requests will fail", "env", polyllm.EnvKeyName(name))
	}
	p.Logger().Debug("configured provider", "base_url", p.baseURL, "timeout", timeout)
	return p, nil
}

// newStreamClient bounds only the wait for response headers. A stream body
// may take as long as the caller's context allows.
func newStreamClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout
	return &http.Client{Transport: transport}
}

// BaseURL returns the API root requests are sent to.
func (p *Provider) BaseURL() string {
	return p.baseURL
}

// CreateFacade builds a facade for modelID.
func (p *Provider) CreateFacade(modelID string, overrides polyllm.Options) (polyllm.Facade, error) {
	cfg, err := p.FacadeConfig(modelID, overrides)
	if err != nil {
		return nil, err
	}
	return &Facade{
		BaseFacade:   p.FacadeBase(modelID, cfg),
		label:        p.label,
		apiKey:       p.APIKey(),
		httpClient:   p.httpClient,
		streamClient: p.streamClient,
		baseURL:      p.baseURL,
		logger:       p.Logger().With("model", modelID),
	}, nil
}

// ValidateAPIKey lists models with the configured key and reports whether
// the vendor accepted it.
func (p *Provider) ValidateAPIKey(ctx context.Context) bool {
	if p.APIKey().IsEmpty() {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+modelsPath, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+p.APIKey().Expose())
	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.Logger().Error("API key validation failed", "error", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// chatMessage represents a single message in the chat completion request.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatCompletionRequest is the structure for the request body.
type chatCompletionRequest struct {
	Messages    []chatMessage `json:"messages"`
	Model       string        `json:"model"`
	Temperature *float64      `json:"temperature,omitempty"` // Pointer to allow omitting if zero value is desired
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	Stream      bool          `json:"stream"`
}

// chatCompletionChoice is a single choice in the response. Delta is filled
// by streaming chunks instead of Message.
type chatCompletionChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	Delta        chatMessage `json:"delta"`
	FinishReason string      `json:"finish_reason"`
}

// usage tracks token usage.
type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// apiError is the error object OpenAI-compatible APIs return.
type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    any    `json:"code,omitempty"`
}

// chatCompletionResponse is the response body, or one streamed chunk.
type chatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []chatCompletionChoice `json:"choices"`
	Usage   *usage                 `json:"usage,omitempty"`
	Error   *apiError              `json:"error,omitempty"`
}

// Facade talks to one model of an OpenAI-compatible vendor.
type Facade struct {
	polyllm.BaseFacade
	label        string
	apiKey       polyllm.Secret
	httpClient   *http.Client
	streamClient *http.Client
	baseURL      string
	logger       *slog.Logger
}

// Generate sends the prompt as a single user message.
func (f *Facade) Generate(ctx context.Context, prompt string, opts polyllm.Options) polyllm.Response {
	return f.Chat(ctx, []polyllm.Message{polyllm.UserMessage(prompt)}, opts)
}

// GenerateStream streams the reply to a single user message.
func (f *Facade) GenerateStream(ctx context.Context, prompt string, opts polyllm.Options) polyllm.Stream {
	return f.ChatStream(ctx, []polyllm.Message{polyllm.UserMessage(prompt)}, opts)
}

// Chat sends the conversation and returns the first choice.
func (f *Facade) Chat(ctx context.Context, messages []polyllm.Message, opts polyllm.Options) polyllm.Response {
	resp, err := f.send(ctx, f.request(messages, opts, false))
	if err != nil {
		return f.Fail(err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return f.Fail(fmt.Errorf("failed to read %s response body: %w", f.label, err))
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(responseBody, &completion); err != nil {
		return f.Fail(fmt.Errorf("failed to unmarshal %s response JSON: %w. Status: %s, Body: %s", f.label, err, resp.Status, string(responseBody)))
	}
	if completion.Error != nil {
		return f.Fail(fmt.Errorf("%s API error: %s (Type: %s). HTTP Status: %s", f.label, completion.Error.Message, completion.Error.Type, resp.Status))
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		f.logger.Debug("empty completion", "id", completion.ID, "model", completion.Model)
		return f.Fail(fmt.Errorf("%s response contained no choices or empty message content. HTTP Status: %s", f.label, resp.Status))
	}

	var opt []polyllm.ResponseOption
	if completion.Usage != nil {
		opt = append(opt, polyllm.WithUsage(polyllm.Usage{
			polyllm.InputTokens:  completion.Usage.PromptTokens,
			polyllm.OutputTokens: completion.Usage.CompletionTokens,
			polyllm.TotalTokens:  completion.Usage.TotalTokens,
		}))
	}
	opt = append(opt, polyllm.WithMetadata(map[string]any{
		"id":            completion.ID,
		"finish_reason": completion.Choices[0].FinishReason,
	}))
	return polyllm.NewResponse(strings.TrimSpace(completion.Choices[0].Message.Content), f.Model(), f.Provider(), opt...)
}

// ChatStream streams the reply as server-sent events until [DONE].
func (f *Facade) ChatStream(ctx context.Context, messages []polyllm.Message, opts polyllm.Options) polyllm.Stream {
	payload := f.request(messages, opts, true)
	return polyllm.OnceStream(func(yield func(string, error) bool) {
		resp, err := f.send(ctx, payload)
		if err != nil {
			yield("", err)
			return
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			data, ok := strings.CutPrefix(line, "data:")
			if !ok {
				continue
			}
			data = strings.TrimSpace(data)
			if data == sseDone {
				return
			}
			var chunk chatCompletionResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				yield("", fmt.Errorf("failed to decode %s stream chunk: %w", f.label, err))
				return
			}
			if chunk.Error != nil {
				yield("", fmt.Errorf("%s API error: %s", f.label, chunk.Error.Message))
				return
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			if !yield(chunk.Choices[0].Delta.Content, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield("", fmt.Errorf("failed to read %s stream: %w", f.label, err))
		}
	})
}

func (f *Facade) request(messages []polyllm.Message, opts polyllm.Options, stream bool) chatCompletionRequest {
	o := f.CallOptions(opts)
	wire := make([]chatMessage, 0, len(messages)+1)
	if sys := o.String(polyllm.OptSystemPrompt, ""); sys != "" {
		wire = append(wire, chatMessage{Role: string(polyllm.RoleSystem), Content: sys})
	}
	for _, m := range messages {
		wire = append(wire, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	req := chatCompletionRequest{
		Messages: wire,
		Model:    f.Model(),
		Stream:   stream,
	}
	if o.Has(polyllm.OptTemperature) {
		t := o.Float(polyllm.OptTemperature, 0)
		req.Temperature = &t
	}
	if o.Has(polyllm.OptMaxTokens) {
		n := o.Int(polyllm.OptMaxTokens, 0)
		req.MaxTokens = &n
	}
	if o.Has(polyllm.OptTopP) {
		p := o.Float(polyllm.OptTopP, 0)
		req.TopP = &p
	}
	return req
}

// send posts payload, retrying once on transport failure. Non-200 statuses
// are turned into errors, preferring the vendor's JSON error message.
func (f *Facade) send(ctx context.Context, payload chatCompletionRequest) (*http.Response, error) {
	client := f.httpClient
	if payload.Stream {
		client = f.streamClient
	}
	if client == nil {
		return nil, fmt.Errorf("%s client not initialized", f.label)
	}
	if f.apiKey.IsEmpty() {
		return nil, fmt.Errorf("%s API key is required", f.label)
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request payload: %w", f.label, err)
	}

	var resp *http.Response
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+completionsPath, bytes.NewReader(payloadBytes))
		if reqErr != nil {
			return nil, fmt.Errorf("failed to create %s request: %w", f.label, reqErr)
		}
		req.Header.Set("Authorization", "Bearer "+f.apiKey.Expose())
		req.Header.Set("Content-Type", "application/json")
		if payload.Stream {
			req.Header.Set("Accept", "text/event-stream")
		} else {
			req.Header.Set("Accept", "application/json")
		}

		resp, err = client.Do(req)
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = fmt.Errorf("failed to send request to %s API: %w", f.label, err)
		if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, lastErr // Don't retry on context errors
		}
		if i < maxRetries {
			f.logger.Warn("request failed, retrying", "attempt", i+1, "error", err, "delay", RetryDelay)
			select {
			case <-ctx.Done():
				return nil, lastErr
			case <-time.After(RetryDelay):
			}
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		responseBody, _ := io.ReadAll(resp.Body)
		var errResp chatCompletionResponse
		if json.Unmarshal(responseBody, &errResp) == nil && errResp.Error != nil {
			return nil, fmt.Errorf("%s API error: %s (Type: %s). HTTP Status: %s", f.label, errResp.Error.Message, errResp.Error.Type, resp.Status)
		}
		return nil, fmt.Errorf("%s API request failed with status %s. Body: %s", f.label, resp.Status, string(responseBody))
	}
	return resp, nil
}
