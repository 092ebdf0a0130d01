// Package ollama provides an LLM provider for models served by Ollama.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xostack/polyllm"
)

const (
	providerName    = "ollama"
	defaultBaseURL  = "http://localhost:11434"
	generateAPIPath = "/api/generate"
	chatAPIPath     = "/api/chat"
	tagsAPIPath     = "/api/tags"
)

var catalog = []polyllm.ModelInfo{
	{ID: "llama3.2", Name: "Llama 3.2", Description: "Meta Llama 3.2 3B", ContextWindow: 131072, Strengths: []string{"general", "local"}},
	{ID: "gemma:2b", Name: "Gemma 2B", Description: "Google Gemma 2B", ContextWindow: 8192, Strengths: []string{"small", "local"}},
	{ID: "mistral", Name: "Mistral 7B", Description: "Mistral 7B instruct", ContextWindow: 32768, Strengths: []string{"general", "local"}},
	{ID: "codellama", Name: "Code Llama", Description: "Code Llama 7B", ContextWindow: 16384, Strengths: []string{"code", "local"}},
}

// Provider is the Ollama provider.
type Provider struct {
	*polyllm.BaseProvider
	httpClient   *http.Client
	streamClient *http.Client
	baseURL      string // e.g., "http://localhost:11434"
}

// ollamaMessage is one chat message on the wire.
type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ollamaRequest is the request body for /api/generate and /api/chat.
type ollamaRequest struct {
	Model    string          `json:"model"`
	Prompt   string          `json:"prompt,omitempty"`
	System   string          `json:"system,omitempty"`
	Messages []ollamaMessage `json:"messages,omitempty"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

// ollamaResponse covers both endpoints: /api/generate fills Response,
// /api/chat fills Message. Streaming sends one object per line.
type ollamaResponse struct {
	Model           string         `json:"model"`
	CreatedAt       time.Time      `json:"created_at"`
	Response        string         `json:"response"`
	Message         *ollamaMessage `json:"message,omitempty"`
	Done            bool           `json:"done"`
	DoneReason      string         `json:"done_reason,omitempty"`
	PromptEvalCount int            `json:"prompt_eval_count,omitempty"`
	EvalCount       int            `json:"eval_count,omitempty"`
	Error           string         `json:"error,omitempty"` // Ollama might return an error field
}

func (r ollamaResponse) text() string {
	if r.Message != nil {
		return r.Message.Content
	}
	return r.Response
}

// New creates an Ollama provider. It matches polyllm.ProviderFactory.
//
// Config keys: base_url (default http://localhost:11434),
// request_timeout_seconds (default 60) and models.
func New(name string, apiKey polyllm.Secret, cfg polyllm.Options) (polyllm.Provider, error) {
	if name == "" {
		name = providerName
	}
	baseURL := cfg.String("base_url", defaultBaseURL)
	// Validate and clean baseURL
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama base URL '%s': %w", baseURL, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("Ollama base URL scheme must be http or https, got '%s'", parsedURL.Scheme)
	}

	timeout := time.Duration(cfg.Int("request_timeout_seconds", 0)) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	p := &Provider{
		BaseProvider: polyllm.NewBaseProvider(name, apiKey, cfg, catalog),
		httpClient:   &http.Client{Timeout: timeout},
		streamClient: newStreamClient(timeout),
		baseURL:      strings.TrimSuffix(parsedURL.String(), "/"),
	}
	p.Logger().Debug("configured Ollama provider", "base_url", p.baseURL, "timeout", timeout)
	return p, nil
}

// newStreamClient bounds only the wait for response headers. A stream body
// may take as long as the caller's context allows.
func newStreamClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout
	return &http.Client{Transport: transport}
}

// CreateFacade builds a facade for modelID.
func (p *Provider) CreateFacade(modelID string, overrides polyllm.Options) (polyllm.Facade, error) {
	cfg, err := p.FacadeConfig(modelID, overrides)
	if err != nil {
		return nil, err
	}
	return &Facade{
		BaseFacade:   p.FacadeBase(modelID, cfg),
		httpClient:   p.httpClient,
		streamClient: p.streamClient,
		baseURL:      p.baseURL,
	}, nil
}

// ValidateAPIKey checks that the server answers /api/tags. Ollama has no
// credential, so reachability is all there is to validate.
func (p *Provider) ValidateAPIKey(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+tagsAPIPath, nil)
	if err != nil {
		return false
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.Logger().Debug("Ollama validation failed", "error", err)
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Facade talks to one Ollama model.
type Facade struct {
	polyllm.BaseFacade
	httpClient   *http.Client
	streamClient *http.Client
	baseURL      string
}

func (f *Facade) buildOptions(o polyllm.Options) map[string]any {
	opts := map[string]any{}
	if o.Has(polyllm.OptTemperature) {
		opts["temperature"] = o.Float(polyllm.OptTemperature, 0)
	}
	if o.Has(polyllm.OptTopP) {
		opts["top_p"] = o.Float(polyllm.OptTopP, 0)
	}
	if o.Has(polyllm.OptMaxTokens) {
		opts["num_predict"] = o.Int(polyllm.OptMaxTokens, 0)
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}

func (f *Facade) generateRequest(prompt string, opts polyllm.Options, stream bool) ollamaRequest {
	o := f.CallOptions(opts)
	return ollamaRequest{
		Model:   f.Model(),
		Prompt:  prompt,
		System:  o.String(polyllm.OptSystemPrompt, ""),
		Stream:  stream,
		Options: f.buildOptions(o),
	}
}

func (f *Facade) chatRequest(messages []polyllm.Message, opts polyllm.Options, stream bool) ollamaRequest {
	o := f.CallOptions(opts)
	wire := make([]ollamaMessage, 0, len(messages)+1)
	if sys := o.String(polyllm.OptSystemPrompt, ""); sys != "" {
		wire = append(wire, ollamaMessage{Role: string(polyllm.RoleSystem), Content: sys})
	}
	for _, m := range messages {
		wire = append(wire, ollamaMessage{Role: string(m.Role), Content: m.Content})
	}
	return ollamaRequest{
		Model:    f.Model(),
		Messages: wire,
		Stream:   stream,
		Options:  f.buildOptions(o),
	}
}

// Generate sends the prompt to /api/generate.
func (f *Facade) Generate(ctx context.Context, prompt string, opts polyllm.Options) polyllm.Response {
	return f.complete(ctx, generateAPIPath, f.generateRequest(prompt, opts, false))
}

// Chat sends the messages to /api/chat.
func (f *Facade) Chat(ctx context.Context, messages []polyllm.Message, opts polyllm.Options) polyllm.Response {
	return f.complete(ctx, chatAPIPath, f.chatRequest(messages, opts, false))
}

// GenerateStream streams /api/generate.
func (f *Facade) GenerateStream(ctx context.Context, prompt string, opts polyllm.Options) polyllm.Stream {
	return f.stream(ctx, generateAPIPath, f.generateRequest(prompt, opts, true))
}

// ChatStream streams /api/chat.
func (f *Facade) ChatStream(ctx context.Context, messages []polyllm.Message, opts polyllm.Options) polyllm.Stream {
	return f.stream(ctx, chatAPIPath, f.chatRequest(messages, opts, true))
}

func (f *Facade) send(ctx context.Context, client *http.Client, path string, payload ollamaRequest) (*http.Response, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal Ollama request payload: %w", err)
	}

	requestURL := f.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewBuffer(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create Ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		// Check if the error is due to context cancellation (e.g., timeout)
		if ctx.Err() == context.Canceled {
			return nil, fmt.Errorf("Ollama request canceled: %w", ctx.Err())
		}
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("Ollama request timed out: %w", ctx.Err())
		}
		return nil, fmt.Errorf("failed to send request to Ollama server at %s: %w", requestURL, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		responseBody, _ := io.ReadAll(resp.Body)
		var errResp ollamaResponse
		if json.Unmarshal(responseBody, &errResp) == nil && errResp.Error != "" {
			return nil, fmt.Errorf("Ollama API error (status %d): %s", resp.StatusCode, errResp.Error)
		}
		return nil, fmt.Errorf("Ollama API request failed with status %s. Raw: %s", resp.Status, string(responseBody))
	}
	return resp, nil
}

func (f *Facade) complete(ctx context.Context, path string, payload ollamaRequest) polyllm.Response {
	resp, err := f.send(ctx, f.httpClient, path, payload)
	if err != nil {
		return f.Fail(err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return f.Fail(fmt.Errorf("failed to read Ollama response body: %w", err))
	}

	var ollamaResp ollamaResponse
	if err := json.Unmarshal(responseBody, &ollamaResp); err != nil {
		return f.Fail(fmt.Errorf("failed to unmarshal Ollama response JSON: %w. Raw response: %s", err, string(responseBody)))
	}
	if ollamaResp.Error != "" {
		return f.Fail(fmt.Errorf("Ollama returned an error in response: %s", ollamaResp.Error))
	}
	text := ollamaResp.text()
	if !ollamaResp.Done && text == "" {
		return f.Fail(fmt.Errorf("Ollama response indicates not done but no text was returned"))
	}

	return polyllm.NewResponse(strings.TrimSpace(text), f.Model(), f.Provider(),
		polyllm.WithUsage(polyllm.Usage{
			polyllm.InputTokens:  ollamaResp.PromptEvalCount,
			polyllm.OutputTokens: ollamaResp.EvalCount,
			polyllm.TotalTokens:  ollamaResp.PromptEvalCount + ollamaResp.EvalCount,
		}),
		polyllm.WithMetadata(map[string]any{"done_reason": ollamaResp.DoneReason}),
	)
}

// stream reads newline-delimited JSON objects until one reports done.
func (f *Facade) stream(ctx context.Context, path string, payload ollamaRequest) polyllm.Stream {
	return polyllm.OnceStream(func(yield func(string, error) bool) {
		resp, err := f.send(ctx, f.streamClient, path, payload)
		if err != nil {
			yield("", err)
			return
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var chunk ollamaResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				yield("", fmt.Errorf("failed to decode Ollama stream chunk: %w", err))
				return
			}
			if chunk.Error != "" {
				yield("", fmt.Errorf("Ollama returned an error in stream: %s", chunk.Error))
				return
			}
			if text := chunk.text(); text != "" {
				if !yield(text, nil) {
					return
				}
			}
			if chunk.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield("", fmt.Errorf("failed to read Ollama stream: %w", err))
		}
	})
}
