package polyllm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Client pairs one Facade with one bounded History and a set of default call
// parameters.
//
// The History is owned by the Client. Concurrent calls that both read and
// record history (for example two Generate calls with UseHistory) are not
// ordered relative to each other; serialize them if order matters.
type Client struct {
	facade  Facade
	history *History
	logger  *slog.Logger

	mu       sync.RWMutex
	defaults Options
}

// NewClient wraps facade with a History of historySize entries.
func NewClient(facade Facade, historySize int) *Client {
	return &Client{
		facade:   facade,
		history:  NewHistory(historySize),
		logger:   slog.Default().With("provider", facade.Provider(), "model", facade.Model()),
		defaults: Options{},
	}
}

// WithLogger replaces the client logger and returns the client.
func (c *Client) WithLogger(l *slog.Logger) *Client {
	if l != nil {
		c.logger = l.With("provider", c.facade.Provider(), "model", c.facade.Model())
	}
	return c
}

type callConfig struct {
	useHistory bool
	save       bool
	params     Options
}

// CallOption customizes a single Client call.
type CallOption func(*callConfig)

// UseHistory sends the recorded history as chat context before the prompt.
func UseHistory() CallOption {
	return func(c *callConfig) { c.useHistory = true }
}

// SkipHistory prevents the call from being recorded.
func SkipHistory() CallOption {
	return func(c *callConfig) { c.save = false }
}

// WithParams overlays params on the client defaults for this call.
func WithParams(params Options) CallOption {
	return func(c *callConfig) {
		c.params = c.params.Merge(params)
	}
}

// WithParam sets a single call parameter.
func WithParam(key string, value any) CallOption {
	return WithParams(Options{key: value})
}

// WithTemperature sets the sampling temperature for this call.
func WithTemperature(t float64) CallOption {
	return WithParam(OptTemperature, t)
}

// WithMaxTokens caps the generated tokens for this call.
func WithMaxTokens(n int) CallOption {
	return WithParam(OptMaxTokens, n)
}

func (c *Client) resolve(opts []CallOption) callConfig {
	cfg := callConfig{save: true, params: Options{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	c.mu.RLock()
	cfg.params = c.defaults.Merge(cfg.params)
	c.mu.RUnlock()
	return cfg
}

// Generate sends prompt to the model.
//
// With UseHistory and a non-empty History the call is issued as a chat whose
// messages are the history followed by prompt as a user message. Successful
// responses are recorded unless SkipHistory is given. A panic escaping the
// facade is turned into an error Response and nothing is recorded.
func (c *Client) Generate(ctx context.Context, prompt string, opts ...CallOption) (resp Response) {
	cfg := c.resolve(opts)
	defer c.recoverInto(&resp, "generate")

	if cfg.useHistory && !c.history.IsEmpty() {
		msgs := append(c.history.Messages(), UserMessage(prompt))
		resp = c.facade.Chat(ctx, msgs, cfg.params)
	} else {
		resp = c.facade.Generate(ctx, prompt, cfg.params)
	}

	if resp.Failed() {
		c.logger.Warn("generation failed", "error", resp.Error)
		return resp
	}
	if cfg.save {
		c.history.Add(prompt, resp)
	}
	return resp
}

// GenerateStream streams the answer to prompt, choosing the source the same
// way as Generate.
//
// Fragments are forwarded as produced. When the stream is exhausted the
// concatenated text is recorded unless SkipHistory is given; this happens even
// if a fragment carried an error. Stopping early skips the recording.
func (c *Client) GenerateStream(ctx context.Context, prompt string, opts ...CallOption) Stream {
	cfg := c.resolve(opts)
	return OnceStream(func(yield func(string, error) bool) {
		var src Stream
		if cfg.useHistory && !c.history.IsEmpty() {
			msgs := append(c.history.Messages(), UserMessage(prompt))
			src = c.facade.ChatStream(ctx, msgs, cfg.params)
		} else {
			src = c.facade.GenerateStream(ctx, prompt, cfg.params)
		}
		c.forward(src, prompt, cfg.save, yield)
	})
}

// Chat sends messages to the model as-is. On success the most recent user
// message is recorded together with the response.
func (c *Client) Chat(ctx context.Context, messages []Message, opts ...CallOption) (resp Response) {
	cfg := c.resolve(opts)
	defer c.recoverInto(&resp, "chat")

	resp = c.facade.Chat(ctx, messages, cfg.params)
	if resp.Failed() {
		c.logger.Warn("chat failed", "error", resp.Error)
		return resp
	}
	if cfg.save {
		if prompt := lastUserContent(messages); prompt != "" {
			c.history.Add(prompt, resp)
		}
	}
	return resp
}

// ChatStream streams the answer to messages. On exhaustion the last user
// message and the concatenated text are recorded.
func (c *Client) ChatStream(ctx context.Context, messages []Message, opts ...CallOption) Stream {
	cfg := c.resolve(opts)
	prompt := lastUserContent(messages)
	return OnceStream(func(yield func(string, error) bool) {
		src := c.facade.ChatStream(ctx, messages, cfg.params)
		c.forward(src, prompt, cfg.save && prompt != "", yield)
	})
}

// MultiShotGenerate sends the last nShots interactions as context followed by
// prompt, through Chat. nShots <= 0 sends the prompt alone.
func (c *Client) MultiShotGenerate(ctx context.Context, prompt string, nShots int, opts ...CallOption) Response {
	msgs := append(c.history.LastMessages(nShots), UserMessage(prompt))
	return c.Chat(ctx, msgs, opts...)
}

// forward relays src to yield and records the concatenation on exhaustion.
func (c *Client) forward(src Stream, prompt string, save bool, yield func(string, error) bool) {
	var sb strings.Builder
	stopped, inYield := false, false
	func() {
		defer func() {
			if r := recover(); r != nil {
				if inYield {
					// the caller's loop body panicked; not ours to handle
					panic(r)
				}
				c.logger.Error("stream panicked", "panic", r)
				stopped = true
				yield("", fmt.Errorf("stream: %v", r))
			}
		}()
		for chunk, err := range src {
			if err != nil {
				c.logger.Warn("stream reported an error", "error", err)
			}
			sb.WriteString(chunk)
			inYield = true
			ok := yield(chunk, err)
			inYield = false
			if !ok {
				stopped = true
				return
			}
		}
	}()
	if stopped || !save {
		return
	}
	c.history.Add(prompt, NewResponse(sb.String(), c.facade.Model(), c.facade.Provider()))
}

func (c *Client) recoverInto(resp *Response, op string) {
	if r := recover(); r != nil {
		c.logger.Error("facade panicked", "op", op, "panic", r)
		*resp = ErrorResponse(c.facade.Model(), c.facade.Provider(), fmt.Errorf("%s: %v", op, r))
	}
}

func lastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// SetDefaultParams merges params into the defaults applied to every call.
func (c *Client) SetDefaultParams(params Options) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaults = c.defaults.Merge(params)
}

// DefaultParams returns a copy of the default call parameters.
func (c *Client) DefaultParams() Options {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaults.Merge()
}

// History returns the client's interaction history.
func (c *Client) History() *History {
	return c.history
}

// ClearHistory removes all recorded interactions.
func (c *Client) ClearHistory() {
	c.history.Clear()
}

// Facade returns the underlying facade.
func (c *Client) Facade() Facade {
	return c.facade
}

// Model returns the model id of the underlying facade.
func (c *Client) Model() string {
	return c.facade.Model()
}

// Provider returns the provider name of the underlying facade.
func (c *Client) Provider() string {
	return c.facade.Provider()
}

// ModelInfo describes the underlying facade.
func (c *Client) ModelInfo() map[string]any {
	return map[string]any{
		"model_name": c.facade.Model(),
		"provider":   c.facade.Provider(),
		"config":     c.facade.Config(),
		"info":       c.facade.ModelInfo(),
		"max_tokens": c.facade.MaxTokens(),
	}
}

func (c *Client) String() string {
	return fmt.Sprintf("Client(provider=%s, model=%s, history=%d)", c.facade.Provider(), c.facade.Model(), c.history.Size())
}
