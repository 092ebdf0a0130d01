package polyllm

import (
	"errors"
	"fmt"
	"maps"
	"strconv"
	"time"
)

// Role represents a message participant role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single role-tagged entry of a chat conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserMessage returns a message with RoleUser.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage returns a message with RoleAssistant.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// SystemMessage returns a message with RoleSystem.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// Usage counts tokens by kind.
type Usage map[string]int

// Well-known Usage keys.
const (
	InputTokens  = "input_tokens"
	OutputTokens = "output_tokens"
	TotalTokens  = "total_tokens"
)

// Response is the standardized result of one model invocation.
//
// Construct it with NewResponse or ErrorResponse; a Response is treated as
// immutable afterwards and is always passed by value.
type Response struct {
	Content   string         `json:"content"`
	Model     string         `json:"model"`
	Provider  string         `json:"provider"`
	Usage     Usage          `json:"usage,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Error     string         `json:"error,omitempty"`
}

// ResponseOption customizes a Response at construction.
type ResponseOption func(*Response)

// WithUsage attaches token usage. The map is copied.
func WithUsage(u Usage) ResponseOption {
	return func(r *Response) {
		if u != nil {
			r.Usage = maps.Clone(u)
		}
	}
}

// WithMetadata attaches opaque metadata. The map is copied.
func WithMetadata(md map[string]any) ResponseOption {
	return func(r *Response) {
		if md != nil {
			r.Metadata = maps.Clone(md)
		}
	}
}

// WithTimestamp overrides the creation time.
func WithTimestamp(ts time.Time) ResponseOption {
	return func(r *Response) {
		r.Timestamp = ts
	}
}

// NewResponse builds a successful Response. Timestamp defaults to now.
func NewResponse(content, model, provider string, opts ...ResponseOption) Response {
	r := Response{
		Content:  content,
		Model:    model,
		Provider: provider,
	}
	for _, opt := range opts {
		opt(&r)
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	return r
}

// ErrorResponse builds a failed Response with empty content.
func ErrorResponse(model, provider string, err error) Response {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Response{
		Model:     model,
		Provider:  provider,
		Timestamp: time.Now(),
		Error:     msg,
	}
}

// Failed reports whether the invocation failed.
func (r Response) Failed() bool {
	return r.Error != ""
}

// Err returns the invocation failure as an error, or nil.
func (r Response) Err() error {
	if r.Error == "" {
		return nil
	}
	return errors.New(r.Error)
}

// ModelInfo is the read-only catalog metadata a provider publishes for a model.
type ModelInfo struct {
	ID                   string   `json:"id"`
	Name                 string   `json:"name"`
	Description          string   `json:"description,omitempty"`
	Version              string   `json:"version,omitempty"`
	ContextWindow        int      `json:"context_window,omitempty"`
	MaxOutputTokens      int      `json:"max_output_tokens,omitempty"`
	Strengths            []string `json:"strengths,omitempty"`
	InputCostPerMillion  float64  `json:"input_cost_per_million"`
	OutputCostPerMillion float64  `json:"output_cost_per_million"`
}

// Options is a free-form parameter map (temperature, max_tokens, ...).
type Options map[string]any

// Common option keys understood by the bundled facades.
const (
	OptTemperature  = "temperature"
	OptMaxTokens    = "max_tokens"
	OptTopP         = "top_p"
	OptSystemPrompt = "system_prompt"

	// OptModelInfo carries []ModelInfo catalog entries into a provider
	// constructor.
	OptModelInfo = "model_info"
)

// Merge returns a new map holding o overlaid by each of others in turn.
// Later maps win on key collision. o is never modified.
func (o Options) Merge(others ...Options) Options {
	out := make(Options, len(o))
	maps.Copy(out, o)
	for _, other := range others {
		maps.Copy(out, other)
	}
	return out
}

// String returns the string value of key, or def.
func (o Options) String(key, def string) string {
	switch v := o[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}
	return def
}

// Float returns the numeric value of key as float64, or def.
func (o Options) Float(key string, def float64) float64 {
	switch v := o[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// Int returns the numeric value of key as int, or def.
func (o Options) Int(key string, def int) int {
	switch v := o[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// Bool returns the boolean value of key, or def.
func (o Options) Bool(key string, def bool) bool {
	switch v := o[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// Duration returns the value of key as a time.Duration. Plain numbers are
// read as seconds.
func (o Options) Duration(key string, def time.Duration) time.Duration {
	switch v := o[key].(type) {
	case time.Duration:
		return v
	case int:
		return time.Duration(v) * time.Second
	case int64:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// Strings returns the value of key as a string slice, or nil.
func (o Options) Strings(key string) []string {
	switch v := o[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Has reports whether key is set.
func (o Options) Has(key string) bool {
	_, ok := o[key]
	return ok
}
