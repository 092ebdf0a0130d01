package openaicompat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xostack/polyllm"
)

var testSettings = Settings{
	Name:    "vendor",
	Label:   "vendor",
	BaseURL: "https://api.example.invalid/v1",
	Catalog: []polyllm.ModelInfo{{ID: "test-model", MaxOutputTokens: 256}},
}

func init() {
	RetryDelay = time.Millisecond
}

func newTestFacade(t *testing.T, serverURL, key string, overrides polyllm.Options) polyllm.Facade {
	t.Helper()
	p, err := New(testSettings, "", polyllm.NewSecret(key), polyllm.Options{"base_url": serverURL})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}
	f, err := p.CreateFacade("test-model", overrides)
	if err != nil {
		t.Fatalf("Failed to create facade: %v", err)
	}
	return f
}

func TestNew(t *testing.T) {
	p, err := New(testSettings, "", polyllm.Secret{}, nil)
	if err != nil {
		t.Fatalf("Expected no error without an API key, got: %v", err)
	}
	if p.Name() != "vendor" {
		t.Errorf("Expected provider name 'vendor', got '%s'", p.Name())
	}
	if p.BaseURL() != testSettings.BaseURL {
		t.Errorf("Expected base URL '%s', got '%s'", testSettings.BaseURL, p.BaseURL())
	}

	p, err = New(testSettings, "renamed", polyllm.Secret{}, polyllm.Options{"base_url": "http://localhost:9999/v1/"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if p.Name() != "renamed" || p.BaseURL() != "http://localhost:9999/v1" {
		t.Errorf("Unexpected provider: %s at %s", p.Name(), p.BaseURL())
	}

	if _, err := New(testSettings, "", polyllm.Secret{}, polyllm.Options{"base_url": "ftp://example.com"}); err == nil {
		t.Error("Expected error for a non-http base URL")
	}
}

func TestFacade_Chat(t *testing.T) {
	var got chatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Unexpected Authorization header: %s", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "cmpl-1",
			"model": "test-model",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "  Hello back  "}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7}
		}`)
	}))
	defer server.Close()

	f := newTestFacade(t, server.URL+"/v1", "test-key", polyllm.Options{polyllm.OptSystemPrompt: "be brief"})
	resp := f.Chat(context.Background(), []polyllm.Message{
		polyllm.UserMessage("hi"),
		polyllm.AssistantMessage("hello"),
		polyllm.UserMessage("again"),
	}, polyllm.Options{polyllm.OptTemperature: 0.2})

	if resp.Failed() {
		t.Fatalf("Unexpected error: %s", resp.Error)
	}
	if resp.Content != "Hello back" {
		t.Errorf("Expected trimmed content, got '%s'", resp.Content)
	}
	if resp.Usage[polyllm.TotalTokens] != 7 || resp.Usage[polyllm.InputTokens] != 5 {
		t.Errorf("Unexpected usage: %v", resp.Usage)
	}
	if resp.Metadata["finish_reason"] != "stop" || resp.Metadata["id"] != "cmpl-1" {
		t.Errorf("Unexpected metadata: %v", resp.Metadata)
	}

	if len(got.Messages) != 4 || got.Messages[0].Role != "system" || got.Messages[0].Content != "be brief" {
		t.Errorf("Unexpected request messages: %+v", got.Messages)
	}
	if got.Messages[2].Role != "assistant" {
		t.Errorf("Expected the assistant role to be kept, got %s", got.Messages[2].Role)
	}
	if got.Temperature == nil || *got.Temperature != 0.2 {
		t.Errorf("Expected temperature 0.2, got %v", got.Temperature)
	}
	if got.MaxTokens == nil || *got.MaxTokens != 256 {
		t.Errorf("Expected max_tokens from model metadata, got %v", got.MaxTokens)
	}
	if got.TopP != nil {
		t.Errorf("Expected top_p to be omitted, got %v", *got.TopP)
	}
	if got.Stream {
		t.Error("Expected stream=false")
	}
}

func TestFacade_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatCompletionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" || req.Messages[0].Content != "ping" {
			t.Errorf("Unexpected messages: %+v", req.Messages)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"pong"}}]}`)
	}))
	defer server.Close()

	resp := newTestFacade(t, server.URL, "k", nil).Generate(context.Background(), "ping", nil)
	if resp.Content != "pong" {
		t.Errorf("Expected 'pong', got '%s' (error: %s)", resp.Content, resp.Error)
	}
}

func TestFacade_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{
			name:    "api error json",
			status:  http.StatusUnauthorized,
			body:    `{"error": {"message": "Invalid API Key", "type": "invalid_request_error"}}`,
			wantErr: "vendor API error: Invalid API Key (Type: invalid_request_error)",
		},
		{
			name:    "plain error body",
			status:  http.StatusInternalServerError,
			body:    "upstream exploded",
			wantErr: "vendor API request failed with status 500",
		},
		{
			name:    "empty choices",
			status:  http.StatusOK,
			body:    `{"choices": []}`,
			wantErr: "no choices or empty message content",
		},
		{
			name:    "malformed json",
			status:  http.StatusOK,
			body:    `{not json`,
			wantErr: "failed to unmarshal vendor response JSON",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer server.Close()

			resp := newTestFacade(t, server.URL, "k", nil).Generate(context.Background(), "x", nil)
			if !resp.Failed() {
				t.Fatal("Expected an error response")
			}
			if !strings.Contains(resp.Error, tt.wantErr) {
				t.Errorf("Expected error containing '%s', got '%s'", tt.wantErr, resp.Error)
			}
			if resp.Content != "" {
				t.Errorf("Expected empty content, got '%s'", resp.Content)
			}
		})
	}
}

func TestFacade_MissingAPIKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Expected no request without an API key")
	}))
	defer server.Close()

	f := newTestFacade(t, server.URL, "", nil)
	resp := f.Generate(context.Background(), "x", nil)
	if resp.Error != "vendor API key is required" {
		t.Errorf("Unexpected error: '%s'", resp.Error)
	}

	_, err := polyllm.CollectStream(f.GenerateStream(context.Background(), "x", nil))
	if err == nil || !strings.Contains(err.Error(), "API key is required") {
		t.Errorf("Expected stream to end with the key error, got %v", err)
	}
}

func TestFacade_ChatStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatCompletionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("Expected stream=true")
		}
		if accept := r.Header.Get("Accept"); accept != "text/event-stream" {
			t.Errorf("Unexpected Accept header: %s", accept)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range []string{
			`{"choices":[{"delta":{"role":"assistant"}}]}`,
			`{"choices":[{"delta":{"content":"Hel"}}]}`,
			`{"choices":[{"delta":{"content":"lo"}}]}`,
			`{"choices":[{"delta":{"content":"!"},"finish_reason":"stop"}]}`,
		} {
			fmt.Fprintf(w, "data: %s\n\n", chunk)
		}
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"ignored"}}]}`+"\n\n")
	}))
	defer server.Close()

	f := newTestFacade(t, server.URL, "k", nil)
	var chunks []string
	for chunk, err := range f.ChatStream(context.Background(), []polyllm.Message{polyllm.UserMessage("hi")}, nil) {
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		chunks = append(chunks, chunk)
	}
	if strings.Join(chunks, "") != "Hello!" || len(chunks) != 3 {
		t.Errorf("Unexpected chunks: %q", chunks)
	}
}

func TestFacade_StreamErrorChunk(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"partial"}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"error":{"message":"overloaded"}}`+"\n\n")
	}))
	defer server.Close()

	text, err := polyllm.CollectStream(newTestFacade(t, server.URL, "k", nil).GenerateStream(context.Background(), "x", nil))
	if text != "partial" {
		t.Errorf("Expected fragments before the error, got '%s'", text)
	}
	if err == nil || !strings.Contains(err.Error(), "overloaded") {
		t.Errorf("Expected terminal error 'overloaded', got %v", err)
	}
}

func TestFacade_StreamOutlivesRequestTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 6; i++ {
			fmt.Fprintf(w, `data: {"choices":[{"delta":{"content":"w%d "}}]}`+"\n\n", i)
			flusher.Flush()
			time.Sleep(300 * time.Millisecond)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	p, err := New(testSettings, "", polyllm.NewSecret("k"), polyllm.Options{"base_url": server.URL, "request_timeout_seconds": 1})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}
	f, err := p.CreateFacade("test-model", nil)
	if err != nil {
		t.Fatalf("Failed to create facade: %v", err)
	}

	text, err := polyllm.CollectStream(f.GenerateStream(context.Background(), "long answer", nil))
	if err != nil {
		t.Fatalf("Expected the stream to outlive request_timeout_seconds, got %v", err)
	}
	if text != "w0 w1 w2 w3 w4 w5 " {
		t.Errorf("Expected all 6 chunks, got %q", text)
	}
}

func TestProvider_ValidateAPIKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/models" {
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"data": []}`)
	}))
	defer server.Close()

	tests := []struct {
		key  string
		want bool
	}{
		{"good", true},
		{"bad", false},
		{"", false},
	}
	for _, tt := range tests {
		p, err := New(testSettings, "", polyllm.NewSecret(tt.key), polyllm.Options{"base_url": server.URL})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if got := p.ValidateAPIKey(context.Background()); got != tt.want {
			t.Errorf("ValidateAPIKey(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}
