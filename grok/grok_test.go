package grok

import (
	"context"
	"testing"

	"github.com/xostack/polyllm"
	"github.com/xostack/polyllm/internal/openaicompat"
)

func TestNew(t *testing.T) {
	p, err := New("", polyllm.NewSecret("k"), polyllm.Options{"base_url": "http://localhost:8080/v1"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if p.Name() != "grok" {
		t.Errorf("Expected provider name 'grok', got '%s'", p.Name())
	}
	if got := p.(*openaicompat.Provider).BaseURL(); got != "http://localhost:8080/v1" {
		t.Errorf("Expected base URL override, got '%s'", got)
	}
	for _, id := range []string{"grok-beta", "grok-vision-beta"} {
		if !p.SupportsModel(id) {
			t.Errorf("Expected '%s' in the catalog", id)
		}
	}
}

func TestFacade_MissingKey(t *testing.T) {
	p, err := New("", polyllm.Secret{}, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	f, err := p.CreateFacade("grok-beta", nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	resp := f.Generate(context.Background(), "hi", nil)
	if resp.Error != "grok API key is required" {
		t.Errorf("Unexpected error: '%s'", resp.Error)
	}
}
