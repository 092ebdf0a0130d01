package together

import (
	"context"
	"testing"

	"github.com/xostack/polyllm"
	"github.com/xostack/polyllm/internal/openaicompat"
)

func TestNew(t *testing.T) {
	p, err := New("", polyllm.Secret{}, nil)
	if err != nil {
		t.Fatalf("Expected no error without an API key, got: %v", err)
	}
	if p.Name() != "together" {
		t.Errorf("Expected provider name 'together', got '%s'", p.Name())
	}
	if got := p.(*openaicompat.Provider).BaseURL(); got != defaultBaseURL {
		t.Errorf("Expected base URL '%s', got '%s'", defaultBaseURL, got)
	}
	info, ok := p.ModelInfo("Qwen/Qwen2.5-72B-Instruct-Turbo")
	if !ok || info.Name != "Qwen/Qwen2.5-72B-Instruct-Turbo" {
		t.Errorf("Unexpected model info: %+v", info)
	}
	if p.ValidateAPIKey(context.Background()) {
		t.Error("Expected validation to fail without an API key")
	}
}

func TestNew_ExtraModels(t *testing.T) {
	p, err := New("", polyllm.NewSecret("k"), polyllm.Options{"models": []any{"org/custom-model"}})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !p.SupportsModel("org/custom-model") {
		t.Error("Expected configured model to extend the catalog")
	}
	if got := len(p.AvailableModels()); got != len(catalog)+1 {
		t.Errorf("Expected %d models, got %d", len(catalog)+1, got)
	}
}
