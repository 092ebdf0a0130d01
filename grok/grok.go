// Package grok provides an LLM provider for xAI's Grok models.
package grok

import (
	"github.com/xostack/polyllm"
	"github.com/xostack/polyllm/internal/openaicompat"
)

const (
	providerName   = "grok"
	defaultBaseURL = "https://api.x.ai/v1"
)

var catalog = []polyllm.ModelInfo{
	{
		ID:                   "grok-beta",
		Description:          "Grok Beta conversational model",
		Version:              "beta",
		ContextWindow:        131072,
		MaxOutputTokens:      131072,
		Strengths:            []string{"real-time info", "conversational"},
		InputCostPerMillion:  5.00,
		OutputCostPerMillion: 15.00,
	},
	{
		ID:                   "grok-vision-beta",
		Description:          "Grok Vision Beta multimodal model",
		Version:              "beta",
		ContextWindow:        8192,
		MaxOutputTokens:      8192,
		Strengths:            []string{"vision", "multimodal"},
		InputCostPerMillion:  5.00,
		OutputCostPerMillion: 15.00,
	},
}

// Settings describes the xAI endpoint and catalog.
var Settings = openaicompat.Settings{
	Name:    providerName,
	Label:   providerName,
	BaseURL: defaultBaseURL,
	Catalog: catalog,
}

// New creates a Grok provider. It matches polyllm.ProviderFactory.
func New(name string, apiKey polyllm.Secret, cfg polyllm.Options) (polyllm.Provider, error) {
	p, err := openaicompat.New(Settings, name, apiKey, cfg)
	if err != nil {
		return nil, err
	}
	return p, nil
}
