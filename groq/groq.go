// Package groq provides an LLM provider for Groq's cloud API.
package groq

import (
	"github.com/xostack/polyllm"
	"github.com/xostack/polyllm/internal/openaicompat"
)

const (
	providerName   = "groq"
	defaultBaseURL = "https://api.groq.com/openai/v1"
)

var catalog = []polyllm.ModelInfo{
	{
		ID:                   "llama-3.3-70b-versatile",
		Description:          "Meta Llama 3.3 70B on Groq LPUs",
		Version:              "3.3",
		ContextWindow:        131072,
		MaxOutputTokens:      32768,
		Strengths:            []string{"general", "reasoning", "speed"},
		InputCostPerMillion:  0.59,
		OutputCostPerMillion: 0.79,
	},
	{
		ID:                   "llama-3.1-8b-instant",
		Description:          "Meta Llama 3.1 8B, low latency",
		Version:              "3.1",
		ContextWindow:        131072,
		MaxOutputTokens:      8192,
		Strengths:            []string{"speed", "low cost"},
		InputCostPerMillion:  0.05,
		OutputCostPerMillion: 0.08,
	},
	{
		ID:                   "gemma2-9b-it",
		Description:          "Google Gemma 2 9B instruct",
		Version:              "2",
		ContextWindow:        8192,
		MaxOutputTokens:      8192,
		Strengths:            []string{"general", "low cost"},
		InputCostPerMillion:  0.20,
		OutputCostPerMillion: 0.20,
	},
	{
		ID:                   "mixtral-8x7b-32768",
		Description:          "Mistral Mixtral 8x7B",
		Version:              "0.1",
		ContextWindow:        32768,
		MaxOutputTokens:      32768,
		Strengths:            []string{"multilingual", "code"},
		InputCostPerMillion:  0.24,
		OutputCostPerMillion: 0.24,
	},
}

// Settings describes the Groq endpoint and catalog.
var Settings = openaicompat.Settings{
	Name:    providerName,
	Label:   providerName,
	BaseURL: defaultBaseURL,
	Catalog: catalog,
}

// New creates a Groq provider. It matches polyllm.ProviderFactory.
func New(name string, apiKey polyllm.Secret, cfg polyllm.Options) (polyllm.Provider, error) {
	p, err := openaicompat.New(Settings, name, apiKey, cfg)
	if err != nil {
		return nil, err
	}
	return p, nil
}
