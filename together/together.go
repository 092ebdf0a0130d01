// Package together provides an LLM provider for the Together AI platform.
package together

import (
	"github.com/xostack/polyllm"
	"github.com/xostack/polyllm/internal/openaicompat"
)

const (
	providerName   = "together"
	defaultBaseURL = "https://api.together.xyz/v1"
)

var catalog = []polyllm.ModelInfo{
	{
		ID:                   "meta-llama/Meta-Llama-3.1-405B-Instruct-Turbo",
		Description:          "Meta Llama 3.1 405B, the largest Llama model",
		Version:              "3.1",
		MaxOutputTokens:      16384,
		Strengths:            []string{"complex reasoning", "code generation", "long context"},
		InputCostPerMillion:  3.50,
		OutputCostPerMillion: 3.50,
	},
	{
		ID:                   "meta-llama/Meta-Llama-3.1-70B-Instruct-Turbo",
		Description:          "Meta Llama 3.1 70B Turbo",
		Version:              "3.1",
		MaxOutputTokens:      32768,
		Strengths:            []string{"balanced", "fast"},
		InputCostPerMillion:  0.88,
		OutputCostPerMillion: 0.88,
	},
	{
		ID:                   "meta-llama/Meta-Llama-3.1-8B-Instruct-Turbo",
		Description:          "Meta Llama 3.1 8B Turbo",
		Version:              "3.1",
		MaxOutputTokens:      8192,
		Strengths:            []string{"speed", "low cost"},
		InputCostPerMillion:  0.18,
		OutputCostPerMillion: 0.18,
	},
	{
		ID:                   "mistralai/Mixtral-8x7B-Instruct-v0.1",
		Description:          "Mixtral 8x7B mixture of experts",
		Version:              "0.1",
		MaxOutputTokens:      32768,
		Strengths:            []string{"multilingual", "code"},
		InputCostPerMillion:  0.60,
		OutputCostPerMillion: 0.60,
	},
	{
		ID:                   "mistralai/Mistral-7B-Instruct-v0.2",
		Description:          "Mistral 7B Instruct v0.2",
		Version:              "0.2",
		MaxOutputTokens:      32768,
		Strengths:            []string{"fast", "general purpose"},
		InputCostPerMillion:  0.20,
		OutputCostPerMillion: 0.20,
	},
	{
		ID:                   "Qwen/Qwen2.5-72B-Instruct-Turbo",
		Description:          "Qwen 2.5 72B multilingual model",
		Version:              "2.5",
		MaxOutputTokens:      32768,
		Strengths:            []string{"multilingual", "math", "code"},
		InputCostPerMillion:  0.88,
		OutputCostPerMillion: 0.88,
	},
	{
		ID:                   "deepseek-ai/deepseek-llm-67b-chat",
		Description:          "DeepSeek LLM 67B chat",
		Version:              "1.0",
		MaxOutputTokens:      4096,
		Strengths:            []string{"code", "math", "reasoning"},
		InputCostPerMillion:  0.90,
		OutputCostPerMillion: 0.90,
	},
}

// Settings describes the Together AI endpoint and catalog.
var Settings = openaicompat.Settings{
	Name:    providerName,
	Label:   providerName,
	BaseURL: defaultBaseURL,
	Catalog: catalog,
}

// New creates a Together AI provider. It matches polyllm.ProviderFactory.
func New(name string, apiKey polyllm.Secret, cfg polyllm.Options) (polyllm.Provider, error) {
	p, err := openaicompat.New(Settings, name, apiKey, cfg)
	if err != nil {
		return nil, err
	}
	return p, nil
}
