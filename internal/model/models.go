// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "strings"

// =============================================================================
// MODEL INFO TYPE
// =============================================================================

// ModelInfo describes a selectable backend model.
type ModelInfo struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Description     string  `json:"description,omitempty"`
	ContextLength   int     `json:"context_length"`
	IsFree          bool    `json:"is_free"`
	PromptPrice     float64 `json:"prompt_price"`
	CompletionPrice float64 `json:"completion_price"`
	Category        string  `json:"category"`
	Provider        string  `json:"provider"`
}

// =============================================================================
// CLASSIFICATION HEURISTICS
// =============================================================================

// freeKeywords marks model ids that are known free-tier offerings even
// when the listing omits pricing.
var freeKeywords = []string{
	"free", ":free", "gemma", "llama-3.1-8b", "llama-3-8b", "mistral-7b",
	"qwen", "phi-3", "phi-3-mini", "mixtral-8x7b", "codestral-mamba",
	"deepseek-coder", "nous-hermes", "openchat", "toppy-m",
}

// IsFreeID reports whether a model id plus its per-token prices
// classify as free tier. Prices at or below the epsilon are treated as
// free because some listings report residual dust values.
func IsFreeID(id string, promptPrice, completionPrice float64) bool {
	lower := strings.ToLower(id)
	for _, kw := range freeKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	const epsilon = 0.000001
	if promptPrice == 0 && completionPrice == 0 {
		return true
	}
	return promptPrice < epsilon && completionPrice < epsilon
}

// CategoryForID infers a display category from a model id.
func CategoryForID(id string) string {
	lower := strings.ToLower(id)
	switch {
	case strings.Contains(lower, "gpt"), strings.Contains(lower, "openai"):
		return "OpenAI"
	case strings.Contains(lower, "claude"), strings.Contains(lower, "anthropic"):
		return "Anthropic"
	case strings.Contains(lower, "gemini"), strings.Contains(lower, "google"):
		return "Google"
	case strings.Contains(lower, "llama"), strings.Contains(lower, "meta"):
		return "Meta"
	case strings.Contains(lower, "mistral"):
		return "Mistral"
	case strings.Contains(lower, "cohere"):
		return "Cohere"
	case strings.Contains(lower, "qwen"), strings.Contains(lower, "alibaba"):
		return "Alibaba"
	default:
		return "Other"
	}
}

// ProviderForID returns the provider prefix of a qualified model id
// ("anthropic/claude-3-haiku" -> "anthropic").
func ProviderForID(id string) string {
	if idx := strings.Index(id, "/"); idx > 0 {
		return id[:idx]
	}
	if id == "" {
		return "Unknown"
	}
	return id
}

// FormatModelName derives a display name from a model id when the
// listing provides none ("meta-llama/llama-3-8b" -> "Llama 3 8b").
func FormatModelName(id string) string {
	base := id
	if idx := strings.LastIndex(id, "/"); idx >= 0 {
		base = id[idx+1:]
	}
	words := strings.Split(strings.ReplaceAll(base, "-", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// =============================================================================
// FALLBACK CATALOG
// =============================================================================

// FallbackModels returns the fixed catalog used when no credential is
// configured or the live listing is unreachable. It spans free and paid
// tiers so model selection always has something to offer.
func FallbackModels() []ModelInfo {
	return []ModelInfo{
		// Free tier
		{
			ID:            "meta-llama/llama-3.1-8b-instruct:free",
			Name:          "Llama 3.1 8B (Free)",
			Description:   "Meta's latest open-source model with excellent performance, completely free",
			ContextLength: 131072,
			IsFree:        true,
			Category:      "Meta",
			Provider:      "meta-llama",
		},
		{
			ID:            "microsoft/phi-3-mini-128k-instruct:free",
			Name:          "Phi 3 Mini (Free)",
			Description:   "Microsoft's efficient small language model, optimized for speed and quality",
			ContextLength: 128000,
			IsFree:        true,
			Category:      "Microsoft",
			Provider:      "microsoft",
		},
		{
			ID:            "google/gemma-2-9b-it:free",
			Name:          "Gemma 2 9B (Free)",
			Description:   "Google's latest Gemma model with improved reasoning capabilities",
			ContextLength: 8192,
			IsFree:        true,
			Category:      "Google",
			Provider:      "google",
		},
		{
			ID:            "mistralai/mistral-7b-instruct:free",
			Name:          "Mistral 7B (Free)",
			Description:   "High-quality multilingual model from Mistral AI, available for free",
			ContextLength: 32768,
			IsFree:        true,
			Category:      "Mistral",
			Provider:      "mistralai",
		},
		{
			ID:            "huggingfaceh4/zephyr-7b-beta:free",
			Name:          "Zephyr 7B Beta (Free)",
			Description:   "Community-fine-tuned model based on Mistral with strong performance",
			ContextLength: 32768,
			IsFree:        true,
			Category:      "Hugging Face",
			Provider:      "huggingfaceh4",
		},

		// Paid tier
		{
			ID:              "anthropic/claude-3.5-sonnet",
			Name:            "Claude 3.5 Sonnet",
			Description:     "Anthropic's most capable model with superior reasoning and coding abilities",
			ContextLength:   200000,
			PromptPrice:     0.000003,
			CompletionPrice: 0.000015,
			Category:        "Anthropic",
			Provider:        "anthropic",
		},
		{
			ID:              "openai/gpt-4o",
			Name:            "GPT-4o",
			Description:     "OpenAI's flagship multimodal model with excellent performance across tasks",
			ContextLength:   128000,
			PromptPrice:     0.0000025,
			CompletionPrice: 0.00001,
			Category:        "OpenAI",
			Provider:        "openai",
		},
		{
			ID:              "google/gemini-pro-1.5",
			Name:            "Gemini Pro 1.5",
			Description:     "Google's advanced reasoning model with massive context window",
			ContextLength:   1000000,
			PromptPrice:     0.00000125,
			CompletionPrice: 0.000005,
			Category:        "Google",
			Provider:        "google",
		},
		{
			ID:              "meta-llama/llama-3.1-405b-instruct",
			Name:            "Llama 3.1 405B",
			Description:     "Meta's largest and most capable open-source model",
			ContextLength:   131072,
			PromptPrice:     0.000005,
			CompletionPrice: 0.000015,
			Category:        "Meta",
			Provider:        "meta-llama",
		},
		{
			ID:              "mistralai/mistral-large",
			Name:            "Mistral Large",
			Description:     "Mistral's flagship model with top-tier performance",
			ContextLength:   128000,
			PromptPrice:     0.000004,
			CompletionPrice: 0.000012,
			Category:        "Mistral",
			Provider:        "mistralai",
		},
		{
			ID:              "anthropic/claude-3-haiku",
			Name:            "Claude 3 Haiku",
			Description:     "Fast and affordable model from Anthropic, great for simple tasks",
			ContextLength:   200000,
			PromptPrice:     0.00000025,
			CompletionPrice: 0.00000125,
			Category:        "Anthropic",
			Provider:        "anthropic",
		},
	}
}
