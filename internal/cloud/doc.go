// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud provides the OpenRouter gateway for completions and
// the model catalog.
//
// OpenRouter fronts many LLM providers behind one API. This package
// implements the client used for every outbound call: completions,
// model listing, and key validation. A single Client instance is
// shared across the concurrent completions of a dispatch; a rate
// limiter smooths the fan-out burst and retries with exponential
// backoff absorb transient failures.
//
// # Key Types
//
//   - Client: the OpenRouter API client
//   - Outcome: the settled result of one completion (success or failure)
//   - ChatMessage: one turn of history on the wire
//   - OpenRouterError: typed API error with code and HTTP status
//
// # Usage
//
//	client := cloud.NewClient(apiKey).WithMaxRetries(3)
//	outcome, err := client.Complete(ctx, "openai/gpt-4o", history, cloud.Params{
//		Temperature: 0.7,
//		MaxTokens:   1000,
//	})
//	if err != nil {
//		// caller misuse: no key or no model
//	}
//	if !outcome.Success {
//		// backend failure, detail in outcome.ErrorDetail
//	}
package cloud
