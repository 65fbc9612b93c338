// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations, messages,
// and model descriptors.
//
// This package defines the core domain types used throughout the
// application for representing multi-model chat sessions.
//
// # Key Types
//
//   - Conversation: Ordered message sequence with title and timestamps
//   - Message: Single message with an immutable identity envelope and a
//     mutable outcome (pending/complete/failed)
//   - ModelInfo: Descriptor of a selectable backend model with pricing
//   - Role, Status: Enumerations for message sender and lifecycle state
//
// # Usage
//
// Create a conversation and append messages:
//
//	conv := model.NewConversation()
//	conv.Messages = append(conv.Messages, model.NewUserMessage("Hello!"))
//	placeholder := model.NewPendingMessage("openai/gpt-4o")
//
// Resolve a placeholder when its request settles:
//
//	placeholder.MarkComplete("Hi there!", &model.Usage{TotalTokens: 12})
package model
