// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm provides clients for external reasoning services.
//
// Each backend (Anthropic REST, OpenAI) implements ReasoningClient: one
// transcript plus an operation catalog in, assistant text plus zero or
// more structured operation calls plus token usage out. Retry policy
// lives in the gateway, not here; clients surface a classified
// *ProviderError and make exactly one attempt per Complete call.
package llm

import (
	"context"
	"encoding/json"

	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/datatypes"
)

// Transcript roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one transcript entry.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolDefinition describes one callable operation to the model. The
// InputSchema is a JSON Schema object produced by the operation catalog.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolCall is one structured operation request returned by the model.
// Arguments stay raw JSON until the gateway parses them; a parse failure
// for any one call aborts the whole gateway call.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// CompletionRequest is one reasoning call.
type CompletionRequest struct {
	System    string
	Messages  []Message
	Tools     []ToolDefinition
	MaxTokens int
}

// Completion is the model's answer for one call.
type Completion struct {
	Text      string
	ToolCalls []ToolCall
	Usage     datatypes.TokenUsage
}

// ReasoningClient is the standard interface for any reasoning backend.
type ReasoningClient interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}
