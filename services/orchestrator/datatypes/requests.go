// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Inbound command request and response types for the HTTP boundary.
// Malformed requests are rejected here, before queueing, and are never
// retried.
package datatypes

import "github.com/go-playground/validator/v10"

// =============================================================================
// Size Limits
// =============================================================================

const (
	// MaxCommandTextBytes bounds a single command's text. Byte length, not
	// rune count, to bound memory on hostile payloads.
	MaxCommandTextBytes = 8 * 1024

	// MaxHistoryMessages bounds the replayed conversation history.
	MaxHistoryMessages = 100
)

func init() {
	// opValidate is created in operations.go; init order within a package
	// follows file name order, so the instance exists here.
	_ = opValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes enforces MaxCommandTextBytes on string fields.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxCommandTextBytes
}

// =============================================================================
// Request Types
// =============================================================================

// HistoryMessage is one prior conversation turn replayed by the client.
type HistoryMessage struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required,maxbytes"`
}

// CommandRequest is the inbound command submission payload.
type CommandRequest struct {
	Text                string           `json:"text" validate:"required,maxbytes"`
	DocumentID          string           `json:"documentId" validate:"required"`
	UserID              string           `json:"userId" validate:"required"`
	ConversationHistory []HistoryMessage `json:"conversationHistory" validate:"omitempty,max=100,dive"`
}

// Validate checks the request against its declared rules.
func (r *CommandRequest) Validate() error {
	return opValidate.Struct(r)
}

// =============================================================================
// Response Types
// =============================================================================

// CommandResponse is the success payload for a completed command.
type CommandResponse struct {
	Success       bool              `json:"success"`
	CommandID     string            `json:"commandId"`
	Operations    []ExecutionResult `json:"operations"`
	AssistantText string            `json:"assistantText"`
	ElapsedMs     int64             `json:"elapsedMs"`
	TokenUsage    TokenUsage        `json:"tokenUsage"`
}

// CommandErrorResponse is the failure payload. ErrorKind is stable;
// Message is human-readable.
type CommandErrorResponse struct {
	Success     bool      `json:"success"`
	CommandID   string    `json:"commandId,omitempty"`
	ErrorKind   ErrorKind `json:"errorKind"`
	Message     string    `json:"message"`
	Suggestions []string  `json:"suggestions,omitempty"`
}
