// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the canvas orchestrator.
//
// This file contains the Command lifecycle types. A Command is one
// natural-language instruction from a user, bound to one document. It moves
// through a finite state machine owned by the per-document queue and the
// orchestration loop; no other component mutates a Command.
package datatypes

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Command Status
// =============================================================================

// CommandStatus is the lifecycle state of a Command.
//
// Transitions: pending -> processing -> {completed, failed, cancelled, timed_out}.
// Terminal states are never left.
type CommandStatus string

const (
	StatusPending    CommandStatus = "pending"
	StatusProcessing CommandStatus = "processing"
	StatusCompleted  CommandStatus = "completed"
	StatusFailed     CommandStatus = "failed"
	StatusCancelled  CommandStatus = "cancelled"
	StatusTimedOut   CommandStatus = "timed_out"
)

// IsTerminal reports whether the status is an end state.
func (s CommandStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	}
	return false
}

// CanTransition reports whether a transition from s to next is legal.
func (s CommandStatus) CanTransition(next CommandStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusCancelled ||
			next == StatusTimedOut || next == StatusFailed
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed ||
			next == StatusTimedOut
	}
	return false
}

// =============================================================================
// Error Kinds
// =============================================================================

// ErrorKind is the stable machine-readable failure class surfaced at the
// command boundary. Internal retry and backoff never change the kind a
// caller sees; they only add latency.
type ErrorKind string

const (
	ErrKindInvalidRequest      ErrorKind = "invalid-request"
	ErrKindAuthRequired        ErrorKind = "authentication-required"
	ErrKindDocumentNotFound    ErrorKind = "document-not-found"
	ErrKindValidation          ErrorKind = "validation-error"
	ErrKindTimeout             ErrorKind = "timeout"
	ErrKindUpstreamUnavailable ErrorKind = "upstream-unavailable"
	ErrKindInternal            ErrorKind = "internal-error"

	// ErrKindQueueFull reports a per-document queue at capacity. Enqueueing
	// past capacity is a hard error, never a silent drop.
	ErrKindQueueFull ErrorKind = "queue-full"

	// ErrKindCommandNotFound reports a lookup of a command id the
	// service is not tracking, either never seen or already evicted.
	ErrKindCommandNotFound ErrorKind = "command-not-found"

	// ErrKindIterationLimit reports that the reasoning loop hit its
	// iteration cap while the model still wanted to gather information.
	ErrKindIterationLimit ErrorKind = "iteration-limit"
)

// =============================================================================
// Token Usage
// =============================================================================

// TokenUsage aggregates reasoning-service token counts across the
// iterations of one command.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates usage from one reasoning call.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// =============================================================================
// Command
// =============================================================================

// Command is one inbound natural-language instruction.
//
// # Ownership
//
// The per-document queue owns admission and ordering; the orchestration
// loop fills the outcome fields exactly once, on the transition to a
// terminal status. Callers must treat a Command as read-only.
type Command struct {
	ID         string        `json:"id"`
	DocumentID string        `json:"documentId"`
	UserID     string        `json:"userId"`
	Text       string        `json:"text"`
	CreatedAt  time.Time     `json:"createdAt"`
	Status     CommandStatus `json:"status"`

	// History is the client-replayed conversation, consumed by the first
	// reasoning iteration only. Not part of the command's wire shape.
	History []HistoryMessage `json:"-"`

	// Outcome fields, set on the terminal transition.
	AssistantText string            `json:"assistantText,omitempty"`
	Operations    []ExecutionResult `json:"operations,omitempty"`
	Usage         TokenUsage        `json:"tokenUsage"`
	ElapsedMs     int64             `json:"elapsedMs"`
	ErrorKind     ErrorKind         `json:"errorKind,omitempty"`
	ErrorMessage  string            `json:"errorMessage,omitempty"`
	Suggestions   []string          `json:"suggestions,omitempty"`
}

// NewCommand creates a pending Command with a fresh id.
func NewCommand(documentID, userID, text string) *Command {
	return &Command{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		UserID:     userID,
		Text:       text,
		CreatedAt:  time.Now(),
		Status:     StatusPending,
	}
}
