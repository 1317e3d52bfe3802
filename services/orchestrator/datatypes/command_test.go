// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "testing"

// TestCommandStatus_CanTransition tests the lifecycle state machine.
func TestCommandStatus_CanTransition(t *testing.T) {
	cases := []struct {
		from, to CommandStatus
		want     bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusTimedOut, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusCompleted, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusTimedOut, true},
		{StatusProcessing, StatusCancelled, false},
		{StatusProcessing, StatusPending, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusProcessing, false},
		{StatusCancelled, StatusProcessing, false},
		{StatusTimedOut, StatusCompleted, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

// TestCommandStatus_IsTerminal tests terminal-state classification.
func TestCommandStatus_IsTerminal(t *testing.T) {
	terminal := []CommandStatus{StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []CommandStatus{StatusPending, StatusProcessing} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

// TestNewCommand tests command initialization.
func TestNewCommand(t *testing.T) {
	cmd := NewCommand("doc-1", "user-1", "draw a circle")
	if cmd.ID == "" {
		t.Error("id not assigned")
	}
	if cmd.Status != StatusPending {
		t.Errorf("status = %s, want pending", cmd.Status)
	}
	if cmd.DocumentID != "doc-1" || cmd.UserID != "user-1" || cmd.Text != "draw a circle" {
		t.Errorf("fields not set: %+v", cmd)
	}
	if cmd.CreatedAt.IsZero() {
		t.Error("creation time not stamped")
	}
}

// TestTokenUsage_Add tests accumulation across iterations.
func TestTokenUsage_Add(t *testing.T) {
	var u TokenUsage
	u.Add(TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15})
	u.Add(TokenUsage{PromptTokens: 20, CompletionTokens: 7, TotalTokens: 27})
	if u.PromptTokens != 30 || u.CompletionTokens != 12 || u.TotalTokens != 42 {
		t.Errorf("accumulated usage = %+v", u)
	}
}
