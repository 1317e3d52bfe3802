// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Canvas document types: the lean object shape the summarizer works with,
// point-in-time snapshots, and the size-bounded digest sent to the
// reasoning service.
package datatypes

import "time"

// =============================================================================
// Canvas Objects
// =============================================================================

// Object type names used across the catalog and the summarizer.
const (
	TypeRectangle = "rectangle"
	TypeEllipse   = "ellipse"
	TypeLine      = "line"
	TypeArrow     = "arrow"
	TypeText      = "text"
	TypeFreehand  = "freehand"
)

// AgentAuthor is the synthetic author identity stamped on every mutation
// performed by the executor, distinguishing agent-driven edits from direct
// user edits in downstream attribution UI.
const AgentAuthor = "aleutian-agent"

// CanvasObject is the lean projection of a document object. All
// document-internal fields (z-order bookkeeping, cursors, CRDT clocks)
// are dropped at snapshot time.
type CanvasObject struct {
	ID       string  `json:"id"`
	Type     string  `json:"type"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Color    string  `json:"color,omitempty"`
	Opacity  float64 `json:"opacity,omitempty"`
	Text     string  `json:"text,omitempty"`
	Rotation float64 `json:"rotation,omitempty"`
	Author   string  `json:"author,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	EditedAt  time.Time `json:"editedAt"`
}

// ObjectPatch is a partial update applied to a live object. Nil fields are
// left untouched. The document store applies patches last-write-wins.
type ObjectPatch struct {
	X        *float64 `json:"x,omitempty"`
	Y        *float64 `json:"y,omitempty"`
	Width    *float64 `json:"width,omitempty"`
	Height   *float64 `json:"height,omitempty"`
	Color    *string  `json:"color,omitempty"`
	Opacity  *float64 `json:"opacity,omitempty"`
	Text     *string  `json:"text,omitempty"`
	Rotation *float64 `json:"rotation,omitempty"`

	// Author and EditedAt are stamped by the executor, never by callers.
	Author   string    `json:"author,omitempty"`
	EditedAt time.Time `json:"editedAt,omitzero"`
}

// =============================================================================
// Snapshot and Digest
// =============================================================================

// DocumentSnapshot is an immutable point-in-time read of a document. It is
// owned by the summarizer for the duration of one reasoning call and is
// re-taken each iteration so stale references cannot persist.
type DocumentSnapshot struct {
	DocumentID   string         `json:"documentId"`
	CanvasWidth  float64        `json:"canvasWidth"`
	CanvasHeight float64        `json:"canvasHeight"`
	Objects      []CanvasObject `json:"objects"`
	SelectedIDs  []string       `json:"selectedIds"`
	TakenAt      time.Time      `json:"takenAt"`
}

// Digest is the size-bounded view of a snapshot. When the snapshot holds
// at least SummaryThreshold objects, Included carries only the selection
// plus the most recently touched objects, and TypeCounts covers the entire
// object set. Below the threshold Included is the full set.
type Digest struct {
	DocumentID   string         `json:"documentId"`
	CanvasWidth  float64        `json:"canvasWidth"`
	CanvasHeight float64        `json:"canvasHeight"`
	TotalObjects int            `json:"totalObjects"`
	Truncated    bool           `json:"truncated"`
	Included     []CanvasObject `json:"included"`
	SelectedIDs  []string       `json:"selectedIds"`
	TypeCounts   map[string]int `json:"typeCounts"`
}
