// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package summarize reduces a document snapshot into a token-bounded
// digest for the reasoning call.
//
// Summarize is a pure function: deterministic for identical input, no
// side effects. The digest bounds the reasoning-call payload independent
// of document size; below the threshold the full object set is carried,
// above it only the selection plus the most recently touched objects.
package summarize

import (
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/datatypes"
)

const (
	// SummaryThreshold is the object count at which digests switch from
	// the full set to the summarized form.
	SummaryThreshold = 100

	// RecentObjectCap is the number of non-selected objects included in a
	// summarized digest, chosen by most-recent edit.
	RecentObjectCap = 5
)

// Summarize builds the digest for one snapshot.
//
// Below SummaryThreshold every object is included. At or above it the
// digest carries every selected object (selection is assumed small and
// is never capped) plus up to RecentObjectCap non-selected objects
// ordered by edit timestamp descending, ties broken by creation
// timestamp descending, then id ascending for a stable order. The type
// histogram always covers the entire object set.
func Summarize(snapshot *datatypes.DocumentSnapshot) *datatypes.Digest {
	digest := &datatypes.Digest{
		DocumentID:   snapshot.DocumentID,
		CanvasWidth:  snapshot.CanvasWidth,
		CanvasHeight: snapshot.CanvasHeight,
		TotalObjects: len(snapshot.Objects),
		SelectedIDs:  append([]string(nil), snapshot.SelectedIDs...),
		TypeCounts:   make(map[string]int, 8),
	}

	for _, obj := range snapshot.Objects {
		digest.TypeCounts[obj.Type]++
	}

	if len(snapshot.Objects) < SummaryThreshold {
		digest.Included = append([]datatypes.CanvasObject(nil), snapshot.Objects...)
		return digest
	}

	digest.Truncated = true

	selected := make(map[string]struct{}, len(snapshot.SelectedIDs))
	for _, id := range snapshot.SelectedIDs {
		selected[id] = struct{}{}
	}

	var rest []datatypes.CanvasObject
	for _, obj := range snapshot.Objects {
		if _, ok := selected[obj.ID]; ok {
			digest.Included = append(digest.Included, obj)
		} else {
			rest = append(rest, obj)
		}
	}

	sort.Slice(rest, func(i, j int) bool {
		a, b := rest[i], rest[j]
		if !a.EditedAt.Equal(b.EditedAt) {
			return a.EditedAt.After(b.EditedAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	if len(rest) > RecentObjectCap {
		rest = rest[:RecentObjectCap]
	}
	digest.Included = append(digest.Included, rest...)

	return digest
}

// FormatPrompt renders a digest as stable, human-diffable text. The same
// rendering feeds the reasoning prompt and debug logging.
func FormatPrompt(digest *datatypes.Digest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Canvas %s: %.0fx%.0f, %d objects",
		digest.DocumentID, digest.CanvasWidth, digest.CanvasHeight, digest.TotalObjects)
	if digest.Truncated {
		fmt.Fprintf(&b, " (showing %d)", len(digest.Included))
	}
	b.WriteString("\n")

	types := make([]string, 0, len(digest.TypeCounts))
	for t := range digest.TypeCounts {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(&b, "  %s: %d\n", t, digest.TypeCounts[t])
	}

	if len(digest.SelectedIDs) > 0 {
		fmt.Fprintf(&b, "Selected: %s\n", strings.Join(digest.SelectedIDs, ", "))
	}

	for _, obj := range digest.Included {
		fmt.Fprintf(&b, "- %s %s at (%.0f,%.0f) size %.0fx%.0f",
			obj.ID, obj.Type, obj.X, obj.Y, obj.Width, obj.Height)
		if obj.Color != "" {
			fmt.Fprintf(&b, " color %s", obj.Color)
		}
		if obj.Rotation != 0 {
			fmt.Fprintf(&b, " rotated %.0f", obj.Rotation)
		}
		if obj.Text != "" {
			fmt.Fprintf(&b, " text %q", obj.Text)
		}
		if obj.Author != "" {
			fmt.Fprintf(&b, " by %s", obj.Author)
		}
		b.WriteString("\n")
	}

	return b.String()
}

// EstimateTokens approximates the token cost of rendered text at four
// characters per token. A soft sizing signal only, never a hard limit.
func EstimateTokens(rendered string) int {
	return (len(rendered) + 3) / 4
}
