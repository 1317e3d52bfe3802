// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package summarize

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/datatypes"
)

func makeSnapshot(n int, selected ...string) *datatypes.DocumentSnapshot {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	snapshot := &datatypes.DocumentSnapshot{
		DocumentID:   "doc-1",
		CanvasWidth:  1920,
		CanvasHeight: 1080,
		SelectedIDs:  selected,
	}
	for i := 0; i < n; i++ {
		snapshot.Objects = append(snapshot.Objects, datatypes.CanvasObject{
			ID:        fmt.Sprintf("obj-%03d", i),
			Type:      datatypes.TypeRectangle,
			X:         float64(i), Y: float64(i),
			Width: 10, Height: 10,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			EditedAt:  base.Add(time.Duration(i) * time.Minute),
		})
	}
	return snapshot
}

// TestSummarize_BelowThreshold_IncludesEverything tests that small
// documents carry the full object set, untruncated.
func TestSummarize_BelowThreshold_IncludesEverything(t *testing.T) {
	snapshot := makeSnapshot(99)
	digest := Summarize(snapshot)

	if digest.Truncated {
		t.Error("digest below the threshold should not be truncated")
	}
	if len(digest.Included) != 99 {
		t.Errorf("expected 99 included objects, got %d", len(digest.Included))
	}
	if digest.TotalObjects != 99 {
		t.Errorf("expected total 99, got %d", digest.TotalObjects)
	}
	if digest.TypeCounts[datatypes.TypeRectangle] != 99 {
		t.Errorf("expected 99 rectangles in histogram, got %d",
			digest.TypeCounts[datatypes.TypeRectangle])
	}
}

// TestSummarize_AtThreshold_TruncatesToSelectionPlusRecent tests the
// summarized form: every selected object plus the five most recently
// edited others, with a full histogram.
func TestSummarize_AtThreshold_TruncatesToSelectionPlusRecent(t *testing.T) {
	snapshot := makeSnapshot(150, "obj-003", "obj-007", "obj-011")
	digest := Summarize(snapshot)

	if !digest.Truncated {
		t.Fatal("digest at the threshold should be truncated")
	}
	if len(digest.Included) != 8 {
		t.Fatalf("expected 3 selected + 5 recent = 8 objects, got %d", len(digest.Included))
	}

	included := make(map[string]bool)
	for _, obj := range digest.Included {
		included[obj.ID] = true
	}
	for _, id := range []string{"obj-003", "obj-007", "obj-011"} {
		if !included[id] {
			t.Errorf("selected object %s missing from digest", id)
		}
	}
	// obj-149 down to obj-145 have the newest edit timestamps.
	for _, id := range []string{"obj-149", "obj-148", "obj-147", "obj-146", "obj-145"} {
		if !included[id] {
			t.Errorf("recently edited object %s missing from digest", id)
		}
	}

	if digest.TotalObjects != 150 {
		t.Errorf("expected total 150, got %d", digest.TotalObjects)
	}
	if digest.TypeCounts[datatypes.TypeRectangle] != 150 {
		t.Error("histogram must cover the whole document, not just included objects")
	}
}

// TestSummarize_SelectionNotCapped tests that a selection larger than
// the recency cap is carried whole.
func TestSummarize_SelectionNotCapped(t *testing.T) {
	var selected []string
	for i := 0; i < 20; i++ {
		selected = append(selected, fmt.Sprintf("obj-%03d", i))
	}
	digest := Summarize(makeSnapshot(150, selected...))

	if len(digest.Included) != 25 {
		t.Errorf("expected 20 selected + 5 recent = 25 objects, got %d", len(digest.Included))
	}
}

// TestSummarize_RecencyTieBreak tests the stable ordering when edit
// timestamps collide: newer creation first, then id ascending.
func TestSummarize_RecencyTieBreak(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	snapshot := &datatypes.DocumentSnapshot{DocumentID: "doc-1"}
	for i := 0; i < 150; i++ {
		snapshot.Objects = append(snapshot.Objects, datatypes.CanvasObject{
			ID:        fmt.Sprintf("obj-%03d", i),
			Type:      datatypes.TypeEllipse,
			CreatedAt: ts,
			EditedAt:  ts,
		})
	}

	digest := Summarize(snapshot)
	if len(digest.Included) != 5 {
		t.Fatalf("expected 5 objects, got %d", len(digest.Included))
	}
	for i, want := range []string{"obj-000", "obj-001", "obj-002", "obj-003", "obj-004"} {
		if digest.Included[i].ID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, digest.Included[i].ID)
		}
	}
}

// TestSummarize_Deterministic tests that identical snapshots produce
// identical digests.
func TestSummarize_Deterministic(t *testing.T) {
	snapshot := makeSnapshot(150, "obj-010")
	a := FormatPrompt(Summarize(snapshot))
	b := FormatPrompt(Summarize(snapshot))
	if a != b {
		t.Error("identical snapshots must render identically")
	}
}

// TestFormatPrompt_RendersHeaderAndObjects tests the rendered shape.
func TestFormatPrompt_RendersHeaderAndObjects(t *testing.T) {
	snapshot := makeSnapshot(2, "obj-000")
	snapshot.Objects[1].Color = "#e03131"
	snapshot.Objects[1].Text = "hello"
	snapshot.Objects[1].Author = datatypes.AgentAuthor

	rendered := FormatPrompt(Summarize(snapshot))

	for _, want := range []string{
		"Canvas doc-1: 1920x1080, 2 objects",
		"rectangle: 2",
		"Selected: obj-000",
		"color #e03131",
		`text "hello"`,
		"by aleutian-agent",
	} {
		if !strings.Contains(rendered, want) {
			t.Errorf("rendered digest missing %q:\n%s", want, rendered)
		}
	}
}

// TestEstimateTokens_FourCharsPerToken tests the sizing heuristic.
func TestEstimateTokens_FourCharsPerToken(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("empty string: expected 0, got %d", got)
	}
	if got := EstimateTokens("abcd"); got != 1 {
		t.Errorf("4 chars: expected 1, got %d", got)
	}
	if got := EstimateTokens("abcde"); got != 2 {
		t.Errorf("5 chars: expected 2, got %d", got)
	}
}
