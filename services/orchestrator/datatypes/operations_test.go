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

// TestResolveColor tests hex passthrough, named colors, and rejection.
func TestResolveColor(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"#E03131", "#e03131", true},
		{"#abc", "#abc", true},
		{"red", "#e03131", true},
		{"RED", "#e03131", true},
		{"  blue  ", "#1971c2", true},
		{"turquoise-ish", "", false},
		{"#12345", "", false},
		{"#gggggg", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := ResolveColor(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("ResolveColor(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

// TestUpdateObjectParams_HasChanges tests the no-op update guard.
func TestUpdateObjectParams_HasChanges(t *testing.T) {
	empty := &UpdateObjectParams{ObjectID: "obj-1"}
	if empty.HasChanges() {
		t.Error("update with only an id has no changes")
	}

	x := 5.0
	withField := &UpdateObjectParams{ObjectID: "obj-1", X: &x}
	if !withField.HasChanges() {
		t.Error("update with a field set has changes")
	}
}

// TestReferencedIDs tests id extraction for the reference pass.
func TestReferencedIDs(t *testing.T) {
	cases := []struct {
		name   string
		params OperationParams
		want   int
	}{
		{"create_shape", &CreateShapeParams{}, 0},
		{"create_text", &CreateTextParams{}, 0},
		{"move_object", &MoveObjectParams{ObjectID: "a"}, 1},
		{"delete_object", &DeleteObjectParams{ObjectID: "a"}, 1},
		{"align_objects", &AlignObjectsParams{ObjectIDs: []string{"a", "b"}}, 2},
		{"distribute_objects", &DistributeObjectsParams{ObjectIDs: []string{"a", "b", "c"}}, 3},
		{"select_objects", &SelectObjectsParams{ObjectIDs: []string{"a"}}, 1},
		{"list_objects", &ListObjectsParams{}, 0},
		{"find_objects", &FindObjectsParams{}, 0},
		{"count_objects", &CountObjectsParams{}, 0},
	}
	for _, tc := range cases {
		if got := len(tc.params.ReferencedIDs()); got != tc.want {
			t.Errorf("%s: %d referenced ids, want %d", tc.name, got, tc.want)
		}
	}
}

// TestCanonicalizeColors tests named-color rewriting on parameter
// records.
func TestCanonicalizeColors(t *testing.T) {
	shape := &CreateShapeParams{Color: "red"}
	shape.CanonicalizeColors()
	if shape.Color != "#e03131" {
		t.Errorf("shape color = %s", shape.Color)
	}

	c := "Blue"
	style := &StyleObjectParams{Color: &c}
	style.CanonicalizeColors()
	if *style.Color != "#1971c2" {
		t.Errorf("style color = %s", *style.Color)
	}

	// Empty and nil colors stay untouched.
	noColor := &CreateShapeParams{}
	noColor.CanonicalizeColors()
	if noColor.Color != "" {
		t.Errorf("empty color should stay empty, got %s", noColor.Color)
	}
}
