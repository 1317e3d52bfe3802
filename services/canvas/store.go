// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package canvas provides the live document store the orchestrator
// mutates. The store is the collaborator boundary from the core's point
// of view: single-writer per document (the executor), multi-reader
// (summarizer, validator). Outward replication is pluggable and can be
// suspended during multi-operation bursts so collaborators never see a
// half-styled object.
package canvas

import (
	"context"
	"errors"

	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/datatypes"
)

var (
	// ErrDocumentNotFound is returned for unknown document ids.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrObjectNotFound is returned when a mutation references an object
	// that no longer exists. The executor records this per-operation and
	// continues the batch.
	ErrObjectNotFound = errors.New("object not found")
)

// Store is the document store contract. The core never assumes
// synchronous consistency between a snapshot read and a later mutation;
// reference checks run against LiveObjectIDs, not the snapshot.
type Store interface {
	// CreateDocument creates an empty document and returns its id.
	CreateDocument(ctx context.Context, width, height float64) (string, error)

	// DocumentExists reports whether the document id is known.
	DocumentExists(ctx context.Context, documentID string) bool

	// ReadSnapshot returns an immutable point-in-time copy of the document.
	ReadSnapshot(ctx context.Context, documentID string) (*datatypes.DocumentSnapshot, error)

	// LiveObjectIDs returns the current object id set.
	LiveObjectIDs(ctx context.Context, documentID string) (map[string]struct{}, error)

	// CreateObject adds an object and returns its id. A blank object id
	// is filled in by the store.
	CreateObject(ctx context.Context, documentID string, obj datatypes.CanvasObject) (string, error)

	// ApplyMutation patches one object, last-write-wins.
	ApplyMutation(ctx context.Context, documentID, objectID string, patch datatypes.ObjectPatch) error

	// DeleteObject removes one object.
	DeleteObject(ctx context.Context, documentID, objectID string) error

	// SetSelection replaces the document's current selection.
	SetSelection(ctx context.Context, documentID string, objectIDs []string) error

	// SuspendReplication pauses outward sync for one document.
	SuspendReplication(documentID string)

	// ResumeReplication re-enables outward sync and performs one
	// consolidated write of the document's final state.
	ResumeReplication(ctx context.Context, documentID string) error
}

// Replicator receives outward document state writes. The host document
// store applies them with last-write-wins semantics; failures here are
// logged, not surfaced to the command.
type Replicator interface {
	Replicate(ctx context.Context, snapshot *datatypes.DocumentSnapshot) error
}

// NopReplicator discards all replication writes. Used when no
// persistence backend is configured.
type NopReplicator struct{}

func (NopReplicator) Replicate(context.Context, *datatypes.DocumentSnapshot) error { return nil }
