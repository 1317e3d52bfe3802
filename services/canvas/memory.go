// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package canvas

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/datatypes"
)

// MemoryStore is the in-memory live document model.
//
// # Thread Safety
//
// Each document carries its own RWMutex. The queue's single-processing
// invariant means at most one writer per document from this subsystem;
// the lock protects readers (summarizer, validator, websocket feed)
// against torn reads.
type MemoryStore struct {
	mu         sync.RWMutex
	documents  map[string]*document
	replicator Replicator
}

type document struct {
	mu sync.RWMutex

	id           string
	width        float64
	height       float64
	objects      map[string]datatypes.CanvasObject
	order        []string // creation order, for stable snapshots
	selection    []string
	replicaHalts int // >0 while replication is suspended
}

// NewMemoryStore creates a store. A nil replicator disables outward sync.
func NewMemoryStore(replicator Replicator) *MemoryStore {
	if replicator == nil {
		replicator = NopReplicator{}
	}
	return &MemoryStore{
		documents:  make(map[string]*document),
		replicator: replicator,
	}
}

func (s *MemoryStore) get(documentID string) (*document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[documentID]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

// CreateDocument implements Store.
func (s *MemoryStore) CreateDocument(ctx context.Context, width, height float64) (string, error) {
	doc := &document{
		id:      uuid.NewString(),
		width:   width,
		height:  height,
		objects: make(map[string]datatypes.CanvasObject),
	}

	s.mu.Lock()
	s.documents[doc.id] = doc
	s.mu.Unlock()

	return doc.id, nil
}

// RestoreDocument installs a previously persisted document, keeping its
// id. Used at startup when a persistence backend is configured.
func (s *MemoryStore) RestoreDocument(snapshot *datatypes.DocumentSnapshot) {
	doc := &document{
		id:        snapshot.DocumentID,
		width:     snapshot.CanvasWidth,
		height:    snapshot.CanvasHeight,
		objects:   make(map[string]datatypes.CanvasObject, len(snapshot.Objects)),
		selection: append([]string(nil), snapshot.SelectedIDs...),
	}
	for _, obj := range snapshot.Objects {
		doc.objects[obj.ID] = obj
		doc.order = append(doc.order, obj.ID)
	}

	s.mu.Lock()
	s.documents[doc.id] = doc
	s.mu.Unlock()
}

// DocumentExists implements Store.
func (s *MemoryStore) DocumentExists(ctx context.Context, documentID string) bool {
	_, err := s.get(documentID)
	return err == nil
}

// ReadSnapshot implements Store.
func (s *MemoryStore) ReadSnapshot(ctx context.Context, documentID string) (*datatypes.DocumentSnapshot, error) {
	doc, err := s.get(documentID)
	if err != nil {
		return nil, err
	}

	doc.mu.RLock()
	defer doc.mu.RUnlock()
	return doc.snapshotLocked(), nil
}

// snapshotLocked copies document state. Caller holds at least a read lock.
func (d *document) snapshotLocked() *datatypes.DocumentSnapshot {
	snap := &datatypes.DocumentSnapshot{
		DocumentID:   d.id,
		CanvasWidth:  d.width,
		CanvasHeight: d.height,
		Objects:      make([]datatypes.CanvasObject, 0, len(d.objects)),
		SelectedIDs:  append([]string(nil), d.selection...),
		TakenAt:      time.Now(),
	}
	for _, id := range d.order {
		if obj, ok := d.objects[id]; ok {
			snap.Objects = append(snap.Objects, obj)
		}
	}
	return snap
}

// LiveObjectIDs implements Store.
func (s *MemoryStore) LiveObjectIDs(ctx context.Context, documentID string) (map[string]struct{}, error) {
	doc, err := s.get(documentID)
	if err != nil {
		return nil, err
	}

	doc.mu.RLock()
	defer doc.mu.RUnlock()
	ids := make(map[string]struct{}, len(doc.objects))
	for id := range doc.objects {
		ids[id] = struct{}{}
	}
	return ids, nil
}

// CreateObject implements Store.
func (s *MemoryStore) CreateObject(ctx context.Context, documentID string, obj datatypes.CanvasObject) (string, error) {
	doc, err := s.get(documentID)
	if err != nil {
		return "", err
	}

	doc.mu.Lock()
	if obj.ID == "" {
		obj.ID = uuid.NewString()
	}
	doc.objects[obj.ID] = obj
	doc.order = append(doc.order, obj.ID)
	doc.mu.Unlock()

	s.replicate(ctx, doc)
	return obj.ID, nil
}

// ApplyMutation implements Store.
func (s *MemoryStore) ApplyMutation(ctx context.Context, documentID, objectID string, patch datatypes.ObjectPatch) error {
	doc, err := s.get(documentID)
	if err != nil {
		return err
	}

	doc.mu.Lock()
	obj, ok := doc.objects[objectID]
	if !ok {
		doc.mu.Unlock()
		return ErrObjectNotFound
	}
	applyPatch(&obj, patch)
	doc.objects[objectID] = obj
	doc.mu.Unlock()

	s.replicate(ctx, doc)
	return nil
}

func applyPatch(obj *datatypes.CanvasObject, patch datatypes.ObjectPatch) {
	if patch.X != nil {
		obj.X = *patch.X
	}
	if patch.Y != nil {
		obj.Y = *patch.Y
	}
	if patch.Width != nil {
		obj.Width = *patch.Width
	}
	if patch.Height != nil {
		obj.Height = *patch.Height
	}
	if patch.Color != nil {
		obj.Color = *patch.Color
	}
	if patch.Opacity != nil {
		obj.Opacity = *patch.Opacity
	}
	if patch.Text != nil {
		obj.Text = *patch.Text
	}
	if patch.Rotation != nil {
		obj.Rotation = *patch.Rotation
	}
	if patch.Author != "" {
		obj.Author = patch.Author
	}
	if !patch.EditedAt.IsZero() {
		obj.EditedAt = patch.EditedAt
	}
}

// DeleteObject implements Store.
func (s *MemoryStore) DeleteObject(ctx context.Context, documentID, objectID string) error {
	doc, err := s.get(documentID)
	if err != nil {
		return err
	}

	doc.mu.Lock()
	if _, ok := doc.objects[objectID]; !ok {
		doc.mu.Unlock()
		return ErrObjectNotFound
	}
	delete(doc.objects, objectID)
	// Drop from the selection as well; a deleted object is never selected.
	kept := doc.selection[:0]
	for _, id := range doc.selection {
		if id != objectID {
			kept = append(kept, id)
		}
	}
	doc.selection = kept
	doc.mu.Unlock()

	s.replicate(ctx, doc)
	return nil
}

// SetSelection implements Store.
func (s *MemoryStore) SetSelection(ctx context.Context, documentID string, objectIDs []string) error {
	doc, err := s.get(documentID)
	if err != nil {
		return err
	}

	doc.mu.Lock()
	doc.selection = append([]string(nil), objectIDs...)
	doc.mu.Unlock()

	s.replicate(ctx, doc)
	return nil
}

// SuspendReplication implements Store.
func (s *MemoryStore) SuspendReplication(documentID string) {
	doc, err := s.get(documentID)
	if err != nil {
		return
	}
	doc.mu.Lock()
	doc.replicaHalts++
	doc.mu.Unlock()
}

// ResumeReplication implements Store. Performs one consolidated write of
// the document's final state once the last suspension is lifted.
func (s *MemoryStore) ResumeReplication(ctx context.Context, documentID string) error {
	doc, err := s.get(documentID)
	if err != nil {
		return err
	}

	doc.mu.Lock()
	if doc.replicaHalts > 0 {
		doc.replicaHalts--
	}
	halted := doc.replicaHalts > 0
	snap := doc.snapshotLocked()
	doc.mu.Unlock()

	if halted {
		return nil
	}
	if err := s.replicator.Replicate(ctx, snap); err != nil {
		slog.Warn("Consolidated replication write failed", "document_id", documentID, "error", err)
		return err
	}
	return nil
}

// replicate pushes document state outward unless suspended.
func (s *MemoryStore) replicate(ctx context.Context, doc *document) {
	doc.mu.RLock()
	halted := doc.replicaHalts > 0
	var snap *datatypes.DocumentSnapshot
	if !halted {
		snap = doc.snapshotLocked()
	}
	doc.mu.RUnlock()

	if halted {
		return
	}
	if err := s.replicator.Replicate(ctx, snap); err != nil {
		slog.Warn("Replication write failed", "document_id", doc.id, "error", err)
	}
}

var _ Store = (*MemoryStore)(nil)
