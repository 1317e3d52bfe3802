// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package executor applies validated operation batches to the document
// store. It is the only writer acting on the reasoning service's
// behalf: every mutation it makes carries the agent author stamp.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianCanvas/services/canvas"
	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("canvas-executor")

var executedOps = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "canvas_executor_operations_total",
	Help: "Executed operations by name and outcome.",
}, []string{"operation", "outcome"})

const (
	// defaultPacing is the delay inserted between consecutive mutations
	// so collaborators see changes appear progressively instead of as
	// one atomic jump.
	defaultPacing = 120 * time.Millisecond

	// textWidthPerPoint approximates rendered glyph width as a fraction
	// of font size when sizing new text objects.
	textWidthPerPoint = 0.6

	defaultFontSize = 16.0
)

// Config tunes one Executor.
type Config struct {
	// Store is the live document store. Required.
	Store canvas.Store

	// Pacing is the inter-mutation delay. Zero selects the default;
	// negative disables pacing.
	Pacing time.Duration

	Logger *slog.Logger

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration)
}

func applyConfigDefaults(cfg *Config) {
	if cfg.Pacing == 0 {
		cfg.Pacing = defaultPacing
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.sleep == nil {
		cfg.sleep = func(ctx context.Context, d time.Duration) {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
			case <-timer.C:
			}
		}
	}
}

// Executor applies operation batches. Safe for concurrent use across
// documents; the per-document queue guarantees at most one batch per
// document at a time.
type Executor struct {
	store  canvas.Store
	pacing time.Duration
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration)
}

// New builds an Executor.
func New(cfg Config) (*Executor, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("executor: Store is required")
	}
	applyConfigDefaults(&cfg)
	return &Executor{
		store:  cfg.Store,
		pacing: cfg.Pacing,
		logger: cfg.Logger,
		sleep:  cfg.sleep,
	}, nil
}

// Execute applies one validated batch in order.
//
// Execution is not transactional: a failing operation is recorded and
// the batch continues, so earlier effects stand. Any multi-operation
// batch that creates an object runs with replication suspended and
// flushes once at the end, so collaborators never see a half-built
// burst (a shape created and restyled in one batch arrives styled).
func (e *Executor) Execute(
	ctx context.Context,
	documentID string,
	ops []datatypes.ValidatedOperation,
) []datatypes.ExecutionResult {
	ctx, span := tracer.Start(ctx, "executor.Execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("document.id", documentID),
		attribute.Int("executor.ops", len(ops)),
	)

	if creations(ops) > 0 && len(ops) > 1 {
		e.store.SuspendReplication(documentID)
		defer func() {
			if err := e.store.ResumeReplication(ctx, documentID); err != nil {
				e.logger.Warn("replication flush failed",
					"document_id", documentID, "error", err)
			}
		}()
	}

	results := make([]datatypes.ExecutionResult, 0, len(ops))
	for i, op := range ops {
		if i > 0 && e.pacing > 0 && !op.IsQuery() {
			e.sleep(ctx, e.pacing)
		}

		result := e.apply(ctx, documentID, op)
		outcome := "ok"
		if !result.Success {
			outcome = "error"
			e.logger.Warn("operation failed",
				"document_id", documentID,
				"operation", op.Name,
				"error", result.Error)
		}
		executedOps.WithLabelValues(op.Name, outcome).Inc()
		results = append(results, result)
	}
	return results
}

func creations(ops []datatypes.ValidatedOperation) int {
	n := 0
	for _, op := range ops {
		switch op.Params.(type) {
		case *datatypes.CreateShapeParams, *datatypes.CreateTextParams:
			n++
		}
	}
	return n
}

func (e *Executor) apply(
	ctx context.Context,
	documentID string,
	op datatypes.ValidatedOperation,
) datatypes.ExecutionResult {
	result := datatypes.ExecutionResult{Name: op.Name}

	var err error
	switch p := op.Params.(type) {
	case *datatypes.CreateShapeParams:
		result.CreatedIDs, err = e.createShape(ctx, documentID, p)
	case *datatypes.CreateTextParams:
		result.CreatedIDs, err = e.createText(ctx, documentID, p)
	case *datatypes.UpdateObjectParams:
		result.ModifiedIDs, err = e.updateObject(ctx, documentID, p)
	case *datatypes.MoveObjectParams:
		err = e.mutate(ctx, documentID, p.ObjectID, datatypes.ObjectPatch{X: &p.X, Y: &p.Y})
		result.ModifiedIDs = modified(err, p.ObjectID)
	case *datatypes.ResizeObjectParams:
		err = e.mutate(ctx, documentID, p.ObjectID, datatypes.ObjectPatch{Width: &p.Width, Height: &p.Height})
		result.ModifiedIDs = modified(err, p.ObjectID)
	case *datatypes.StyleObjectParams:
		err = e.mutate(ctx, documentID, p.ObjectID, datatypes.ObjectPatch{Color: p.Color, Opacity: p.Opacity})
		result.ModifiedIDs = modified(err, p.ObjectID)
	case *datatypes.RotateObjectParams:
		err = e.mutate(ctx, documentID, p.ObjectID, datatypes.ObjectPatch{Rotation: &p.Degrees})
		result.ModifiedIDs = modified(err, p.ObjectID)
	case *datatypes.DeleteObjectParams:
		err = e.store.DeleteObject(ctx, documentID, p.ObjectID)
		result.ModifiedIDs = modified(err, p.ObjectID)
	case *datatypes.AlignObjectsParams:
		result.ModifiedIDs, err = e.alignObjects(ctx, documentID, p)
	case *datatypes.DistributeObjectsParams:
		result.ModifiedIDs, err = e.distributeObjects(ctx, documentID, p)
	case *datatypes.SelectObjectsParams:
		err = e.store.SetSelection(ctx, documentID, p.ObjectIDs)
		if err == nil {
			result.ModifiedIDs = p.ObjectIDs
		}
	case *datatypes.ListObjectsParams:
		result.Output, err = e.listObjects(ctx, documentID, p.ShapeType)
	case *datatypes.FindObjectsParams:
		result.Output, err = e.findObjects(ctx, documentID, p)
	case *datatypes.CountObjectsParams:
		result.Output, err = e.countObjects(ctx, documentID, p.ShapeType)
	default:
		err = fmt.Errorf("no executor for operation %s", op.Name)
	}

	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Success = true
	return result
}

func modified(err error, id string) []string {
	if err != nil {
		return nil
	}
	return []string{id}
}

// ===== Creation =====

func (e *Executor) createShape(ctx context.Context, documentID string, p *datatypes.CreateShapeParams) ([]string, error) {
	obj := datatypes.CanvasObject{
		Type:   p.ShapeType,
		X:      p.X,
		Y:      p.Y,
		Width:  p.Width,
		Height: p.Height,
		Color:  p.Color,
	}
	if p.Opacity != nil {
		obj.Opacity = *p.Opacity
	} else {
		obj.Opacity = 1
	}
	if p.Rotation != nil {
		obj.Rotation = *p.Rotation
	}
	return e.create(ctx, documentID, obj)
}

func (e *Executor) createText(ctx context.Context, documentID string, p *datatypes.CreateTextParams) ([]string, error) {
	size := defaultFontSize
	if p.FontSize != nil {
		size = *p.FontSize
	}
	obj := datatypes.CanvasObject{
		Type:    datatypes.TypeText,
		X:       p.X,
		Y:       p.Y,
		Width:   float64(len(p.Text)) * size * textWidthPerPoint,
		Height:  size,
		Color:   p.Color,
		Opacity: 1,
		Text:    p.Text,
	}
	return e.create(ctx, documentID, obj)
}

func (e *Executor) create(ctx context.Context, documentID string, obj datatypes.CanvasObject) ([]string, error) {
	now := time.Now().UTC()
	obj.Author = datatypes.AgentAuthor
	obj.CreatedAt = now
	obj.EditedAt = now
	id, err := e.store.CreateObject(ctx, documentID, obj)
	if err != nil {
		return nil, err
	}
	return []string{id}, nil
}

// ===== Mutation =====

// mutate stamps authorship onto the patch and applies it.
func (e *Executor) mutate(ctx context.Context, documentID, objectID string, patch datatypes.ObjectPatch) error {
	patch.Author = datatypes.AgentAuthor
	patch.EditedAt = time.Now().UTC()
	return e.store.ApplyMutation(ctx, documentID, objectID, patch)
}

func (e *Executor) updateObject(ctx context.Context, documentID string, p *datatypes.UpdateObjectParams) ([]string, error) {
	patch := datatypes.ObjectPatch{
		X:        p.X,
		Y:        p.Y,
		Width:    p.Width,
		Height:   p.Height,
		Color:    p.Color,
		Opacity:  p.Opacity,
		Text:     p.Text,
		Rotation: p.Rotation,
	}
	if err := e.mutate(ctx, documentID, p.ObjectID, patch); err != nil {
		return nil, err
	}
	return []string{p.ObjectID}, nil
}

// ===== Geometry =====

func (e *Executor) alignObjects(ctx context.Context, documentID string, p *datatypes.AlignObjectsParams) ([]string, error) {
	objects, err := e.lookup(ctx, documentID, p.ObjectIDs)
	if err != nil {
		return nil, err
	}

	// Alignment target is derived from the group's bounding box.
	minX, minY := objects[0].X, objects[0].Y
	maxX := objects[0].X + objects[0].Width
	maxY := objects[0].Y + objects[0].Height
	for _, obj := range objects[1:] {
		minX = min(minX, obj.X)
		minY = min(minY, obj.Y)
		maxX = max(maxX, obj.X+obj.Width)
		maxY = max(maxY, obj.Y+obj.Height)
	}

	var modified []string
	for _, obj := range objects {
		patch := datatypes.ObjectPatch{}
		switch p.Alignment {
		case "left":
			x := minX
			patch.X = &x
		case "right":
			x := maxX - obj.Width
			patch.X = &x
		case "top":
			y := minY
			patch.Y = &y
		case "bottom":
			y := maxY - obj.Height
			patch.Y = &y
		case "center_horizontal":
			x := minX + (maxX-minX-obj.Width)/2
			patch.X = &x
		case "center_vertical":
			y := minY + (maxY-minY-obj.Height)/2
			patch.Y = &y
		}
		if err := e.mutate(ctx, documentID, obj.ID, patch); err != nil {
			return modified, err
		}
		modified = append(modified, obj.ID)
	}
	return modified, nil
}

func (e *Executor) distributeObjects(ctx context.Context, documentID string, p *datatypes.DistributeObjectsParams) ([]string, error) {
	objects, err := e.lookup(ctx, documentID, p.ObjectIDs)
	if err != nil {
		return nil, err
	}

	horizontal := p.Direction == "horizontal"
	sort.Slice(objects, func(i, j int) bool {
		if horizontal {
			return objects[i].X < objects[j].X
		}
		return objects[i].Y < objects[j].Y
	})

	// First and last stay fixed; interior objects get even gaps between
	// neighbouring edges.
	first, last := objects[0], objects[len(objects)-1]
	var span, occupied float64
	if horizontal {
		span = (last.X + last.Width) - first.X
	} else {
		span = (last.Y + last.Height) - first.Y
	}
	for _, obj := range objects {
		if horizontal {
			occupied += obj.Width
		} else {
			occupied += obj.Height
		}
	}
	gap := (span - occupied) / float64(len(objects)-1)

	var modified []string
	cursor := 0.0
	if horizontal {
		cursor = first.X
	} else {
		cursor = first.Y
	}
	for i, obj := range objects {
		if i > 0 && i < len(objects)-1 {
			patch := datatypes.ObjectPatch{}
			pos := cursor
			if horizontal {
				patch.X = &pos
			} else {
				patch.Y = &pos
			}
			if err := e.mutate(ctx, documentID, obj.ID, patch); err != nil {
				return modified, err
			}
			modified = append(modified, obj.ID)
		}
		if horizontal {
			cursor += obj.Width + gap
		} else {
			cursor += obj.Height + gap
		}
	}
	return modified, nil
}

func (e *Executor) lookup(ctx context.Context, documentID string, ids []string) ([]datatypes.CanvasObject, error) {
	snapshot, err := e.store.ReadSnapshot(ctx, documentID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]datatypes.CanvasObject, len(snapshot.Objects))
	for _, obj := range snapshot.Objects {
		byID[obj.ID] = obj
	}
	objects := make([]datatypes.CanvasObject, 0, len(ids))
	for _, id := range ids {
		obj, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("object %s disappeared during execution", id)
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

// ===== Queries =====

// QueryResult is the structured output of a read-only operation,
// rendered back into the next reasoning prompt by the loop.
type QueryResult struct {
	Count   int                      `json:"count"`
	Objects []datatypes.CanvasObject `json:"objects,omitempty"`
}

func (e *Executor) listObjects(ctx context.Context, documentID string, shapeType *string) (*QueryResult, error) {
	snapshot, err := e.store.ReadSnapshot(ctx, documentID)
	if err != nil {
		return nil, err
	}
	result := &QueryResult{}
	for _, obj := range snapshot.Objects {
		if shapeType != nil && obj.Type != *shapeType {
			continue
		}
		result.Objects = append(result.Objects, obj)
	}
	result.Count = len(result.Objects)
	return result, nil
}

func (e *Executor) findObjects(ctx context.Context, documentID string, p *datatypes.FindObjectsParams) (*QueryResult, error) {
	snapshot, err := e.store.ReadSnapshot(ctx, documentID)
	if err != nil {
		return nil, err
	}
	result := &QueryResult{}
	for _, obj := range snapshot.Objects {
		if p.ShapeType != nil && obj.Type != *p.ShapeType {
			continue
		}
		if p.Color != nil && !strings.EqualFold(obj.Color, *p.Color) {
			continue
		}
		if p.TextContains != nil &&
			!strings.Contains(strings.ToLower(obj.Text), strings.ToLower(*p.TextContains)) {
			continue
		}
		result.Objects = append(result.Objects, obj)
	}
	result.Count = len(result.Objects)
	return result, nil
}

func (e *Executor) countObjects(ctx context.Context, documentID string, shapeType *string) (*QueryResult, error) {
	snapshot, err := e.store.ReadSnapshot(ctx, documentID)
	if err != nil {
		return nil, err
	}
	result := &QueryResult{}
	for _, obj := range snapshot.Objects {
		if shapeType != nil && obj.Type != *shapeType {
			continue
		}
		result.Count++
	}
	return result, nil
}
