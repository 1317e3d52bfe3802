// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Operation call types. Calls arrive from the reasoning service as untyped
// name/parameter bags and are never treated as generic maps past the
// validator boundary: each operation name maps to its own strongly-typed,
// bounds-checked parameter record (a tagged union keyed by name).
package datatypes

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Bounds
// =============================================================================

const (
	// MinCoordinate and MaxCoordinate bound all positions on the canvas.
	MinCoordinate = -10000.0
	MaxCoordinate = 10000.0

	// MinDimension and MaxDimension bound widths, heights and font sizes.
	MinDimension = 1.0
	MaxDimension = 5000.0
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// opValidate is the validator instance for operation parameter records.
// Initialized in init() with custom validators.
var opValidate *validator.Validate

func init() {
	opValidate = validator.New()

	// Register custom validator for color fields (hex or named color).
	_ = opValidate.RegisterValidation("colorvalue", validateColorValue)
}

// ValidateParams runs struct validation on a decoded parameter record.
func ValidateParams(p OperationParams) error {
	return opValidate.Struct(p)
}

// =============================================================================
// Colors
// =============================================================================

// namedColors is the fixed color table. Any color parameter must be a hex
// value or resolve through this table; resolution happens in the schema
// pass so the executor only ever sees canonical hex.
var namedColors = map[string]string{
	"red":     "#e03131",
	"orange":  "#f76707",
	"yellow":  "#fcc419",
	"green":   "#2f9e44",
	"teal":    "#12b886",
	"cyan":    "#15aabf",
	"blue":    "#1971c2",
	"purple":  "#9c36b5",
	"violet":  "#7048e8",
	"pink":    "#e64980",
	"brown":   "#a87b5d",
	"black":   "#000000",
	"white":   "#ffffff",
	"gray":    "#868e96",
	"grey":    "#868e96",
	"magenta": "#cc5de8",
}

var hexColorPattern = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// ResolveColor canonicalizes a color parameter to lowercase hex. The second
// return is false when the value is neither hex nor a known name.
func ResolveColor(value string) (string, bool) {
	if hexColorPattern.MatchString(value) {
		return strings.ToLower(value), true
	}
	if hex, ok := namedColors[strings.ToLower(strings.TrimSpace(value))]; ok {
		return hex, true
	}
	return "", false
}

// validateColorValue is the "colorvalue" custom validator.
func validateColorValue(fl validator.FieldLevel) bool {
	_, ok := ResolveColor(fl.Field().String())
	return ok
}

// =============================================================================
// Operation Calls
// =============================================================================

// OperationKind distinguishes mutations from read-only queries. Query
// results are folded back into the next reasoning iteration instead of
// ending the command.
type OperationKind string

const (
	KindMutation OperationKind = "mutation"
	KindQuery    OperationKind = "query"
)

// OperationCall is one raw call returned by the reasoning service,
// untyped until validated.
type OperationCall struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
}

// OperationParams is the tagged union of typed parameter records. The
// concrete type is selected by operation name during the schema pass.
type OperationParams interface {
	// ReferencedIDs returns every object id the parameters point at, for
	// the reference pass against the live id set.
	ReferencedIDs() []string
}

// ValidatedOperation is an operation call that passed both validation
// passes. Invalid calls never become one.
type ValidatedOperation struct {
	Name   string
	Kind   OperationKind
	Params OperationParams
}

// IsQuery reports whether the operation only reads document state.
func (v ValidatedOperation) IsQuery() bool { return v.Kind == KindQuery }

// ExecutionResult is the per-operation outcome of one executor batch.
// Failures are partial: a failed operation is recorded without unwinding
// prior operations in the same batch.
type ExecutionResult struct {
	Name        string   `json:"name"`
	Success     bool     `json:"success"`
	CreatedIDs  []string `json:"createdIds,omitempty"`
	ModifiedIDs []string `json:"modifiedIds,omitempty"`
	Error       string   `json:"error,omitempty"`

	// Output carries query results back to the orchestration loop.
	Output any `json:"output,omitempty"`
}

// ColorCanonicalizer is implemented by parameter records carrying color
// fields. The schema pass calls it after bounds validation so the
// executor only ever sees canonical lowercase hex.
type ColorCanonicalizer interface {
	CanonicalizeColors()
}

// =============================================================================
// Parameter Records
// =============================================================================

// CreateShapeParams creates a new shape object.
type CreateShapeParams struct {
	ShapeType string   `json:"shapeType" validate:"required,oneof=rectangle ellipse line arrow freehand"`
	X         float64  `json:"x" validate:"gte=-10000,lte=10000"`
	Y         float64  `json:"y" validate:"gte=-10000,lte=10000"`
	Width     float64  `json:"width" validate:"required,gte=1,lte=5000"`
	Height    float64  `json:"height" validate:"required,gte=1,lte=5000"`
	Color     string   `json:"color" validate:"omitempty,colorvalue"`
	Opacity   *float64 `json:"opacity" validate:"omitempty,gte=0,lte=1"`
	Rotation  *float64 `json:"rotation" validate:"omitempty,gte=-360,lte=360"`
}

func (p *CreateShapeParams) ReferencedIDs() []string { return nil }

// CreateTextParams creates a new text object.
type CreateTextParams struct {
	Text     string   `json:"text" validate:"required"`
	X        float64  `json:"x" validate:"gte=-10000,lte=10000"`
	Y        float64  `json:"y" validate:"gte=-10000,lte=10000"`
	FontSize *float64 `json:"fontSize" validate:"omitempty,gte=1,lte=5000"`
	Color    string   `json:"color" validate:"omitempty,colorvalue"`
}

func (p *CreateTextParams) ReferencedIDs() []string { return nil }

// UpdateObjectParams applies a partial update to one object. At least one
// optional field must be set; the schema pass enforces that.
type UpdateObjectParams struct {
	ObjectID string   `json:"objectId" validate:"required"`
	X        *float64 `json:"x" validate:"omitempty,gte=-10000,lte=10000"`
	Y        *float64 `json:"y" validate:"omitempty,gte=-10000,lte=10000"`
	Width    *float64 `json:"width" validate:"omitempty,gte=1,lte=5000"`
	Height   *float64 `json:"height" validate:"omitempty,gte=1,lte=5000"`
	Color    *string  `json:"color" validate:"omitempty,colorvalue"`
	Opacity  *float64 `json:"opacity" validate:"omitempty,gte=0,lte=1"`
	Text     *string  `json:"text"`
	Rotation *float64 `json:"rotation" validate:"omitempty,gte=-360,lte=360"`
}

func (p *UpdateObjectParams) ReferencedIDs() []string { return []string{p.ObjectID} }

// HasChanges reports whether any updatable field is present.
func (p *UpdateObjectParams) HasChanges() bool {
	return p.X != nil || p.Y != nil || p.Width != nil || p.Height != nil ||
		p.Color != nil || p.Opacity != nil || p.Text != nil || p.Rotation != nil
}

// MoveObjectParams moves one object to an absolute position.
type MoveObjectParams struct {
	ObjectID string  `json:"objectId" validate:"required"`
	X        float64 `json:"x" validate:"gte=-10000,lte=10000"`
	Y        float64 `json:"y" validate:"gte=-10000,lte=10000"`
}

func (p *MoveObjectParams) ReferencedIDs() []string { return []string{p.ObjectID} }

// ResizeObjectParams resizes one object.
type ResizeObjectParams struct {
	ObjectID string  `json:"objectId" validate:"required"`
	Width    float64 `json:"width" validate:"required,gte=1,lte=5000"`
	Height   float64 `json:"height" validate:"required,gte=1,lte=5000"`
}

func (p *ResizeObjectParams) ReferencedIDs() []string { return []string{p.ObjectID} }

// StyleObjectParams restyles one object.
type StyleObjectParams struct {
	ObjectID string   `json:"objectId" validate:"required"`
	Color    *string  `json:"color" validate:"omitempty,colorvalue"`
	Opacity  *float64 `json:"opacity" validate:"omitempty,gte=0,lte=1"`
}

func (p *StyleObjectParams) ReferencedIDs() []string { return []string{p.ObjectID} }

// RotateObjectParams rotates one object.
type RotateObjectParams struct {
	ObjectID string  `json:"objectId" validate:"required"`
	Degrees  float64 `json:"degrees" validate:"gte=-360,lte=360"`
}

func (p *RotateObjectParams) ReferencedIDs() []string { return []string{p.ObjectID} }

// DeleteObjectParams deletes one object.
type DeleteObjectParams struct {
	ObjectID string `json:"objectId" validate:"required"`
}

func (p *DeleteObjectParams) ReferencedIDs() []string { return []string{p.ObjectID} }

// AlignObjectsParams aligns two or more objects along an edge or center.
type AlignObjectsParams struct {
	ObjectIDs []string `json:"objectIds" validate:"required,min=2,dive,required"`
	Alignment string   `json:"alignment" validate:"required,oneof=left right top bottom center_horizontal center_vertical"`
}

func (p *AlignObjectsParams) ReferencedIDs() []string { return p.ObjectIDs }

// DistributeObjectsParams spaces three or more objects evenly.
type DistributeObjectsParams struct {
	ObjectIDs []string `json:"objectIds" validate:"required,min=3,dive,required"`
	Direction string   `json:"direction" validate:"required,oneof=horizontal vertical"`
}

func (p *DistributeObjectsParams) ReferencedIDs() []string { return p.ObjectIDs }

// SelectObjectsParams replaces the current selection.
type SelectObjectsParams struct {
	ObjectIDs []string `json:"objectIds" validate:"required,min=1,dive,required"`
}

func (p *SelectObjectsParams) ReferencedIDs() []string { return p.ObjectIDs }

// ListObjectsParams lists objects, optionally filtered by type.
type ListObjectsParams struct {
	ShapeType *string `json:"shapeType" validate:"omitempty,oneof=rectangle ellipse line arrow text freehand"`
}

func (p *ListObjectsParams) ReferencedIDs() []string { return nil }

// FindObjectsParams searches objects by attribute.
type FindObjectsParams struct {
	ShapeType    *string `json:"shapeType" validate:"omitempty,oneof=rectangle ellipse line arrow text freehand"`
	Color        *string `json:"color" validate:"omitempty,colorvalue"`
	TextContains *string `json:"textContains"`
}

func (p *FindObjectsParams) ReferencedIDs() []string { return nil }

// CountObjectsParams counts objects, optionally filtered by type.
type CountObjectsParams struct {
	ShapeType *string `json:"shapeType" validate:"omitempty,oneof=rectangle ellipse line arrow text freehand"`
}

func (p *CountObjectsParams) ReferencedIDs() []string { return nil }

// =============================================================================
// Color Canonicalization
// =============================================================================

func canonColor(value string) string {
	if hex, ok := ResolveColor(value); ok {
		return hex
	}
	return value
}

func (p *CreateShapeParams) CanonicalizeColors() {
	if p.Color != "" {
		p.Color = canonColor(p.Color)
	}
}

func (p *CreateTextParams) CanonicalizeColors() {
	if p.Color != "" {
		p.Color = canonColor(p.Color)
	}
}

func (p *UpdateObjectParams) CanonicalizeColors() {
	if p.Color != nil {
		c := canonColor(*p.Color)
		p.Color = &c
	}
}

func (p *StyleObjectParams) CanonicalizeColors() {
	if p.Color != nil {
		c := canonColor(*p.Color)
		p.Color = &c
	}
}

func (p *FindObjectsParams) CanonicalizeColors() {
	if p.Color != nil {
		c := canonColor(*p.Color)
		p.Color = &c
	}
}
