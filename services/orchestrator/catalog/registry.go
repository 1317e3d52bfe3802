// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog provides the operation catalog and parameter schema
// registry for the canvas orchestrator.
//
// One embedded YAML document is the single schema source. It is exposed
// in two views that stay in lock-step by construction: tool definitions
// handed to the reasoning service, and the decoder/validation registry
// the tool-call validator runs against. The loader fails closed if the
// YAML and the Go decoder table disagree.
//
// Thread Safety:
//
//	All exported methods are safe for concurrent use. Reloads swap the
//	operation table atomically under a write lock.
package catalog

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianCanvas/services/llm"
	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/datatypes"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxCatalogFileSize is the maximum allowed catalog override size (1MB).
	MaxCatalogFileSize = 1024 * 1024

	// MaxOperationsInCatalog bounds the operation table.
	MaxOperationsInCatalog = 100
)

// =============================================================================
// Embedded Default Catalog
// =============================================================================

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	catalogLoadErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canvas_catalog_load_errors_total",
		Help: "Total operation catalog load errors",
	})

	catalogReloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canvas_catalog_reloads_total",
		Help: "Total successful operation catalog reloads",
	})

	catalogDecodeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canvas_catalog_decode_failures_total",
		Help: "Total parameter decode failures by operation",
	}, []string{"operation"})
)

// =============================================================================
// Types
// =============================================================================

// decodeFunc turns an untyped parameter bag into that operation's typed
// record. It does not validate bounds; Decode does that afterwards.
type decodeFunc func(map[string]any) (datatypes.OperationParams, error)

// OperationSpec is one catalog entry.
type OperationSpec struct {
	Name        string
	Kind        datatypes.OperationKind
	Description string
	InputSchema map[string]any

	decode decodeFunc
}

// catalogFile is the YAML document shape.
type catalogFile struct {
	Version    string `yaml:"version"`
	Operations []struct {
		Name        string         `yaml:"name"`
		Kind        string         `yaml:"kind"`
		Description string         `yaml:"description"`
		InputSchema map[string]any `yaml:"input_schema"`
	} `yaml:"operations"`
}

// Registry is the loaded operation catalog.
type Registry struct {
	mu      sync.RWMutex
	ops     map[string]*OperationSpec
	version string
}

// =============================================================================
// Decoder Table
// =============================================================================

// decoders maps operation names to typed parameter records. This table
// and catalog.yaml are checked against each other at load time; adding an
// operation to one without the other is a startup error.
var decoders = map[string]decodeFunc{
	"create_shape":       decodeAs[datatypes.CreateShapeParams],
	"create_text":        decodeAs[datatypes.CreateTextParams],
	"update_object":      decodeAs[datatypes.UpdateObjectParams],
	"move_object":        decodeAs[datatypes.MoveObjectParams],
	"resize_object":      decodeAs[datatypes.ResizeObjectParams],
	"style_object":       decodeAs[datatypes.StyleObjectParams],
	"rotate_object":      decodeAs[datatypes.RotateObjectParams],
	"delete_object":      decodeAs[datatypes.DeleteObjectParams],
	"align_objects":      decodeAs[datatypes.AlignObjectsParams],
	"distribute_objects": decodeAs[datatypes.DistributeObjectsParams],
	"select_objects":     decodeAs[datatypes.SelectObjectsParams],
	"list_objects":       decodeAs[datatypes.ListObjectsParams],
	"find_objects":       decodeAs[datatypes.FindObjectsParams],
	"count_objects":      decodeAs[datatypes.CountObjectsParams],
}

// decodeAs decodes a parameter bag into a fresh record of type T. Unknown
// fields are rejected so a hallucinated parameter never passes silently.
func decodeAs[T any, PT interface {
	*T
	datatypes.OperationParams
}](params map[string]any) (datatypes.OperationParams, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("parameters are not serializable: %w", err)
	}

	out := PT(new(T))
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// Loading
// =============================================================================

// Load parses the embedded catalog and builds the registry.
func Load() (*Registry, error) {
	r := &Registry{}
	if err := r.loadBytes(defaultCatalogYAML); err != nil {
		catalogLoadErrors.Inc()
		return nil, fmt.Errorf("load embedded catalog: %w", err)
	}
	return r, nil
}

func (r *Registry) loadBytes(data []byte) error {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse catalog YAML: %w", err)
	}
	if file.Version == "" {
		return fmt.Errorf("catalog has no version")
	}
	if len(file.Operations) == 0 || len(file.Operations) > MaxOperationsInCatalog {
		return fmt.Errorf("catalog operation count %d out of range", len(file.Operations))
	}

	ops := make(map[string]*OperationSpec, len(file.Operations))
	for _, entry := range file.Operations {
		if entry.Name == "" {
			return fmt.Errorf("catalog entry with empty name")
		}
		if _, dup := ops[entry.Name]; dup {
			return fmt.Errorf("duplicate catalog entry %q", entry.Name)
		}

		kind := datatypes.OperationKind(entry.Kind)
		if kind != datatypes.KindMutation && kind != datatypes.KindQuery {
			return fmt.Errorf("operation %q has invalid kind %q", entry.Name, entry.Kind)
		}

		decode, ok := decoders[entry.Name]
		if !ok {
			return fmt.Errorf("operation %q has no registered decoder", entry.Name)
		}

		ops[entry.Name] = &OperationSpec{
			Name:        entry.Name,
			Kind:        kind,
			Description: entry.Description,
			InputSchema: entry.InputSchema,
			decode:      decode,
		}
	}

	// Lock-step check in the other direction: a decoder without a catalog
	// entry means the two views have drifted.
	for name := range decoders {
		if _, ok := ops[name]; !ok {
			return fmt.Errorf("decoder %q has no catalog entry", name)
		}
	}

	r.mu.Lock()
	r.ops = ops
	r.version = file.Version
	r.mu.Unlock()

	slog.Info("Operation catalog loaded", "version", file.Version, "operations", len(ops))
	return nil
}

// =============================================================================
// Lookup and Decode
// =============================================================================

// Version returns the catalog version string.
func (r *Registry) Version() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Lookup returns the spec for an operation name.
func (r *Registry) Lookup(name string) (*OperationSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.ops[name]
	return spec, ok
}

// Names returns all operation names in stable order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Decode runs the schema pass for one call: the operation must exist,
// its parameters must decode into the typed record, satisfy declared
// bounds, and have colors resolved to canonical hex.
func (r *Registry) Decode(call datatypes.OperationCall) (datatypes.ValidatedOperation, error) {
	spec, ok := r.Lookup(call.Name)
	if !ok {
		return datatypes.ValidatedOperation{}, fmt.Errorf("unknown operation %q", call.Name)
	}

	params, err := spec.decode(call.Parameters)
	if err != nil {
		catalogDecodeFailures.WithLabelValues(call.Name).Inc()
		return datatypes.ValidatedOperation{}, fmt.Errorf("%s: invalid parameters: %w", call.Name, err)
	}

	if err := datatypes.ValidateParams(params); err != nil {
		catalogDecodeFailures.WithLabelValues(call.Name).Inc()
		return datatypes.ValidatedOperation{}, fmt.Errorf("%s: %w", call.Name, err)
	}

	// update_object with nothing to update is schema-invalid even though
	// every individual field passed.
	if up, ok := params.(*datatypes.UpdateObjectParams); ok && !up.HasChanges() {
		return datatypes.ValidatedOperation{}, fmt.Errorf("%s: no fields to update", call.Name)
	}

	if cc, ok := params.(datatypes.ColorCanonicalizer); ok {
		cc.CanonicalizeColors()
	}

	return datatypes.ValidatedOperation{
		Name:   spec.Name,
		Kind:   spec.Kind,
		Params: params,
	}, nil
}

// ToolDefinitions renders the catalog as reasoning-service tools.
func (r *Registry) ToolDefinitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]llm.ToolDefinition, 0, len(names))
	for _, name := range names {
		spec := r.ops[name]
		defs = append(defs, llm.ToolDefinition{
			Name:        spec.Name,
			Description: spec.Description,
			InputSchema: spec.InputSchema,
		})
	}
	return defs
}

// =============================================================================
// Override Watching
// =============================================================================

// WatchOverride reloads the registry from an override file whenever it
// changes. A broken override is logged and skipped; the previous table
// stays active. Blocks until ctx is done.
func (r *Registry) WatchOverride(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create catalog watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch catalog directory: %w", err)
	}

	// Apply the override immediately if it already exists.
	r.reloadFrom(path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				r.reloadFrom(path)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Catalog watcher error", "error", err)
		}
	}
}

func (r *Registry) reloadFrom(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return // no override present
	}
	if info.Size() > MaxCatalogFileSize {
		catalogLoadErrors.Inc()
		slog.Warn("Catalog override too large, ignoring", "path", path, "size", info.Size())
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		catalogLoadErrors.Inc()
		slog.Warn("Failed to read catalog override", "path", path, "error", err)
		return
	}

	if err := r.loadBytes(data); err != nil {
		catalogLoadErrors.Inc()
		slog.Warn("Catalog override rejected, keeping previous table", "path", path, "error", err)
		return
	}

	catalogReloads.Inc()
	slog.Info("Catalog override applied", "path", path, "version", r.Version())
}
