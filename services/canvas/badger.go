// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// BadgerDB-backed replication target. Consolidated document writes land
// here, keyed by document id, so canvas state survives restarts. This is
// the outward "host document store" in development deployments; the
// production host store speaks the same Replicator contract over RPC.
package canvas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/datatypes"
)

const documentKeyPrefix = "doc:"

// BadgerConfig holds configuration for the Badger persistence backend.
type BadgerConfig struct {
	// Path is the directory for BadgerDB files. Required unless InMemory.
	Path string

	// InMemory enables in-memory mode (no disk persistence). For testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging. Nil disables it.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns production defaults: durable writes at the
// given path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerReplicator persists consolidated document snapshots to BadgerDB.
//
// Thread Safety: safe for concurrent use; BadgerDB transactions provide
// isolation per write.
type BadgerReplicator struct {
	db *badger.DB
}

// OpenBadgerReplicator opens (or creates) the database.
func OpenBadgerReplicator(cfg BadgerConfig) (*BadgerReplicator, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil) // Disable BadgerDB's internal logging
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	return &BadgerReplicator{db: db}, nil
}

// Replicate implements Replicator.
func (r *BadgerReplicator) Replicate(ctx context.Context, snapshot *datatypes.DocumentSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal document %s: %w", snapshot.DocumentID, err)
	}

	key := []byte(documentKeyPrefix + snapshot.DocumentID)
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, payload)
	})
}

// LoadAll returns every persisted document snapshot, for restoring the
// in-memory store at startup.
func (r *BadgerReplicator) LoadAll(ctx context.Context) ([]*datatypes.DocumentSnapshot, error) {
	var snapshots []*datatypes.DocumentSnapshot

	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(documentKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var snap datatypes.DocumentSnapshot
				if err := json.Unmarshal(val, &snap); err != nil {
					key := strings.TrimPrefix(string(item.Key()), documentKeyPrefix)
					slog.Warn("Skipping corrupt persisted document", "document_id", key, "error", err)
					return nil
				}
				snapshots = append(snapshots, &snap)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Loaded persisted documents", "count", len(snapshots))
	return snapshots, nil
}

// Close flushes and closes the database.
func (r *BadgerReplicator) Close() error {
	start := time.Now()
	err := r.db.Close()
	slog.Debug("Closed badger database", "elapsed", time.Since(start).String())
	return err
}

var _ Replicator = (*BadgerReplicator)(nil)
