// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/datatypes"
)

// runnerFunc adapts a function to CommandRunner.
type runnerFunc func(ctx context.Context, cmd *datatypes.Command) datatypes.CommandStatus

func (f runnerFunc) Run(ctx context.Context, cmd *datatypes.Command) datatypes.CommandStatus {
	return f(ctx, cmd)
}

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

// TestManager_RunsCommandToCompletion tests the basic enqueue-run-wait
// path.
func TestManager_RunsCommandToCompletion(t *testing.T) {
	m := newTestManager(t, Config{
		Runner: runnerFunc(func(ctx context.Context, cmd *datatypes.Command) datatypes.CommandStatus {
			cmd.AssistantText = "done"
			return datatypes.StatusCompleted
		}),
	})

	cmd := datatypes.NewCommand("doc-1", "user-1", "draw a box")
	if err := m.Enqueue(cmd); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	final, err := m.Wait(ctx, cmd.ID)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if final.Status != datatypes.StatusCompleted {
		t.Errorf("expected completed, got %s", final.Status)
	}
	if final.AssistantText != "done" {
		t.Errorf("runner result not carried: %q", final.AssistantText)
	}
}

// TestManager_CapacityLimit tests that a sixth pending command for one
// document is refused.
func TestManager_CapacityLimit(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once

	m := newTestManager(t, Config{
		Capacity: 5,
		Runner: runnerFunc(func(ctx context.Context, cmd *datatypes.Command) datatypes.CommandStatus {
			once.Do(func() { close(started) })
			<-block
			return datatypes.StatusCompleted
		}),
	})

	// First command occupies the worker.
	if err := m.Enqueue(datatypes.NewCommand("doc-1", "u", "first")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	<-started

	for i := 0; i < 5; i++ {
		if err := m.Enqueue(datatypes.NewCommand("doc-1", "u", "queued")); err != nil {
			t.Fatalf("pending slot %d refused: %v", i, err)
		}
	}

	err := m.Enqueue(datatypes.NewCommand("doc-1", "u", "one too many"))
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}

	// Another document is not affected by doc-1's full window.
	if err := m.Enqueue(datatypes.NewCommand("doc-2", "u", "other doc")); err != nil {
		t.Errorf("unrelated document rejected: %v", err)
	}

	close(block)
}

// TestManager_PendingTimeout tests that a command waiting past the
// window expires without executing.
func TestManager_PendingTimeout(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	var ran atomic.Int32

	m := newTestManager(t, Config{
		PendingTimeout: 30 * time.Millisecond,
		Runner: runnerFunc(func(ctx context.Context, cmd *datatypes.Command) datatypes.CommandStatus {
			ran.Add(1)
			once.Do(func() { close(started) })
			<-block
			return datatypes.StatusCompleted
		}),
	})

	blocker := datatypes.NewCommand("doc-1", "u", "blocker")
	if err := m.Enqueue(blocker); err != nil {
		t.Fatal(err)
	}
	<-started

	waiter := datatypes.NewCommand("doc-1", "u", "waiter")
	if err := m.Enqueue(waiter); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	final, err := m.Wait(ctx, waiter.ID)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if final.Status != datatypes.StatusTimedOut {
		t.Errorf("expected timed_out, got %s", final.Status)
	}
	if final.ErrorKind != datatypes.ErrKindTimeout {
		t.Errorf("expected timeout error kind, got %s", final.ErrorKind)
	}

	close(block)
	if got := ran.Load(); got != 1 {
		t.Errorf("expired command must never execute; runner ran %d times", got)
	}
}

// TestManager_SerializesPerDocument tests that one document never has
// two commands processing at once.
func TestManager_SerializesPerDocument(t *testing.T) {
	var active, maxActive atomic.Int32

	m := newTestManager(t, Config{
		Runner: runnerFunc(func(ctx context.Context, cmd *datatypes.Command) datatypes.CommandStatus {
			now := active.Add(1)
			for {
				prev := maxActive.Load()
				if now <= prev || maxActive.CompareAndSwap(prev, now) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			active.Add(-1)
			return datatypes.StatusCompleted
		}),
	})

	var cmds []*datatypes.Command
	for i := 0; i < 4; i++ {
		cmd := datatypes.NewCommand("doc-1", "u", "serial")
		cmds = append(cmds, cmd)
		if err := m.Enqueue(cmd); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, cmd := range cmds {
		if _, err := m.Wait(ctx, cmd.ID); err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
	}

	if maxActive.Load() != 1 {
		t.Errorf("document worker overlap: max concurrency %d", maxActive.Load())
	}
}

// TestManager_Cancel tests the cancellation rules: pending only, and
// only by the originator.
func TestManager_Cancel(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once

	m := newTestManager(t, Config{
		Runner: runnerFunc(func(ctx context.Context, cmd *datatypes.Command) datatypes.CommandStatus {
			once.Do(func() { close(started) })
			<-block
			return datatypes.StatusCompleted
		}),
	})

	processing := datatypes.NewCommand("doc-1", "alice", "processing")
	if err := m.Enqueue(processing); err != nil {
		t.Fatal(err)
	}
	<-started

	pending := datatypes.NewCommand("doc-1", "alice", "pending")
	if err := m.Enqueue(pending); err != nil {
		t.Fatal(err)
	}

	t.Run("wrong user", func(t *testing.T) {
		if err := m.Cancel(pending.ID, "mallory"); !errors.Is(err, ErrNotCancellable) {
			t.Errorf("expected ErrNotCancellable, got %v", err)
		}
	})

	t.Run("processing command", func(t *testing.T) {
		if err := m.Cancel(processing.ID, "alice"); !errors.Is(err, ErrNotCancellable) {
			t.Errorf("processing commands must not be cancellable, got %v", err)
		}
	})

	t.Run("unknown command", func(t *testing.T) {
		if err := m.Cancel("nope", "alice"); !errors.Is(err, ErrCommandNotFound) {
			t.Errorf("expected ErrCommandNotFound, got %v", err)
		}
	})

	t.Run("originator cancels pending", func(t *testing.T) {
		if err := m.Cancel(pending.ID, "alice"); err != nil {
			t.Fatalf("Cancel failed: %v", err)
		}
		got, ok := m.Get(pending.ID)
		if !ok || got.Status != datatypes.StatusCancelled {
			t.Errorf("expected cancelled, got %v", got.Status)
		}
	})

	close(block)
}

// collectObserver records notifications for inspection.
type collectObserver struct {
	mu   sync.Mutex
	seen []Notification
}

func (o *collectObserver) QueueChanged(n Notification) {
	o.mu.Lock()
	o.seen = append(o.seen, n)
	o.mu.Unlock()
}

func (o *collectObserver) snapshot() []Notification {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Notification(nil), o.seen...)
}

// TestManager_ObserverSeesLifecycle tests that subscribers get the
// enqueue, processing, and finished notifications.
func TestManager_ObserverSeesLifecycle(t *testing.T) {
	m := newTestManager(t, Config{
		Runner: runnerFunc(func(ctx context.Context, cmd *datatypes.Command) datatypes.CommandStatus {
			return datatypes.StatusCompleted
		}),
	})

	obs := &collectObserver{}
	unsubscribe := m.Subscribe(obs)
	defer unsubscribe()

	cmd := datatypes.NewCommand("doc-1", "u", "observe me")
	if err := m.Enqueue(cmd); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := m.Wait(ctx, cmd.ID); err != nil {
		t.Fatal(err)
	}

	var sawFinished bool
	for _, n := range obs.snapshot() {
		if n.DocumentID != "doc-1" {
			t.Errorf("notification for wrong document: %s", n.DocumentID)
		}
		if n.Finished != nil && n.Finished.ID == cmd.ID {
			sawFinished = true
			if n.Finished.Status != datatypes.StatusCompleted {
				t.Errorf("finished notification carries %s", n.Finished.Status)
			}
		}
	}
	if !sawFinished {
		t.Error("observer never saw the finished notification")
	}
}

// TestManager_SnapshotsStableDuringRun tests that status polls and
// queue views taken while the runner is mutating its command never
// race with those writes: the runner owns a private copy and the
// outcome lands in one merge on the terminal transition.
func TestManager_SnapshotsStableDuringRun(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})

	m := newTestManager(t, Config{
		Runner: runnerFunc(func(ctx context.Context, cmd *datatypes.Command) datatypes.CommandStatus {
			close(started)
			for i := 0; i < 200; i++ {
				cmd.AssistantText = "thinking"
				cmd.Usage.Add(datatypes.TokenUsage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2})
				cmd.Suggestions = append(cmd.Suggestions[:0], "partial")
			}
			<-release
			cmd.AssistantText = "final answer"
			cmd.Suggestions = nil
			return datatypes.StatusCompleted
		}),
	})

	cmd := datatypes.NewCommand("doc-1", "u", "concurrent reads")
	if err := m.Enqueue(cmd); err != nil {
		t.Fatal(err)
	}
	<-started

	// Hammer the read paths while the runner is writing.
	readsDone := make(chan struct{})
	go func() {
		defer close(readsDone)
		for i := 0; i < 500; i++ {
			if got, ok := m.Get(cmd.ID); ok && got.Status == datatypes.StatusProcessing {
				if got.AssistantText != "" {
					t.Error("mid-run snapshot leaked runner writes")
					break
				}
			}
			m.QueueView("doc-1")
		}
	}()
	<-readsDone
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	final, err := m.Wait(ctx, cmd.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.AssistantText != "final answer" {
		t.Errorf("merged outcome missing: %q", final.AssistantText)
	}
	if final.Usage.TotalTokens != 400 {
		t.Errorf("merged usage = %d, want 400", final.Usage.TotalTokens)
	}
}

// TestManager_EvictsTerminalCommands tests that terminal records are
// dropped after the retention window, and that the document queue
// comes back cleanly for later commands.
func TestManager_EvictsTerminalCommands(t *testing.T) {
	m := newTestManager(t, Config{
		TerminalRetention: 20 * time.Millisecond,
		Runner: runnerFunc(func(ctx context.Context, cmd *datatypes.Command) datatypes.CommandStatus {
			return datatypes.StatusCompleted
		}),
	})

	cmd := datatypes.NewCommand("doc-1", "u", "short lived")
	if err := m.Enqueue(cmd); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := m.Wait(ctx, cmd.ID); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if _, ok := m.Get(cmd.ID); !ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("terminal command was never evicted")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// The document accepts new work after its queue was reaped.
	again := datatypes.NewCommand("doc-1", "u", "after eviction")
	if err := m.Enqueue(again); err != nil {
		t.Fatalf("Enqueue after eviction failed: %v", err)
	}
	final, err := m.Wait(ctx, again.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != datatypes.StatusCompleted {
		t.Errorf("post-eviction command ended %s", final.Status)
	}
}

// TestManager_InvalidRunnerStatus tests the guard against a runner
// returning a non-terminal status.
func TestManager_InvalidRunnerStatus(t *testing.T) {
	m := newTestManager(t, Config{
		Runner: runnerFunc(func(ctx context.Context, cmd *datatypes.Command) datatypes.CommandStatus {
			return datatypes.StatusProcessing
		}),
	})

	cmd := datatypes.NewCommand("doc-1", "u", "bad runner")
	if err := m.Enqueue(cmd); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	final, err := m.Wait(ctx, cmd.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != datatypes.StatusFailed || final.ErrorKind != datatypes.ErrKindInternal {
		t.Errorf("expected internal failure, got %s/%s", final.Status, final.ErrorKind)
	}
}
