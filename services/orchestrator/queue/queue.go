// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package queue serializes command execution per document. Each
// document gets its own bounded FIFO and a single worker, so at most
// one command mutates a given canvas at a time while separate documents
// proceed in parallel.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/datatypes"
)

// ===== Metrics =====

var (
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "canvas_queue_pending_commands",
		Help: "Commands waiting across all document queues.",
	})

	queueRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canvas_queue_rejections_total",
		Help: "Commands rejected because a document queue was full.",
	})

	commandsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canvas_commands_finished_total",
		Help: "Commands reaching a terminal status.",
	}, []string{"status"})
)

// ===== Errors =====

var (
	// ErrQueueFull: the document's pending window is at capacity.
	ErrQueueFull = errors.New("document queue is full")

	// ErrCommandNotFound: no live record of the command id.
	ErrCommandNotFound = errors.New("command not found")

	// ErrNotCancellable: the command left the pending state, or the
	// caller is not its originator.
	ErrNotCancellable = errors.New("command cannot be cancelled")

	// ErrShuttingDown: the manager no longer accepts work.
	ErrShuttingDown = errors.New("queue manager is shutting down")
)

// ===== Runner and Observer Seams =====

// CommandRunner executes one command to completion. Run owns the
// command exclusively for its duration, fills in the result fields, and
// returns a terminal status.
type CommandRunner interface {
	Run(ctx context.Context, cmd *datatypes.Command) datatypes.CommandStatus
}

// Notification is a point-in-time view of one document's queue,
// delivered to observers on every change.
type Notification struct {
	DocumentID string              `json:"documentId"`
	Pending    []datatypes.Command `json:"pending"`
	Processing *datatypes.Command  `json:"processing,omitempty"`
	Finished   *datatypes.Command  `json:"finished,omitempty"`
}

// Observer receives queue change notifications. Calls are synchronous
// on the queue's paths; implementations must not block.
type Observer interface {
	QueueChanged(n Notification)
}

// ===== Configuration =====

const (
	DefaultCapacity       = 5
	DefaultPendingTimeout = 30 * time.Second

	// DefaultTerminalRetention is how long a terminal command record
	// stays queryable before eviction.
	DefaultTerminalRetention = 5 * time.Minute
)

// Config tunes one Manager.
type Config struct {
	// Runner executes dequeued commands. Required.
	Runner CommandRunner

	// Capacity bounds the pending window per document.
	Capacity int

	// PendingTimeout is how long a command may wait before it is
	// expired without execution.
	PendingTimeout time.Duration

	// TerminalRetention is how long a terminal command record stays
	// queryable. After the window the record is evicted, and the
	// document's queue and worker are reaped once nothing references
	// them.
	TerminalRetention time.Duration

	Logger *slog.Logger
}

func applyConfigDefaults(cfg *Config) {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.PendingTimeout <= 0 {
		cfg.PendingTimeout = DefaultPendingTimeout
	}
	if cfg.TerminalRetention <= 0 {
		cfg.TerminalRetention = DefaultTerminalRetention
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
}

// ===== Entry =====

// entry wraps one queued command. The entry mutex guards the command's
// mutable fields; status transitions go through transition so the done
// channel closes exactly once.
type entry struct {
	mu         sync.Mutex
	cmd        *datatypes.Command
	enqueuedAt time.Time
	timer      *time.Timer
	done       chan struct{}
}

func newEntry(cmd *datatypes.Command) *entry {
	return &entry{
		cmd:        cmd,
		enqueuedAt: time.Now(),
		done:       make(chan struct{}),
	}
}

// transition applies a legal status change, returning false when the
// current status forbids it. Reaching a terminal status closes done.
func (e *entry) transition(to datatypes.CommandStatus) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.cmd.Status.CanTransition(to) {
		return false
	}
	e.cmd.Status = to
	if to.IsTerminal() {
		commandsFinished.WithLabelValues(string(to)).Inc()
		close(e.done)
	}
	return true
}

// finish merges the runner's outcome into the shared record and
// applies the terminal transition under one lock, so concurrent
// snapshot readers never observe a half-written result.
func (e *entry) finish(to datatypes.CommandStatus, result *datatypes.Command) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.cmd.Status.CanTransition(to) {
		return false
	}
	e.cmd.AssistantText = result.AssistantText
	e.cmd.Operations = result.Operations
	e.cmd.Usage = result.Usage
	e.cmd.ElapsedMs = result.ElapsedMs
	e.cmd.ErrorKind = result.ErrorKind
	e.cmd.ErrorMessage = result.ErrorMessage
	e.cmd.Suggestions = result.Suggestions
	e.cmd.Status = to
	commandsFinished.WithLabelValues(string(to)).Inc()
	close(e.done)
	return true
}

// fail is transition to failed plus the error fields, under one lock.
func (e *entry) fail(kind datatypes.ErrorKind, message string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.cmd.Status.CanTransition(datatypes.StatusFailed) {
		return false
	}
	e.cmd.Status = datatypes.StatusFailed
	e.cmd.ErrorKind = kind
	e.cmd.ErrorMessage = message
	commandsFinished.WithLabelValues(string(datatypes.StatusFailed)).Inc()
	close(e.done)
	return true
}

func (e *entry) snapshot() datatypes.Command {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.cmd
}

func (e *entry) status() datatypes.CommandStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cmd.Status
}

func (e *entry) setTimer(t *time.Timer) {
	e.mu.Lock()
	e.timer = t
	e.mu.Unlock()
}

func (e *entry) stopTimer() {
	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
	}
	e.mu.Unlock()
}

// ===== Document Queue =====

type documentQueue struct {
	documentID string

	mu         sync.Mutex
	pending    []*entry
	processing *entry

	// wake is a capacity-1 signal channel; the worker drains the whole
	// pending list per signal, so a collapsed signal loses nothing.
	wake chan struct{}

	// stop ends the worker when the queue is reaped after its last
	// command record is evicted.
	stop chan struct{}
}

func newDocumentQueue(documentID string) *documentQueue {
	return &documentQueue{
		documentID: documentID,
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
	}
}

func (q *documentQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *documentQueue) push(e *entry, capacity int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) >= capacity {
		return ErrQueueFull
	}
	q.pending = append(q.pending, e)
	queueDepth.Inc()
	return nil
}

func (q *documentQueue) pop() *entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	e := q.pending[0]
	q.pending = q.pending[1:]
	queueDepth.Dec()
	return e
}

// remove drops the entry from the pending list if still there. Used by
// timeout expiry and cancellation.
func (q *documentQueue) remove(target *entry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.pending {
		if e == target {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			queueDepth.Dec()
			return true
		}
	}
	return false
}

func (q *documentQueue) idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) == 0 && q.processing == nil
}

func (q *documentQueue) setProcessing(e *entry) {
	q.mu.Lock()
	q.processing = e
	q.mu.Unlock()
}

// view builds the notification payload under the queue lock.
func (q *documentQueue) view() Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := Notification{DocumentID: q.documentID}
	for _, e := range q.pending {
		n.Pending = append(n.Pending, e.snapshot())
	}
	if q.processing != nil {
		snap := q.processing.snapshot()
		n.Processing = &snap
	}
	return n
}

// ===== Manager =====

// Manager owns every document queue and the worker goroutines draining
// them. One Manager per process.
type Manager struct {
	cfg Config

	mu       sync.RWMutex
	queues   map[string]*documentQueue
	commands map[string]*entry
	closed   bool

	obsMu     sync.RWMutex
	observers map[int]Observer
	nextObsID int

	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager builds and starts a Manager. Workers are spawned lazily,
// one per document on first enqueue.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("queue: Runner is required")
	}
	applyConfigDefaults(&cfg)

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	return &Manager{
		cfg:       cfg,
		queues:    make(map[string]*documentQueue),
		commands:  make(map[string]*entry),
		observers: make(map[int]Observer),
		group:     group,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Enqueue admits a command into its document's queue.
//
// Returns ErrQueueFull when the document already has the configured
// number of pending commands; the caller surfaces that as a stable
// error rather than letting requests pile up unbounded. The pending
// timeout starts immediately: a command not dequeued within the window
// expires to timed_out without ever executing.
func (m *Manager) Enqueue(cmd *datatypes.Command) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrShuttingDown
	}
	q, ok := m.queues[cmd.DocumentID]
	if !ok {
		q = newDocumentQueue(cmd.DocumentID)
		m.queues[cmd.DocumentID] = q
		m.group.Go(func() error {
			m.runQueue(q)
			return nil
		})
	}
	e := newEntry(cmd)
	m.commands[cmd.ID] = e
	m.mu.Unlock()

	if err := q.push(e, m.cfg.Capacity); err != nil {
		queueRejections.Inc()
		m.mu.Lock()
		delete(m.commands, cmd.ID)
		m.mu.Unlock()
		return err
	}

	e.setTimer(time.AfterFunc(m.cfg.PendingTimeout, func() {
		m.expire(q, e)
	}))

	q.signal()
	m.notify(q, nil)
	return nil
}

// expire handles a pending timeout firing. Losing the race against the
// worker is fine: the transition guard makes expiry a no-op once the
// command left pending.
func (m *Manager) expire(q *documentQueue, e *entry) {
	e.mu.Lock()
	if !e.cmd.Status.CanTransition(datatypes.StatusTimedOut) {
		e.mu.Unlock()
		return
	}
	e.cmd.Status = datatypes.StatusTimedOut
	e.cmd.ErrorKind = datatypes.ErrKindTimeout
	e.cmd.ErrorMessage = "command expired before processing began"
	commandsFinished.WithLabelValues(string(datatypes.StatusTimedOut)).Inc()
	close(e.done)
	e.mu.Unlock()
	q.remove(e)
	m.cfg.Logger.Info("command timed out while pending",
		"command_id", e.cmd.ID, "document_id", q.documentID)
	snap := e.snapshot()
	m.notify(q, &snap)
	m.scheduleRelease(q, e)
}

// Cancel withdraws a pending command. Only the originator may cancel,
// and only before processing begins.
func (m *Manager) Cancel(commandID, userID string) error {
	m.mu.RLock()
	e, ok := m.commands[commandID]
	m.mu.RUnlock()
	if !ok {
		return ErrCommandNotFound
	}

	e.mu.Lock()
	if e.cmd.UserID != userID {
		e.mu.Unlock()
		return ErrNotCancellable
	}
	e.mu.Unlock()

	if !e.transition(datatypes.StatusCancelled) {
		return ErrNotCancellable
	}
	e.stopTimer()

	m.mu.RLock()
	q := m.queues[e.cmd.DocumentID]
	m.mu.RUnlock()
	if q != nil {
		q.remove(e)
		snap := e.snapshot()
		m.notify(q, &snap)
	}
	m.scheduleRelease(q, e)
	return nil
}

// Get returns a copy of the command's current state.
func (m *Manager) Get(commandID string) (datatypes.Command, bool) {
	m.mu.RLock()
	e, ok := m.commands[commandID]
	m.mu.RUnlock()
	if !ok {
		return datatypes.Command{}, false
	}
	return e.snapshot(), true
}

// Wait blocks until the command reaches a terminal status or the
// context ends, then returns its final state.
func (m *Manager) Wait(ctx context.Context, commandID string) (datatypes.Command, error) {
	m.mu.RLock()
	e, ok := m.commands[commandID]
	m.mu.RUnlock()
	if !ok {
		return datatypes.Command{}, ErrCommandNotFound
	}
	select {
	case <-ctx.Done():
		return e.snapshot(), ctx.Err()
	case <-e.done:
		return e.snapshot(), nil
	}
}

// QueueView returns the current pending/processing view for one
// document. Used to seed new feed subscribers.
func (m *Manager) QueueView(documentID string) Notification {
	m.mu.RLock()
	q := m.queues[documentID]
	m.mu.RUnlock()
	if q == nil {
		return Notification{DocumentID: documentID}
	}
	return q.view()
}

// Subscribe registers an observer; the returned function removes it.
func (m *Manager) Subscribe(o Observer) func() {
	m.obsMu.Lock()
	id := m.nextObsID
	m.nextObsID++
	m.observers[id] = o
	m.obsMu.Unlock()
	return func() {
		m.obsMu.Lock()
		delete(m.observers, id)
		m.obsMu.Unlock()
	}
}

func (m *Manager) notify(q *documentQueue, finished *datatypes.Command) {
	n := q.view()
	n.Finished = finished
	m.obsMu.RLock()
	defer m.obsMu.RUnlock()
	for _, o := range m.observers {
		o.QueueChanged(n)
	}
}

// runQueue is one document's worker. Commands are processed strictly
// one at a time in arrival order.
func (m *Manager) runQueue(q *documentQueue) {
	for {
		select {
		case <-m.ctx.Done():
			m.drain(q)
			return
		case <-q.stop:
			return
		case <-q.wake:
		}
		for {
			e := q.pop()
			if e == nil {
				break
			}
			m.process(q, e)
		}
	}
}

func (m *Manager) process(q *documentQueue, e *entry) {
	// The pending timer may have fired between pop and here; the guard
	// below skips anything no longer pending.
	if !e.transition(datatypes.StatusProcessing) {
		return
	}
	e.stopTimer()
	q.setProcessing(e)
	m.notify(q, nil)

	// The runner works on a private copy so status polls and feed
	// snapshots stay consistent mid-run; the outcome merges back into
	// the shared record in one locked step on the terminal transition.
	runCmd := e.snapshot()
	started := time.Now()
	status := m.cfg.Runner.Run(m.ctx, &runCmd)
	runCmd.ElapsedMs = time.Since(started).Milliseconds()

	if !status.IsTerminal() || !e.finish(status, &runCmd) {
		e.fail(datatypes.ErrKindInternal, "command runner returned an invalid status")
		m.cfg.Logger.Error("runner returned non-terminal status",
			"command_id", runCmd.ID, "status", string(status))
	}

	q.setProcessing(nil)
	snap := e.snapshot()
	m.notify(q, &snap)
	m.scheduleRelease(q, e)
}

// scheduleRelease evicts the terminal command record once the
// retention window passes, reaping the document's queue and worker
// when nothing references them anymore.
func (m *Manager) scheduleRelease(q *documentQueue, e *entry) {
	time.AfterFunc(m.cfg.TerminalRetention, func() {
		m.release(q, e)
	})
}

func (m *Manager) release(q *documentQueue, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.commands, e.cmd.ID)
	if m.closed || q == nil {
		return
	}
	// Reap only the queue this entry belonged to; a fresh queue may
	// already have replaced it for the same document.
	if m.queues[q.documentID] == q && q.idle() && !m.hasLiveCommands(q.documentID) {
		delete(m.queues, q.documentID)
		close(q.stop)
	}
}

// hasLiveCommands reports whether any tracked command still belongs to
// the document. Callers hold m.mu.
func (m *Manager) hasLiveCommands(documentID string) bool {
	for _, e := range m.commands {
		if e.cmd.DocumentID == documentID {
			return true
		}
	}
	return false
}

// drain fails everything still pending at shutdown.
func (m *Manager) drain(q *documentQueue) {
	for {
		e := q.pop()
		if e == nil {
			return
		}
		e.stopTimer()
		e.fail(datatypes.ErrKindInternal, "service shutting down")
	}
}

// Shutdown stops accepting work and waits for in-flight commands up to
// the context deadline.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()

	done := make(chan error, 1)
	go func() { done <- m.group.Wait() }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
