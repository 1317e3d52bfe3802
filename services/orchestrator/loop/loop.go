// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package loop drives one command through the read-reason-act cycle:
// snapshot the canvas, ask the reasoning service, validate what it
// asked for, execute, and feed query results back in until the command
// resolves or the iteration cap is hit.
package loop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianCanvas/services/canvas"
	"github.com/AleutianAI/AleutianCanvas/services/llm"
	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/catalog"
	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/executor"
	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/gateway"
	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/summarize"
	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/validate"
)

var tracer = otel.Tracer("canvas-loop")

// DefaultMaxIterations caps reasoning round-trips per command.
const DefaultMaxIterations = 5

const systemPreamble = `You are a canvas assistant operating on a shared 2-D whiteboard.
You turn the user's instruction into tool calls against the canvas.
Use query tools to inspect the canvas when the instruction depends on
state you cannot see below. Only reference object IDs that exist.
When the instruction is conversational and needs no canvas change,
answer in text without calling tools.`

// Config wires one Runner.
type Config struct {
	Store     canvas.Store
	Gateway   *gateway.Gateway
	Validator *validate.Validator
	Executor  *executor.Executor
	Registry  *catalog.Registry

	// MaxIterations caps reasoning round-trips. Zero selects the default.
	MaxIterations int

	// Metrics may be nil; recording becomes a no-op.
	Metrics *observability.CommandMetrics

	Logger *slog.Logger
}

// Runner executes commands for the per-document queue.
type Runner struct {
	store         canvas.Store
	gateway       *gateway.Gateway
	validator     *validate.Validator
	executor      *executor.Executor
	registry      *catalog.Registry
	maxIterations int
	metrics       *observability.CommandMetrics
	logger        *slog.Logger
}

// New builds a Runner.
func New(cfg Config) (*Runner, error) {
	if cfg.Store == nil || cfg.Gateway == nil || cfg.Validator == nil ||
		cfg.Executor == nil || cfg.Registry == nil {
		return nil, fmt.Errorf("loop: Store, Gateway, Validator, Executor and Registry are required")
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{
		store:         cfg.Store,
		gateway:       cfg.Gateway,
		validator:     cfg.Validator,
		executor:      cfg.Executor,
		registry:      cfg.Registry,
		maxIterations: cfg.MaxIterations,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
	}, nil
}

// Run executes one command to a terminal status.
//
// Each iteration re-reads the document so the reasoning service sees
// mutations from earlier iterations and from collaborators. Query-only
// iterations fold their results into the transcript and go around
// again; a mutation, an empty tool-call list, or a failure ends the
// loop. Hitting the iteration cap while the model still wants to act
// fails the command with a stable kind.
func (r *Runner) Run(ctx context.Context, cmd *datatypes.Command) datatypes.CommandStatus {
	ctx, span := tracer.Start(ctx, "loop.Run",
		trace.WithAttributes(
			attribute.String("command.id", cmd.ID),
			attribute.String("document.id", cmd.DocumentID),
		),
	)
	defer span.End()

	started := time.Now()
	iterations := 0
	status := r.run(ctx, cmd, &iterations)
	cmd.ElapsedMs = time.Since(started).Milliseconds()
	span.SetAttributes(
		attribute.String("command.status", string(status)),
		attribute.Int("command.iterations", iterations),
	)

	// The queue applies the terminal transition itself; record against a
	// copy carrying the final status.
	final := *cmd
	final.Status = status
	r.metrics.RecordCommand(&final, iterations)
	return status
}

func (r *Runner) run(ctx context.Context, cmd *datatypes.Command, iterations *int) datatypes.CommandStatus {
	tools := r.registry.ToolDefinitions()
	history := transcriptHistory(cmd.History)

	var iterationContext []llm.Message

	for *iterations < r.maxIterations {
		*iterations++

		snapshot, err := r.store.ReadSnapshot(ctx, cmd.DocumentID)
		if err != nil {
			return r.fail(cmd, datatypes.ErrKindDocumentNotFound,
				fmt.Sprintf("document %s is not available", cmd.DocumentID))
		}
		digest := summarize.Summarize(snapshot)
		system := systemPreamble + "\n\nCurrent canvas state:\n" + summarize.FormatPrompt(digest)

		result, err := r.gateway.Call(ctx, system, cmd.Text, history, iterationContext, tools)
		if err != nil {
			return r.failFromGateway(ctx, cmd, err)
		}
		cmd.Usage.Add(result.Usage)
		if result.Text != "" {
			cmd.AssistantText = result.Text
		}

		// No tool calls: the model answered in text and is done.
		if len(result.Calls) == 0 {
			return datatypes.StatusCompleted
		}

		liveIDs, err := r.store.LiveObjectIDs(ctx, cmd.DocumentID)
		if err != nil {
			return r.fail(cmd, datatypes.ErrKindDocumentNotFound,
				fmt.Sprintf("document %s is not available", cmd.DocumentID))
		}
		outcome := r.validator.Validate(result.Calls, liveIDs)
		if !outcome.OK() {
			cmd.Suggestions = outcome.Reasons()
			return r.fail(cmd, datatypes.ErrKindValidation,
				"the requested operations did not pass validation")
		}

		results := r.executor.Execute(ctx, cmd.DocumentID, outcome.Accepted)
		cmd.Operations = append(cmd.Operations, results...)

		if !allQueries(outcome.Accepted) {
			if allFailed(results) {
				return r.fail(cmd, datatypes.ErrKindInternal,
					"every operation in the batch failed")
			}
			return datatypes.StatusCompleted
		}

		// Query-only iteration: feed the answers back and go around.
		iterationContext = append(iterationContext,
			llm.Message{Role: llm.RoleAssistant, Content: describeCalls(result)},
			llm.Message{Role: llm.RoleUser, Content: renderQueryResults(results)},
		)
	}

	cmd.Suggestions = append(cmd.Suggestions,
		"Break the request into smaller, more specific commands.")
	return r.fail(cmd, datatypes.ErrKindIterationLimit,
		fmt.Sprintf("command did not resolve within %d reasoning iterations", r.maxIterations))
}

func (r *Runner) fail(cmd *datatypes.Command, kind datatypes.ErrorKind, message string) datatypes.CommandStatus {
	cmd.ErrorKind = kind
	cmd.ErrorMessage = message
	r.logger.Warn("command failed",
		"command_id", cmd.ID,
		"document_id", cmd.DocumentID,
		"error_kind", string(kind),
		"error", message)
	return datatypes.StatusFailed
}

func (r *Runner) failFromGateway(ctx context.Context, cmd *datatypes.Command, err error) datatypes.CommandStatus {
	var gerr *gateway.GatewayError
	if errors.As(err, &gerr) {
		if gerr.Kind == datatypes.ErrKindTimeout && ctx.Err() != nil {
			cmd.ErrorKind = gerr.Kind
			cmd.ErrorMessage = gerr.Message
			return datatypes.StatusTimedOut
		}
		return r.fail(cmd, gerr.Kind, gerr.Message)
	}
	return r.fail(cmd, datatypes.ErrKindInternal, "reasoning call failed")
}

func transcriptHistory(history []datatypes.HistoryMessage) []llm.Message {
	if len(history) == 0 {
		return nil
	}
	messages := make([]llm.Message, 0, len(history))
	for _, h := range history {
		messages = append(messages, llm.Message{Role: h.Role, Content: h.Content})
	}
	return messages
}

func allQueries(ops []datatypes.ValidatedOperation) bool {
	for _, op := range ops {
		if !op.IsQuery() {
			return false
		}
	}
	return len(ops) > 0
}

func allFailed(results []datatypes.ExecutionResult) bool {
	for _, res := range results {
		if res.Success {
			return false
		}
	}
	return len(results) > 0
}

func describeCalls(result *gateway.Result) string {
	if result.Text != "" {
		return result.Text
	}
	names := make([]string, 0, len(result.Calls))
	for _, call := range result.Calls {
		names = append(names, call.Name)
	}
	return "Running: " + strings.Join(names, ", ")
}

// renderQueryResults serializes query outputs for the next prompt.
// JSON keeps the payload unambiguous for the model to read back.
func renderQueryResults(results []datatypes.ExecutionResult) string {
	var b strings.Builder
	b.WriteString("Query results:\n")
	for _, res := range results {
		if !res.Success {
			fmt.Fprintf(&b, "%s: error: %s\n", res.Name, res.Error)
			continue
		}
		payload, err := json.Marshal(res.Output)
		if err != nil {
			fmt.Fprintf(&b, "%s: (unrenderable result)\n", res.Name)
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", res.Name, payload)
	}
	return b.String()
}
