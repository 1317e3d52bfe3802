// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gateway mediates between the orchestration loop and the
// reasoning provider. It owns the transcript assembly rules, the retry
// policy, and the translation of provider tool calls into operation
// calls.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianCanvas/services/llm"
	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("canvas-gateway")

// ===== Metrics =====

var (
	gatewayAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canvas_gateway_attempts_total",
		Help: "Reasoning provider attempts by outcome class.",
	}, []string{"class"})

	gatewayRetriesExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canvas_gateway_retries_exhausted_total",
		Help: "Reasoning calls that failed after all retry attempts.",
	})
)

// ===== Error Type =====

// GatewayError carries the stable error kind a failed reasoning call
// maps to, so callers never inspect provider internals.
type GatewayError struct {
	Kind    datatypes.ErrorKind
	Message string
	Cause   error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway: %s (%s)", e.Message, e.Kind)
}

func (e *GatewayError) Unwrap() error { return e.Cause }

// ===== Configuration =====

const (
	maxAttempts = 3

	defaultMaxTokens = 4096
)

// Backoff schedules, indexed by the attempt that just failed.
var (
	rateLimitBackoff = []time.Duration{2 * time.Second, 4 * time.Second}
	transientBackoff = []time.Duration{1 * time.Second, 2 * time.Second}
)

// Config tunes one Gateway.
type Config struct {
	// Client performs the actual provider call.
	Client llm.ReasoningClient

	// MaxTokens caps each completion. Zero selects the default.
	MaxTokens int

	// RequestsPerSecond throttles outbound calls ahead of the provider's
	// own limiter. Zero disables local throttling.
	RequestsPerSecond float64

	Logger *slog.Logger

	// sleep is swapped in tests to observe backoff without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

func applyConfigDefaults(cfg *Config) {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.sleep == nil {
		cfg.sleep = sleepCtx
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ===== Gateway =====

// Result is one successful reasoning exchange: free text, the requested
// operation calls in provider order, and token usage for the attempt
// that succeeded.
type Result struct {
	Text  string
	Calls []datatypes.OperationCall
	Usage datatypes.TokenUsage
}

// Gateway issues reasoning calls with retries. Safe for concurrent use.
type Gateway struct {
	client    llm.ReasoningClient
	maxTokens int
	limiter   *rate.Limiter
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// New builds a Gateway.
func New(cfg Config) (*Gateway, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("gateway: Client is required")
	}
	applyConfigDefaults(&cfg)

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Gateway{
		client:    cfg.Client,
		maxTokens: cfg.MaxTokens,
		limiter:   limiter,
		logger:    cfg.Logger,
		sleep:     cfg.sleep,
	}, nil
}

// Call performs one reasoning exchange.
//
// # Description
//
//	Assembles the transcript, invokes the provider with up to three
//	attempts, and parses returned tool calls into operation calls.
//
// Transcript rule: on the first iteration of a command the transcript is
// the conversation history followed by the user's text. On follow-up
// iterations (iterationContext non-empty) history is dropped and the
// transcript is the original user text followed by the accumulated
// iteration context, keeping repeated calls for one command bounded.
//
// # Outputs
//
//	*Result on success. On failure a *GatewayError whose Kind is stable
//	for the failure class: authentication and bad-request failures are
//	never retried; rate limiting backs off 2s then 4s; other transient
//	failures back off 1s then 2s.
func (g *Gateway) Call(
	ctx context.Context,
	system string,
	userText string,
	history []llm.Message,
	iterationContext []llm.Message,
	tools []llm.ToolDefinition,
) (*Result, error) {
	ctx, span := tracer.Start(ctx, "gateway.Call")
	defer span.End()

	messages := assembleTranscript(userText, history, iterationContext)
	span.SetAttributes(
		attribute.Int("gateway.messages", len(messages)),
		attribute.Int("gateway.tools", len(tools)),
		attribute.Bool("gateway.follow_up", len(iterationContext) > 0),
	)

	req := llm.CompletionRequest{
		System:    system,
		Messages:  messages,
		Tools:     tools,
		MaxTokens: g.maxTokens,
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return nil, &GatewayError{
					Kind:    datatypes.ErrKindTimeout,
					Message: "request cancelled while awaiting rate limiter",
					Cause:   err,
				}
			}
		}

		completion, err := g.client.Complete(ctx, req)
		if err == nil {
			gatewayAttempts.WithLabelValues("ok").Inc()
			return g.parseCompletion(completion)
		}
		lastErr = err

		class := llm.ClassOf(err)
		gatewayAttempts.WithLabelValues(string(class)).Inc()
		g.logger.Warn("reasoning attempt failed",
			"attempt", attempt+1,
			"class", string(class),
			"error", err)

		switch class {
		case llm.ClassUnauthenticated:
			return nil, &GatewayError{
				Kind:    datatypes.ErrKindAuthRequired,
				Message: "reasoning provider rejected credentials",
				Cause:   err,
			}
		case llm.ClassBadRequest:
			// A rejected request is our construction bug, not an outage;
			// retrying the same payload cannot help.
			return nil, &GatewayError{
				Kind:    datatypes.ErrKindInternal,
				Message: "reasoning provider rejected the request",
				Cause:   err,
			}
		}

		if ctx.Err() != nil {
			return nil, &GatewayError{
				Kind:    datatypes.ErrKindTimeout,
				Message: "reasoning call cancelled",
				Cause:   ctx.Err(),
			}
		}
		if attempt == maxAttempts-1 {
			break
		}

		backoff := transientBackoff
		if class == llm.ClassRateLimited {
			backoff = rateLimitBackoff
		}
		if err := g.sleep(ctx, backoff[attempt]); err != nil {
			return nil, &GatewayError{
				Kind:    datatypes.ErrKindTimeout,
				Message: "reasoning call cancelled during backoff",
				Cause:   err,
			}
		}
	}

	gatewayRetriesExhausted.Inc()
	msg := "reasoning provider temporarily unavailable"
	if llm.ClassOf(lastErr) == llm.ClassRateLimited {
		msg = "reasoning provider rate limited"
	}
	return nil, &GatewayError{
		Kind:    datatypes.ErrKindUpstreamUnavailable,
		Message: msg,
		Cause:   lastErr,
	}
}

// assembleTranscript applies the transcript rule. The returned slice is
// always freshly allocated.
func assembleTranscript(userText string, history, iterationContext []llm.Message) []llm.Message {
	if len(iterationContext) > 0 {
		messages := make([]llm.Message, 0, 1+len(iterationContext))
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: userText})
		messages = append(messages, iterationContext...)
		return messages
	}
	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: userText})
	return messages
}

// parseCompletion converts provider tool calls into operation calls. A
// single unparseable argument payload fails the whole exchange: a batch
// the provider half-garbled is worse than a clean retry by the caller.
func (g *Gateway) parseCompletion(completion *llm.Completion) (*Result, error) {
	result := &Result{
		Text:  completion.Text,
		Usage: completion.Usage,
	}
	for _, call := range completion.ToolCalls {
		params := make(map[string]any)
		if len(call.Arguments) > 0 {
			if err := json.Unmarshal(call.Arguments, &params); err != nil {
				return nil, &GatewayError{
					Kind:    datatypes.ErrKindUpstreamUnavailable,
					Message: fmt.Sprintf("provider returned malformed arguments for %s", call.Name),
					Cause:   err,
				}
			}
		}
		result.Calls = append(result.Calls, datatypes.OperationCall{
			Name:       call.Name,
			Parameters: params,
		})
	}
	return result, nil
}
