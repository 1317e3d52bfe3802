// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the
// command pipeline.
//
// # Description
//
// This package implements Prometheus metrics for monitoring command
// orchestration. Metrics include:
//   - Command counters (by terminal status and error kind)
//   - Token usage (prompt/completion)
//   - Latency histograms (end-to-end command duration)
//   - Reasoning iteration counts per command
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/datatypes"
)

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for command pipeline metrics
const commandSubsystem = "canvas"

// CommandMetrics holds all Prometheus metrics for the command pipeline.
//
// # Description
//
// Provides counters and histograms for monitoring command throughput,
// latency, and reasoning cost. Initialize once at startup via
// InitMetrics().
//
// # Fields
//
//   - CommandsTotal: Counter of finished commands by status and error kind
//   - CommandDurationSeconds: Histogram of end-to-end command latency
//   - ReasoningIterations: Histogram of iterations consumed per command
//   - TokensTotal: Counter of reasoning tokens by direction
//
// # Thread Safety
//
// All operations are thread-safe.
type CommandMetrics struct {
	// CommandsTotal counts commands reaching a terminal state.
	// Labels: status (completed, failed, cancelled, timed_out),
	// error_kind (empty on success)
	CommandsTotal *prometheus.CounterVec

	// CommandDurationSeconds measures latency from dequeue to terminal
	// state.
	// Labels: status
	CommandDurationSeconds *prometheus.HistogramVec

	// ReasoningIterations measures reasoning iterations consumed per
	// command.
	ReasoningIterations prometheus.Histogram

	// TokensTotal counts reasoning tokens by direction.
	// Labels: direction (prompt, completion)
	TokensTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of CommandMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *CommandMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once
// at application startup, after the Prometheus registry is available.
//
// # Outputs
//
//   - *CommandMetrics: The initialized metrics instance.
//
// # Examples
//
//	func main() {
//	    observability.InitMetrics()
//	    // ... start server ...
//	}
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
//
// # Assumptions
//
//   - Prometheus default registry is available.
func InitMetrics() *CommandMetrics {
	DefaultMetrics = &CommandMetrics{
		CommandsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: commandSubsystem,
				Name:      "commands_total",
				Help:      "Commands reaching a terminal state, by status and error kind",
			},
			[]string{"status", "error_kind"},
		),

		CommandDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: commandSubsystem,
				Name:      "command_duration_seconds",
				Help:      "End-to-end command duration in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"status"},
		),

		ReasoningIterations: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: commandSubsystem,
				Name:      "reasoning_iterations",
				Help:      "Reasoning iterations consumed per command",
				Buckets:   []float64{1, 2, 3, 4, 5},
			},
		),

		TokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: commandSubsystem,
				Name:      "tokens_total",
				Help:      "Reasoning tokens processed by direction",
			},
			[]string{"direction"},
		),
	}

	return DefaultMetrics
}

// RecordCommand records one finished command. Safe to call on a nil
// receiver, so library code never has to check whether metrics were
// initialized.
func (m *CommandMetrics) RecordCommand(cmd *datatypes.Command, iterations int) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(string(cmd.Status), string(cmd.ErrorKind)).Inc()
	m.CommandDurationSeconds.WithLabelValues(string(cmd.Status)).
		Observe(float64(cmd.ElapsedMs) / 1000)
	m.ReasoningIterations.Observe(float64(iterations))
	m.TokensTotal.WithLabelValues("prompt").Add(float64(cmd.Usage.PromptTokens))
	m.TokensTotal.WithLabelValues("completion").Add(float64(cmd.Usage.CompletionTokens))
}
