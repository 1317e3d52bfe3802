// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validate gates reasoning output before execution. Nothing the
// model asks for reaches the canvas without passing both the schema
// check and the live-reference check here.
package validate

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/catalog"
	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/datatypes"
)

var validationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "canvas_validation_outcomes_total",
	Help: "Tool-call batch validation outcomes.",
}, []string{"outcome"})

// Rejection records why one operation call was refused. Reasons are
// written for the reasoning service to read: they go back into the next
// prompt so the model can correct itself.
type Rejection struct {
	Name    string   `json:"name"`
	Reasons []string `json:"reasons"`
}

// Outcome is the result of validating one batch. Acceptance is
// all-or-nothing: Accepted is nil whenever Rejected is non-empty.
type Outcome struct {
	Accepted []datatypes.ValidatedOperation
	Rejected []Rejection
}

// OK reports whether the whole batch passed.
func (o *Outcome) OK() bool { return len(o.Rejected) == 0 }

// Reasons flattens every rejection reason, for prompts and logs.
func (o *Outcome) Reasons() []string {
	var out []string
	for _, r := range o.Rejected {
		out = append(out, r.Reasons...)
	}
	return out
}

// Validator checks operation batches against the catalog and the live
// document. Stateless beyond the registry handle; safe for concurrent
// use.
type Validator struct {
	registry *catalog.Registry
}

// New builds a Validator over a loaded registry.
func New(registry *catalog.Registry) *Validator {
	return &Validator{registry: registry}
}

// Validate runs both passes over a batch of raw calls.
//
// The schema pass decodes and checks every call against the catalog:
// unknown operations, missing or unknown fields, type mismatches, and
// out-of-bounds values all reject. The reference pass then checks every
// object id the decoded parameters point at against liveIDs, the live
// object set read at validation time. Every call is checked even after
// the first failure so the model sees the full list of problems at once.
func (v *Validator) Validate(
	calls []datatypes.OperationCall,
	liveIDs map[string]struct{},
) *Outcome {
	outcome := &Outcome{}
	accepted := make([]datatypes.ValidatedOperation, 0, len(calls))

	for _, call := range calls {
		op, err := v.registry.Decode(call)
		if err != nil {
			outcome.Rejected = append(outcome.Rejected, Rejection{
				Name:    call.Name,
				Reasons: []string{err.Error()},
			})
			continue
		}

		var reasons []string
		for _, id := range op.Params.ReferencedIDs() {
			if _, ok := liveIDs[id]; !ok {
				reasons = append(reasons,
					fmt.Sprintf("%s: Shape ID %q does not exist", op.Name, id))
			}
		}
		if len(reasons) > 0 {
			outcome.Rejected = append(outcome.Rejected, Rejection{
				Name:    op.Name,
				Reasons: reasons,
			})
			continue
		}

		accepted = append(accepted, op)
	}

	if len(outcome.Rejected) > 0 {
		validationOutcomes.WithLabelValues("rejected").Inc()
		return outcome
	}
	validationOutcomes.WithLabelValues("accepted").Inc()
	outcome.Accepted = accepted
	return outcome
}
