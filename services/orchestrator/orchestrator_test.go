// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/loop"
	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/queue"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Config Tests
// =============================================================================

// TestApplyConfigDefaults_AllDefaults verifies default values are applied.
//
// # Description
//
// Tests that applyConfigDefaults correctly fills in missing values
// when an empty Config is provided.
func TestApplyConfigDefaults_AllDefaults(t *testing.T) {
	// Arrange
	cfg := Config{}

	// Act
	result := applyConfigDefaults(cfg)

	// Assert
	assert.Equal(t, 12310, result.Port, "default port should be 12310")
	assert.Equal(t, "claude", result.LLMBackend, "default LLM backend should be claude")
	assert.Equal(t, "aleutian-otel-collector:4317", result.OTelEndpoint,
		"default OTel endpoint should be aleutian-otel-collector:4317")
	assert.True(t, result.EnableMetrics, "metrics should be enabled by default")
	assert.Equal(t, queue.DefaultCapacity, result.QueueCapacity,
		"queue capacity should default to the queue package constant")
	assert.Equal(t, queue.DefaultPendingTimeout, result.PendingTimeout,
		"pending timeout should default to the queue package constant")
	assert.Equal(t, loop.DefaultMaxIterations, result.MaxIterations,
		"iteration cap should default to the loop package constant")
}

// TestApplyConfigDefaults_PreservesCustomValues verifies custom values are not overwritten.
//
// # Description
//
// Tests that applyConfigDefaults does not overwrite user-provided values.
func TestApplyConfigDefaults_PreservesCustomValues(t *testing.T) {
	// Arrange
	cfg := Config{
		Port:           8080,
		LLMBackend:     "openai",
		OTelEndpoint:   "custom-collector:4317",
		BadgerPath:     "/data/canvas",
		QueueCapacity:  3,
		PendingTimeout: 10 * time.Second,
		MaxIterations:  2,
	}

	// Act
	result := applyConfigDefaults(cfg)

	// Assert
	assert.Equal(t, 8080, result.Port, "custom port should be preserved")
	assert.Equal(t, "openai", result.LLMBackend, "custom LLM backend should be preserved")
	assert.Equal(t, "custom-collector:4317", result.OTelEndpoint,
		"custom OTel endpoint should be preserved")
	assert.Equal(t, "/data/canvas", result.BadgerPath,
		"custom badger path should be preserved")
	assert.Equal(t, 3, result.QueueCapacity, "custom queue capacity should be preserved")
	assert.Equal(t, 10*time.Second, result.PendingTimeout,
		"custom pending timeout should be preserved")
	assert.Equal(t, 2, result.MaxIterations, "custom iteration cap should be preserved")
}
