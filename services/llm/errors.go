// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorClass partitions provider failures for the gateway's retry policy.
type ErrorClass string

const (
	// ClassRateLimited: HTTP 429 or provider overload. Retried with the
	// slow backoff schedule.
	ClassRateLimited ErrorClass = "rate_limited"

	// ClassUnauthenticated: bad or missing credentials. Never retried.
	ClassUnauthenticated ErrorClass = "unauthenticated"

	// ClassBadRequest: the request itself is malformed. Never retried.
	ClassBadRequest ErrorClass = "bad_request"

	// ClassServer: provider-side 5xx. Retried with the fast schedule.
	ClassServer ErrorClass = "server_error"

	// ClassTimeout: network timeout or context deadline. Retried with the
	// fast schedule.
	ClassTimeout ErrorClass = "timeout"
)

// ProviderError is a classified reasoning-service failure.
type ProviderError struct {
	Class      ErrorClass
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("reasoning provider error (%s, status %d): %s", e.Class, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("reasoning provider error (%s): %s", e.Class, e.Message)
}

// ClassOf extracts the error class, defaulting to ClassServer for
// unclassified failures so the gateway retries them conservatively.
func ClassOf(err error) ErrorClass {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	return ClassServer
}

// classifyStatus maps an HTTP status code to an error class.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ClassRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ClassUnauthenticated
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ClassTimeout
	case status >= 500:
		return ClassServer
	case status >= 400:
		return ClassBadRequest
	}
	return ClassServer
}
