// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the HTTP handlers for the canvas command
// API.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianCanvas/services/canvas"
	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/queue"
)

var tracer = otel.Tracer("canvas-handlers")

// httpStatusFor maps stable error kinds onto HTTP status codes.
func httpStatusFor(kind datatypes.ErrorKind) int {
	switch kind {
	case datatypes.ErrKindInvalidRequest:
		return http.StatusBadRequest
	case datatypes.ErrKindAuthRequired:
		return http.StatusUnauthorized
	case datatypes.ErrKindDocumentNotFound, datatypes.ErrKindCommandNotFound:
		return http.StatusNotFound
	case datatypes.ErrKindValidation:
		return http.StatusUnprocessableEntity
	case datatypes.ErrKindQueueFull:
		return http.StatusTooManyRequests
	case datatypes.ErrKindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case datatypes.ErrKindTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func errorResponse(c *gin.Context, commandID string, kind datatypes.ErrorKind, message string, suggestions []string) {
	c.JSON(httpStatusFor(kind), datatypes.CommandErrorResponse{
		Success:     false,
		CommandID:   commandID,
		ErrorKind:   kind,
		Message:     message,
		Suggestions: suggestions,
	})
}

// HandleSubmitCommand accepts a natural-language command, queues it,
// and waits for the outcome.
//
// The wait is bounded by the request context: if the client gives up or
// a proxy times the request out, the command keeps running and the
// client gets 202 with the command id to poll.
func HandleSubmitCommand(store canvas.Store, mgr *queue.Manager, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "handlers.SubmitCommand")
		defer span.End()

		var req datatypes.CommandRequest
		if err := c.BindJSON(&req); err != nil {
			errorResponse(c, "", datatypes.ErrKindInvalidRequest, "invalid request body", nil)
			return
		}
		if err := req.Validate(); err != nil {
			errorResponse(c, "", datatypes.ErrKindInvalidRequest, err.Error(), nil)
			return
		}
		if !store.DocumentExists(ctx, req.DocumentID) {
			errorResponse(c, "", datatypes.ErrKindDocumentNotFound,
				"document "+req.DocumentID+" does not exist", nil)
			return
		}

		cmd := datatypes.NewCommand(req.DocumentID, req.UserID, req.Text)
		cmd.History = req.ConversationHistory
		span.SetAttributes(
			attribute.String("command.id", cmd.ID),
			attribute.String("document.id", req.DocumentID),
		)

		if err := mgr.Enqueue(cmd); err != nil {
			switch {
			case errors.Is(err, queue.ErrQueueFull):
				errorResponse(c, "", datatypes.ErrKindQueueFull,
					"too many commands pending for this document", nil)
			default:
				logger.Error("enqueue failed", "error", err)
				errorResponse(c, "", datatypes.ErrKindInternal, "could not queue command", nil)
			}
			return
		}

		final, err := mgr.Wait(ctx, cmd.ID)
		if err != nil {
			// Client went away; the command carries on in the queue.
			c.JSON(http.StatusAccepted, gin.H{
				"commandId": cmd.ID,
				"status":    final.Status,
			})
			return
		}
		writeOutcome(c, final)
	}
}

func writeOutcome(c *gin.Context, cmd datatypes.Command) {
	if cmd.Status == datatypes.StatusCompleted {
		c.JSON(http.StatusOK, datatypes.CommandResponse{
			Success:       true,
			CommandID:     cmd.ID,
			Operations:    cmd.Operations,
			AssistantText: cmd.AssistantText,
			ElapsedMs:     cmd.ElapsedMs,
			TokenUsage:    cmd.Usage,
		})
		return
	}
	kind := cmd.ErrorKind
	if kind == "" {
		kind = datatypes.ErrKindInternal
	}
	errorResponse(c, cmd.ID, kind, cmd.ErrorMessage, cmd.Suggestions)
}

// HandleGetCommand reports a command's current state.
func HandleGetCommand(mgr *queue.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		cmd, ok := mgr.Get(c.Param("id"))
		if !ok {
			errorResponse(c, c.Param("id"), datatypes.ErrKindCommandNotFound,
				"no such command", nil)
			return
		}
		c.JSON(http.StatusOK, cmd)
	}
}

// HandleCancelCommand withdraws a pending command. The caller proves
// ownership with the userId query parameter; only the originator may
// cancel.
func HandleCancelCommand(mgr *queue.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Query("userId")
		if userID == "" {
			errorResponse(c, "", datatypes.ErrKindInvalidRequest, "userId is required", nil)
			return
		}
		err := mgr.Cancel(c.Param("id"), userID)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"commandId": c.Param("id"), "status": datatypes.StatusCancelled})
		case errors.Is(err, queue.ErrCommandNotFound):
			errorResponse(c, c.Param("id"), datatypes.ErrKindCommandNotFound, "no such command", nil)
		case errors.Is(err, queue.ErrNotCancellable):
			errorResponse(c, c.Param("id"), datatypes.ErrKindInvalidRequest,
				"command is no longer pending or belongs to another user", nil)
		default:
			errorResponse(c, c.Param("id"), datatypes.ErrKindInternal, err.Error(), nil)
		}
	}
}
