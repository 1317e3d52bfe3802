// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianCanvas/services/canvas"
	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/catalog"
	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/datatypes"
)

// CreateDocumentRequest provisions a new canvas document.
type CreateDocumentRequest struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

const (
	defaultCanvasWidth  = 1920.0
	defaultCanvasHeight = 1080.0
)

// HandleCreateDocument provisions an empty canvas document.
func HandleCreateDocument(store canvas.Store, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateDocumentRequest
		if err := c.BindJSON(&req); err != nil {
			errorResponse(c, "", datatypes.ErrKindInvalidRequest, "invalid request body", nil)
			return
		}
		if req.Width <= 0 {
			req.Width = defaultCanvasWidth
		}
		if req.Height <= 0 {
			req.Height = defaultCanvasHeight
		}
		id, err := store.CreateDocument(c.Request.Context(), req.Width, req.Height)
		if err != nil {
			logger.Error("document creation failed", "error", err)
			errorResponse(c, "", datatypes.ErrKindInternal, "could not create document", nil)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"documentId": id, "width": req.Width, "height": req.Height})
	}
}

// HandleGetDocument returns a point-in-time snapshot of one document.
func HandleGetDocument(store canvas.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		snapshot, err := store.ReadSnapshot(c.Request.Context(), c.Param("documentId"))
		if err != nil {
			errorResponse(c, "", datatypes.ErrKindDocumentNotFound,
				"document "+c.Param("documentId")+" does not exist", nil)
			return
		}
		c.JSON(http.StatusOK, snapshot)
	}
}

// HandleGetCatalog exposes the operation catalog for clients and
// debugging.
func HandleGetCatalog(registry *catalog.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    registry.Version(),
			"operations": registry.ToolDefinitions(),
		})
	}
}

// HandleHealth is the liveness probe.
func HandleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
