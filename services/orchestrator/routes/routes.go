// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianCanvas/services/canvas"
	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/catalog"
	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/queue"
)

// Deps carries everything the route table wires together.
type Deps struct {
	Store    canvas.Store
	Queue    *queue.Manager
	Registry *catalog.Registry
	Logger   *slog.Logger

	// EnableMetrics exposes /metrics when true.
	EnableMetrics bool
}

func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HandleHealth())
	if deps.EnableMetrics {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.GET("/catalog", handlers.HandleGetCatalog(deps.Registry))

		v1.POST("/documents", handlers.HandleCreateDocument(deps.Store, deps.Logger))
		v1.GET("/documents/:documentId", handlers.HandleGetDocument(deps.Store))

		commands := v1.Group("/commands")
		{
			commands.POST("", handlers.HandleSubmitCommand(deps.Store, deps.Queue, deps.Logger))
			commands.GET("/:id", handlers.HandleGetCommand(deps.Queue))
			commands.DELETE("/:id", handlers.HandleCancelCommand(deps.Queue))
		}

		v1.GET("/queue/:documentId/ws", handlers.HandleQueueFeed(deps.Queue, deps.Logger))
	}
}
