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
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/queue"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// wsObserver forwards queue notifications for one document onto a
// channel the write loop drains. Dropping under backpressure is fine:
// every notification is a full queue view, so the next one supersedes
// anything missed.
type wsObserver struct {
	documentID string
	updates    chan queue.Notification
}

func (o *wsObserver) QueueChanged(n queue.Notification) {
	if n.DocumentID != o.documentID {
		return
	}
	select {
	case o.updates <- n:
	default:
	}
}

// HandleQueueFeed streams queue state changes for one document over a
// websocket. The client gets the current view on connect, then a full
// view on every change.
func HandleQueueFeed(mgr *queue.Manager, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		documentID := c.Param("documentId")

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()
		logger.Info("queue feed client connected", "document_id", documentID)

		obs := &wsObserver{
			documentID: documentID,
			updates:    make(chan queue.Notification, 16),
		}
		unsubscribe := mgr.Subscribe(obs)
		defer unsubscribe()

		if err := ws.WriteJSON(mgr.QueueView(documentID)); err != nil {
			return
		}

		// Reader goroutine only detects disconnect; the feed is one-way.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-closed:
				logger.Info("queue feed client disconnected", "document_id", documentID)
				return
			case <-c.Request.Context().Done():
				return
			case n := <-obs.updates:
				if err := ws.WriteJSON(n); err != nil {
					logger.Info("queue feed write failed", "error", err)
					return
				}
			}
		}
	}
}
