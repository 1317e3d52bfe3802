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
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/queue"
)

// TestQueueFeed_InitialViewAndLifecycle tests that a connecting client
// receives the current queue view, then full views as a command moves
// through the queue.
func TestQueueFeed_InitialViewAndLifecycle(t *testing.T) {
	release := make(chan struct{})
	mgr, err := queue.NewManager(queue.Config{
		Runner: runnerFunc(func(ctx context.Context, cmd *datatypes.Command) datatypes.CommandStatus {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return datatypes.StatusCompleted
		}),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx)
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := gin.New()
	router.GET("/v1/queue/:documentId/ws", HandleQueueFeed(mgr, logger))

	server := httptest.NewServer(router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/queue/doc-1/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer ws.Close()
	defer resp.Body.Close()

	ws.SetReadDeadline(time.Now().Add(5 * time.Second))

	var initial queue.Notification
	if err := ws.ReadJSON(&initial); err != nil {
		t.Fatalf("initial view read failed: %v", err)
	}
	if initial.DocumentID != "doc-1" {
		t.Errorf("initial view document = %q", initial.DocumentID)
	}
	if len(initial.Pending) != 0 || initial.Processing != nil {
		t.Errorf("expected an empty initial view, got %+v", initial)
	}

	cmd := datatypes.NewCommand("doc-1", "user-1", "draw something")
	if err := mgr.Enqueue(cmd); err != nil {
		t.Fatal(err)
	}

	// Updates arrive until the command shows as processing; intermediate
	// pending views may be superseded or dropped.
	sawProcessing := false
	for !sawProcessing {
		var n queue.Notification
		if err := ws.ReadJSON(&n); err != nil {
			t.Fatalf("update read failed: %v", err)
		}
		if n.Processing != nil && n.Processing.ID == cmd.ID {
			sawProcessing = true
		}
	}

	close(release)
	for {
		var n queue.Notification
		if err := ws.ReadJSON(&n); err != nil {
			t.Fatalf("completion read failed: %v", err)
		}
		if n.Finished != nil && n.Finished.ID == cmd.ID {
			if n.Finished.Status != datatypes.StatusCompleted {
				t.Errorf("finished status = %s", n.Finished.Status)
			}
			return
		}
	}
}

// TestWsObserver_FiltersAndDrops tests document filtering and
// non-blocking delivery under backpressure.
func TestWsObserver_FiltersAndDrops(t *testing.T) {
	obs := &wsObserver{documentID: "doc-1", updates: make(chan queue.Notification, 1)}

	obs.QueueChanged(queue.Notification{DocumentID: "other-doc"})
	if len(obs.updates) != 0 {
		t.Error("notifications for other documents must be ignored")
	}

	obs.QueueChanged(queue.Notification{DocumentID: "doc-1"})
	obs.QueueChanged(queue.Notification{DocumentID: "doc-1"})
	if len(obs.updates) != 1 {
		t.Errorf("overflow should drop, not block; buffered %d", len(obs.updates))
	}
}
