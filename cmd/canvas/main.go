// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command canvas starts the AleutianCanvas command service.
//
// The service turns natural-language commands into validated canvas
// operations on shared 2-D documents. Configuration comes from flags
// with environment variable fallbacks.
//
// # Environment Variables
//
//   - CANVAS_PORT: HTTP server port (default: 12310)
//   - LLM_BACKEND_TYPE: reasoning provider - openai, claude (default: claude)
//   - CANVAS_BADGER_PATH: directory for the persistent document replica (optional)
//   - CANVAS_CATALOG_OVERRIDE: path to an operation catalog override file (optional)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: aleutian-otel-collector:4317)
//
// # Usage
//
//	# Build
//	go build -o canvas ./cmd/canvas
//
//	# Run
//	./canvas serve
package main

import (
	"log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
