// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianCanvas/pkg/logging"
	"github.com/AleutianAI/AleutianCanvas/services/orchestrator"
	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/catalog"
)

var (
	flagPort       int
	flagBackend    string
	flagBadgerPath string
	flagLogDir     string
	flagJSONLogs   bool

	appLogger *logging.Logger

	rootCmd = &cobra.Command{
		Use:   "canvas",
		Short: "The Aleutian canvas command service",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			appLogger = logging.New(logging.Config{
				Level:   slog.LevelInfo,
				LogDir:  flagLogDir,
				Service: "canvas",
				JSON:    flagJSONLogs,
			})
			slog.SetDefault(appLogger.Slog())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if appLogger != nil {
				_ = appLogger.Close()
			}
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the canvas command HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := orchestrator.Config{
				Port:                flagPort,
				LLMBackend:          flagBackend,
				BadgerPath:          flagBadgerPath,
				OTelEndpoint:        getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
				CatalogOverridePath: os.Getenv("CANVAS_CATALOG_OVERRIDE"),
			}

			svc, err := orchestrator.New(cfg)
			if err != nil {
				return fmt.Errorf("failed to create service: %w", err)
			}

			// Drain queues on SIGINT/SIGTERM before exiting.
			ctx, stop := signal.NotifyContext(context.Background(),
				os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				if err := svc.Shutdown(context.Background()); err != nil {
					slog.Warn("shutdown error", "error", err)
				}
				os.Exit(0)
			}()

			return svc.Run()
		},
	}

	catalogCmd = &cobra.Command{
		Use:   "catalog",
		Short: "Print the operation catalog and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := catalog.Load()
			if err != nil {
				return err
			}
			fmt.Printf("catalog version %s\n", registry.Version())
			for _, name := range registry.Names() {
				spec, _ := registry.Lookup(name)
				fmt.Printf("  %-20s %s  %s\n", name, spec.Kind, spec.Description)
			}
			return nil
		},
	}
)

func init() {
	serveCmd.Flags().IntVar(&flagPort, "port", getEnvInt("CANVAS_PORT", 12310),
		"HTTP server port")
	serveCmd.Flags().StringVar(&flagBackend, "backend",
		getEnvString("LLM_BACKEND_TYPE", "claude"),
		"reasoning provider (openai, claude)")
	serveCmd.Flags().StringVar(&flagBadgerPath, "badger-path",
		os.Getenv("CANVAS_BADGER_PATH"),
		"directory for the persistent document replica")
	rootCmd.PersistentFlags().StringVar(&flagLogDir, "log-dir", "",
		"directory for file logging (disabled when empty)")
	rootCmd.PersistentFlags().BoolVar(&flagJSONLogs, "json-logs", false,
		"emit JSON logs on stderr")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(catalogCmd)
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
