// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator provides the core canvas command service for
// AleutianCanvas.
//
// This package contains the main service type that coordinates all
// components of the pipeline: HTTP routing, the reasoning client, the
// operation catalog, the per-document command queue, the executor, and
// observability infrastructure.
//
// # Usage
//
//	cfg := orchestrator.Config{Port: 12310, LLMBackend: "claude"}
//	svc, err := orchestrator.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianCanvas/services/canvas"
	"github.com/AleutianAI/AleutianCanvas/services/llm"
	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/catalog"
	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/executor"
	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/gateway"
	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/loop"
	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/queue"
	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/routes"
	"github.com/AleutianAI/AleutianCanvas/services/orchestrator/validate"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the canvas command service.
//
// # Description
//
// Service abstracts the service lifecycle, enabling testing and
// alternative implementations. The interface follows the minimal surface
// area principle - only essential lifecycle methods are exposed.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and should
// only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for testing.
	//
	// # Assumptions
	//
	//   - Caller will not modify the router
	Router() *gin.Engine

	// Shutdown drains the command queues and releases resources.
	Shutdown(ctx context.Context) error
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds service configuration options.
//
// # Description
//
// Config centralizes all configuration for the canvas command service.
// Values can be populated from environment variables, config files,
// or programmatically for testing.
//
// # Required Fields
//
// None - all fields have sensible defaults.
type Config struct {
	// Port is the HTTP server port. Default: 12310
	Port int

	// LLMBackend specifies the reasoning provider.
	// Valid values: "openai", "claude", "anthropic"
	// Default: "claude"
	LLMBackend string

	// BadgerPath is the directory for the persistent document replica.
	// If empty, documents live in memory only.
	BadgerPath string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "aleutian-otel-collector:4317"
	OTelEndpoint string

	// EnableMetrics enables the Prometheus metrics endpoint.
	// Default: true
	EnableMetrics bool

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test"
	// Default: uses GIN_MODE env var or "debug"
	GinMode string

	// QueueCapacity bounds the pending window per document. Default: 5
	QueueCapacity int

	// PendingTimeout expires commands that wait too long. Default: 30s
	PendingTimeout time.Duration

	// MaxIterations caps reasoning round-trips per command. Default: 5
	MaxIterations int

	// CatalogOverridePath, when set, is watched for operation catalog
	// overrides replacing the embedded catalog at runtime.
	CatalogOverridePath string

	// RequestsPerSecond throttles outbound reasoning calls.
	// Zero disables local throttling.
	RequestsPerSecond float64
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12310
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = "claude"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "aleutian-otel-collector:4317"
	}
	cfg.EnableMetrics = true
	if cfg.QueueCapacity == 0 {
		cfg.QueueCapacity = queue.DefaultCapacity
	}
	if cfg.PendingTimeout == 0 {
		cfg.PendingTimeout = queue.DefaultPendingTimeout
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = loop.DefaultMaxIterations
	}
	return cfg
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Description
//
// service is the main implementation that coordinates:
//   - HTTP routing via Gin
//   - Reasoning client management
//   - The operation catalog and validator
//   - The per-document command queue and orchestration loop
//   - Optional Badger-backed document replication
//   - OpenTelemetry tracing and Prometheus metrics
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
type service struct {
	config        Config
	router        *gin.Engine
	store         *canvas.MemoryStore
	replicator    *canvas.BadgerReplicator
	registry      *catalog.Registry
	queue         *queue.Manager
	tracerCleanup func(context.Context)
	watchCancel   context.CancelFunc
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a new canvas command Service with the given configuration.
//
// # Description
//
// New initializes all pipeline components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing
//  3. Initializes Prometheus metrics
//  4. Loads the operation catalog (embedded, plus optional override watch)
//  5. Opens the document store, restoring replicated documents
//  6. Creates the reasoning client based on backend type
//  7. Assembles gateway, validator, executor, loop, and queue
//  8. Sets up HTTP routes
//
// # Outputs
//
//   - Service: Ready-to-run service
//   - error: Non-nil if initialization fails
//
// # Assumptions
//
//   - Environment variables are set for the reasoning provider (API keys)
//   - Network is available for external service connections
func New(cfg Config) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	var metrics *observability.CommandMetrics
	if s.config.EnableMetrics {
		metrics = observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics for command pipeline")
	}

	s.registry, err = catalog.Load()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to load operation catalog: %w", err)
	}
	if s.config.CatalogOverridePath != "" {
		watchCtx, cancel := context.WithCancel(context.Background())
		s.watchCancel = cancel
		go func() {
			// Blocks until shutdown; a watch setup failure downgrades to
			// the embedded catalog.
			err := s.registry.WatchOverride(watchCtx, s.config.CatalogOverridePath)
			if err != nil && watchCtx.Err() == nil {
				slog.Warn("catalog override watch failed, using embedded catalog",
					"path", s.config.CatalogOverridePath, "error", err)
			}
		}()
	}

	if err := s.initStore(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize document store: %w", err)
	}

	client, err := s.initLLMClient()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize reasoning client: %w", err)
	}

	gw, err := gateway.New(gateway.Config{
		Client:            client,
		RequestsPerSecond: s.config.RequestsPerSecond,
	})
	if err != nil {
		s.cleanup()
		return nil, err
	}

	exec, err := executor.New(executor.Config{Store: s.store})
	if err != nil {
		s.cleanup()
		return nil, err
	}

	runner, err := loop.New(loop.Config{
		Store:         s.store,
		Gateway:       gw,
		Validator:     validate.New(s.registry),
		Executor:      exec,
		Registry:      s.registry,
		MaxIterations: s.config.MaxIterations,
		Metrics:       metrics,
	})
	if err != nil {
		s.cleanup()
		return nil, err
	}

	s.queue, err = queue.NewManager(queue.Config{
		Runner:         runner,
		Capacity:       s.config.QueueCapacity,
		PendingTimeout: s.config.PendingTimeout,
	})
	if err != nil {
		s.cleanup()
		return nil, err
	}

	s.initRouter()

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting canvas command server", "port", s.config.Port)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Shutdown drains the command queues and releases resources.
func (s *service) Shutdown(ctx context.Context) error {
	var err error
	if s.queue != nil {
		err = s.queue.Shutdown(ctx)
	}
	s.cleanup()
	return err
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// initTracer initializes OpenTelemetry distributed tracing.
//
// # Description
//
// Sets up OTLP trace exporter to send spans to the configured collector.
//
// # Limitations
//
//   - Uses insecure gRPC connection (appropriate for internal networks)
//
// # Assumptions
//
//   - OTel collector is reachable at configured endpoint
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("canvas-service")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initStore opens the in-memory document store, backed by a Badger
// replica when a path is configured. Replicated documents are restored
// at startup so the store survives restarts.
func (s *service) initStore() error {
	if s.config.BadgerPath == "" {
		slog.Info("Badger path not configured, documents are memory-only")
		s.store = canvas.NewMemoryStore(canvas.NopReplicator{})
		return nil
	}

	replicator, err := canvas.OpenBadgerReplicator(canvas.BadgerConfig{
		Path: s.config.BadgerPath,
	})
	if err != nil {
		return err
	}
	s.replicator = replicator
	s.store = canvas.NewMemoryStore(replicator)

	snapshots, err := replicator.LoadAll(context.Background())
	if err != nil {
		return err
	}
	for _, snapshot := range snapshots {
		s.store.RestoreDocument(snapshot)
	}
	slog.Info("Restored replicated documents", "count", len(snapshots))
	return nil
}

// initLLMClient creates the reasoning client for the configured backend.
//
// # Assumptions
//
//   - Required environment variables are set for the chosen provider
func (s *service) initLLMClient() (llm.ReasoningClient, error) {
	switch s.config.LLMBackend {
	case "openai":
		slog.Info("Using OpenAI reasoning backend")
		return llm.NewOpenAIClient()
	case "claude", "anthropic":
		slog.Info("Using Anthropic (Claude) reasoning backend")
		return llm.NewAnthropicClient()
	default:
		return nil, fmt.Errorf("unknown reasoning backend %q", s.config.LLMBackend)
	}
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("canvas-service"))

	routes.SetupRoutes(s.router, routes.Deps{
		Store:         s.store,
		Queue:         s.queue,
		Registry:      s.registry,
		Logger:        slog.Default(),
		EnableMetrics: s.config.EnableMetrics,
	})
}

// cleanup releases all resources held by the service.
func (s *service) cleanup() {
	if s.watchCancel != nil {
		s.watchCancel()
	}
	if s.replicator != nil {
		if err := s.replicator.Close(); err != nil {
			slog.Warn("Badger close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
