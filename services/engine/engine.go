// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine provides the conversational retrieval service for
// Thai medical Q&A.
//
// This package contains the main Service type that coordinates all
// components: HTTP routing, the embedding provider, the vector store,
// LLM backends, session memory, and observability infrastructure.
//
// # Usage
//
//	cfg := engine.Config{Port: 8000, MongoURI: "mongodb://..."}
//	svc, err := engine.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc.Run()
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/agn-rag/services/embedding"
	"github.com/AleutianAI/agn-rag/services/engine/memory"
	"github.com/AleutianAI/agn-rag/services/engine/normalize"
	"github.com/AleutianAI/agn-rag/services/engine/observability"
	"github.com/AleutianAI/agn-rag/services/engine/retrieval"
	"github.com/AleutianAI/agn-rag/services/engine/routes"
	"github.com/AleutianAI/agn-rag/services/engine/synthesis"
	"github.com/AleutianAI/agn-rag/services/llm"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the chat engine service.
//
// Implementations must be safe for concurrent use. Run() blocks and
// should only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds engine configuration options. All fields are optional
// with defaults applied by New().
type Config struct {
	// Port is the HTTP server port. Default: 8000
	Port int

	// GinMode sets the Gin framework mode.
	// Default: uses GIN_MODE env var or "debug"
	GinMode string

	// MongoURI is the MongoDB Atlas connection string. When set, the
	// Mongo vector store is the retrieval backend.
	MongoURI string

	// MongoDatabase is the database holding the Q&A collection.
	// Default: "medical_qa"
	MongoDatabase string

	// MongoCollection is the Q&A document collection.
	// Default: "qa_documents"
	MongoCollection string

	// MongoVectorIndex is the Atlas Vector Search index name.
	// Default: "vector_index"
	MongoVectorIndex string

	// WeaviateURL selects the Weaviate vector store when MongoURI is
	// empty. Example: "http://localhost:8080"
	WeaviateURL string

	// EmbedServiceURL is the embedding sidecar base URL. When empty and
	// an OpenAI key is available, OpenAI embeddings are used instead.
	EmbedServiceURL string

	// EmbedDimension is the embedding vector width. Default: 1024
	EmbedDimension int

	// LLMBackend selects the generation backend.
	// Valid values: "openai", "local". Empty selects "openai" when
	// OPENAI_API_KEY is set and "local" otherwise. The choice is fixed
	// at startup; there is no per-request fallback.
	LLMBackend string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "localhost:4317"
	OTelEndpoint string

	// EnableMetrics enables the Prometheus /metrics endpoint.
	EnableMetrics bool

	// SimilarityFloor drops retrieved documents scoring below it.
	// Zero means the default (0.5); negative disables the floor.
	SimilarityFloor float64

	// DefaultTopK is the retrieval depth when a request omits top_k.
	// Default: 5
	DefaultTopK int

	// RetrievalTimeout bounds embedding plus vector search.
	// Default: 10s
	RetrievalTimeout time.Duration

	// SynthesisTimeout bounds answer generation. Default: 60s
	SynthesisTimeout time.Duration

	// TokenBudget caps resident session history tokens. Default: 3000
	TokenBudget int

	// IdleTimeout expires sessions with no activity. Default: 24h
	IdleTimeout time.Duration

	// ReaperInterval is how often idle sessions are swept. Default: 1h
	ReaperInterval time.Duration
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
type service struct {
	config        Config
	router        *gin.Engine
	pipeline      *Pipeline
	memory        *memory.Manager
	reaper        *memory.Reaper
	llmClient     llm.LLMClient
	mongoClient   *mongo.Client
	tracerCleanup func(context.Context)
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a chat engine Service with the given configuration.
//
// New initializes all components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing
//  3. Initializes Prometheus metrics
//  4. Creates the LLM client based on backend type
//  5. Creates the embedding provider and vector store
//  6. Creates session memory and starts the idle reaper
//  7. Sets up HTTP routes
func New(cfg Config) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	var metrics *observability.EngineMetrics
	if s.config.EnableMetrics {
		metrics = observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics for chat engine")
	}

	if err := s.initLLMClient(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	embedder, err := s.initEmbedder()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	store, err := s.initVectorStore()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}

	s.initMemory(metrics)

	// The original Thai prompts only behave well on OpenAI-class
	// models, so normalization is disabled on the local backend.
	var normalizer *normalize.Normalizer
	if s.config.LLMBackend == "openai" {
		normalizer = normalize.NewNormalizer(s.llmClient, "")
	} else {
		normalizer = normalize.NewNormalizer(nil, "")
	}

	synthesizer := synthesis.NewSynthesizer(s.llmClient, synthesis.Config{})

	s.pipeline = NewPipeline(
		PipelineConfig{
			DefaultTopK:      s.config.DefaultTopK,
			SimilarityFloor:  s.config.SimilarityFloor,
			RetrievalTimeout: s.config.RetrievalTimeout,
			SynthesisTimeout: s.config.SynthesisTimeout,
		},
		normalizer,
		embedder,
		store,
		synthesizer,
		s.memory,
		metrics,
	)

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
	slog.Info("Starting chat engine server", "port", s.config.Port)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.MongoDatabase == "" {
		cfg.MongoDatabase = "medical_qa"
	}
	if cfg.MongoCollection == "" {
		cfg.MongoCollection = "qa_documents"
	}
	if cfg.MongoVectorIndex == "" {
		cfg.MongoVectorIndex = "vector_index"
	}
	if cfg.EmbedDimension == 0 {
		cfg.EmbedDimension = 1024
	}
	if cfg.LLMBackend == "" {
		if os.Getenv("OPENAI_API_KEY") != "" {
			cfg.LLMBackend = "openai"
		} else {
			cfg.LLMBackend = "local"
		}
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "localhost:4317"
	}
	if cfg.SimilarityFloor == 0 {
		cfg.SimilarityFloor = 0.5
	}
	if cfg.DefaultTopK == 0 {
		cfg.DefaultTopK = 5
	}
	if cfg.RetrievalTimeout == 0 {
		cfg.RetrievalTimeout = 10 * time.Second
	}
	if cfg.SynthesisTimeout == 0 {
		cfg.SynthesisTimeout = 60 * time.Second
	}
	if cfg.TokenBudget == 0 {
		cfg.TokenBudget = 3000
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 24 * time.Hour
	}
	if cfg.ReaperInterval == 0 {
		cfg.ReaperInterval = 1 * time.Hour
	}
	return cfg
}

// initTracer initializes OpenTelemetry distributed tracing.
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
		resource.WithAttributes(semconv.ServiceNameKey.String("agn-rag-engine")))
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

// initLLMClient creates the generation backend. The choice is fixed at
// startup; a backend outage surfaces per-request rather than switching
// backends mid-conversation.
func (s *service) initLLMClient() error {
	var err error

	switch s.config.LLMBackend {
	case "openai":
		s.llmClient, err = llm.NewOpenAIClient()
		slog.Info("Using OpenAI LLM backend")
	case "local":
		s.llmClient, err = llm.NewLocalLlamaCppClient()
		slog.Info("Using Local Llama.cpp LLM backend")
	default:
		slog.Warn("Unknown LLM backend, defaulting to local", "backend", s.config.LLMBackend)
		s.llmClient, err = llm.NewLocalLlamaCppClient()
	}

	return err
}

// initEmbedder creates the embedding provider. The sidecar service is
// preferred; OpenAI embeddings are the fallback when only an API key is
// configured.
func (s *service) initEmbedder() (embedding.Provider, error) {
	if s.config.EmbedServiceURL != "" {
		slog.Info("Using HTTP embedding service", "url", s.config.EmbedServiceURL,
			"dimension", s.config.EmbedDimension)
		return embedding.NewHTTPEmbedder(s.config.EmbedServiceURL, s.config.EmbedDimension, 0), nil
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		slog.Info("Using OpenAI embedding provider", "dimension", s.config.EmbedDimension)
		return embedding.NewOpenAIEmbedder(key, "", s.config.EmbedDimension), nil
	}

	return nil, fmt.Errorf("no embedding provider configured: set EMBED_SERVICE_URL or OPENAI_API_KEY")
}

// initVectorStore selects the retrieval backend: MongoDB Atlas when a
// URI is configured, Weaviate as the alternate, and the in-process
// store for development.
func (s *service) initVectorStore() (retrieval.VectorStore, error) {
	if s.config.MongoURI != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		client, err := mongo.Connect(ctx, mongooptions.Client().ApplyURI(s.config.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		s.mongoClient = client

		slog.Info("MongoDB vector store initialized",
			"database", s.config.MongoDatabase,
			"collection", s.config.MongoCollection,
			"index", s.config.MongoVectorIndex)

		return retrieval.NewMongoStore(client, retrieval.MongoConfig{
			Database:    s.config.MongoDatabase,
			Collection:  s.config.MongoCollection,
			VectorIndex: s.config.MongoVectorIndex,
		}), nil
	}

	if weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' "); weaviateURL != "" {
		parsedURL, err := url.Parse(weaviateURL)
		if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
			return nil, fmt.Errorf("invalid Weaviate URL: %s", weaviateURL)
		}

		client, err := weaviate.NewClient(weaviate.Config{
			Host:   parsedURL.Host,
			Scheme: parsedURL.Scheme,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Weaviate client: %w", err)
		}

		slog.Info("Weaviate vector store initialized", "url", weaviateURL)
		return retrieval.NewWeaviateStore(client), nil
	}

	slog.Warn("No vector database configured, using in-process store")
	return retrieval.NewMemoryStore(), nil
}

// initMemory creates session memory and starts the idle reaper.
// Eviction and condensation feed the session metrics through the
// manager hooks when metrics are enabled.
func (s *service) initMemory(metrics *observability.EngineMetrics) {
	var condenser memory.Condenser
	if s.llmClient != nil {
		condenser = memory.NewLLMCondenser(s.llmClient, "")
	}

	memConfig := memory.Config{
		TokenBudget: s.config.TokenBudget,
		IdleTimeout: s.config.IdleTimeout,
	}
	if metrics != nil {
		memConfig.OnEvict = func(sessions int) {
			metrics.RecordEvictions(sessions)
			metrics.SetActiveSessions(s.memory.Len())
		}
		memConfig.OnCondense = metrics.RecordCondensedTurns
	}

	s.memory = memory.NewManager(memConfig, memory.NewTokenCounter(), condenser)

	s.reaper = memory.NewReaper(s.memory, memory.ReaperConfig{
		Interval: s.config.ReaperInterval,
	})
	if err := s.reaper.Start(context.Background()); err != nil {
		slog.Warn("Session reaper failed to start", "error", err)
	} else {
		slog.Info("Session reaper started",
			"interval", s.config.ReaperInterval.String(),
			"idle_timeout", s.config.IdleTimeout.String())
	}
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}

	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("agn-rag-engine"))

	routes.SetupRoutes(s.router, s.pipeline, s.config.EnableMetrics)
}

// cleanup releases all resources held by the service.
func (s *service) cleanup() {
	if s.reaper != nil {
		if err := s.reaper.Stop(); err != nil {
			slog.Warn("Session reaper stop error", "error", err)
		}
	}

	if s.mongoClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.mongoClient.Disconnect(ctx); err != nil {
			slog.Warn("MongoDB disconnect error", "error", err)
		}
		cancel()
	}

	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
