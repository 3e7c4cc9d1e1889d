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
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/AleutianAI/agn-rag/services/engine"
)

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("Invalid integer env var, using default", "key", key, "value", raw)
		return fallback
	}
	return v
}

func envFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		slog.Warn("Invalid float env var, using default", "key", key, "value", raw)
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("Invalid duration env var, using default", "key", key, "value", raw)
		return fallback
	}
	return v
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment as-is")
	}

	cfg := engine.Config{
		Port:             envInt("ENGINE_PORT", 8000),
		GinMode:          os.Getenv("GIN_MODE"),
		MongoURI:         os.Getenv("MONGODB_URI"),
		MongoDatabase:    os.Getenv("MONGODB_DATABASE"),
		MongoCollection:  os.Getenv("MONGODB_COLLECTION"),
		MongoVectorIndex: os.Getenv("VECTOR_INDEX_NAME"),
		WeaviateURL:      os.Getenv("WEAVIATE_SERVICE_URL"),
		EmbedServiceURL:  os.Getenv("EMBED_SERVICE_URL"),
		EmbedDimension:   envInt("EMBED_DIMENSION", 0),
		LLMBackend:       os.Getenv("LLM_BACKEND_TYPE"),
		OTelEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		EnableMetrics:    os.Getenv("DISABLE_METRICS") == "",
		SimilarityFloor:  envFloat("SIMILARITY_FLOOR", 0),
		DefaultTopK:      envInt("DEFAULT_TOP_K", 0),
		RetrievalTimeout: envDuration("RETRIEVAL_TIMEOUT", 0),
		SynthesisTimeout: envDuration("SYNTHESIS_TIMEOUT", 0),
		TokenBudget:      envInt("SESSION_TOKEN_BUDGET", 0),
		IdleTimeout:      envDuration("SESSION_IDLE_TIMEOUT", 0),
		ReaperInterval:   envDuration("SESSION_REAP_INTERVAL", 0),
	}

	svc, err := engine.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize the chat engine: %v", err)
	}

	log.Println("Starting the chat engine server on port ", cfg.Port)
	if err := svc.Run(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
