// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command ragindexer backfills vector embeddings for the Q&A
// collection. Run it after new documents are scraped and before the
// engine serves them.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/AleutianAI/agn-rag/services/embedding"
	"github.com/AleutianAI/agn-rag/services/indexer"
)

func main() {
	batchSize := flag.Int("batch", 32, "documents per bulk write")
	concurrency := flag.Int("concurrency", 4, "parallel embedding calls")
	dimension := flag.Int("dimension", 1024, "embedding vector width")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment as-is")
	}

	mongoURI := os.Getenv("MONGODB_URI")
	if mongoURI == "" {
		log.Fatal("MONGODB_URI is required")
	}
	database := os.Getenv("MONGODB_DATABASE")
	if database == "" {
		database = "medical_qa"
	}
	collection := os.Getenv("MONGODB_COLLECTION")
	if collection == "" {
		collection = "qa_documents"
	}

	var embedder embedding.Provider
	if embedURL := os.Getenv("EMBED_SERVICE_URL"); embedURL != "" {
		embedder = embedding.NewHTTPEmbedder(embedURL, *dimension, 0)
	} else if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		embedder = embedding.NewOpenAIEmbedder(key, "", *dimension)
	} else {
		log.Fatal("no embedding provider configured: set EMBED_SERVICE_URL or OPENAI_API_KEY")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mongoURI))
	cancel()
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Disconnect(ctx); err != nil {
			slog.Warn("MongoDB disconnect error", "error", err)
		}
	}()

	ix := indexer.NewIndexer(
		client.Database(database).Collection(collection),
		embedder,
		indexer.Config{BatchSize: *batchSize, Concurrency: *concurrency},
	)

	stats, err := ix.Run(context.Background())
	if err != nil {
		log.Fatalf("Indexing failed after %d updates: %v", stats.Updated, err)
	}

	withVectors, total, err := ix.Verify(context.Background())
	if err != nil {
		log.Fatalf("Verification failed: %v", err)
	}
	if withVectors == total {
		slog.Info("All documents have embeddings", "total", total)
	} else {
		slog.Warn("Some documents are missing embeddings",
			"with_vectors", withVectors, "total", total)
	}
}
