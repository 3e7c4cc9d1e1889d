// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package indexer backfills vector embeddings for Q&A documents.
//
// # Description
//
// The indexer scans the Q&A collection for documents missing a
// contentVector field, embeds the combined topic and question text,
// and bulk-writes the vectors back. It is an offline batch tool run
// after scraping, not part of the serving path.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/agn-rag/services/embedding"
	"github.com/AleutianAI/agn-rag/services/engine/datatypes"
)

const vectorField = "contentVector"

// Config tunes the indexing run.
type Config struct {
	// BatchSize is how many documents are embedded and written per
	// bulk update. Default: 32
	BatchSize int

	// Concurrency bounds parallel embedding calls within a batch.
	// Default: 4
	Concurrency int
}

func applyConfigDefaults(config Config) Config {
	if config.BatchSize == 0 {
		config.BatchSize = 32
	}
	if config.Concurrency == 0 {
		config.Concurrency = 4
	}
	return config
}

// Stats summarizes one indexing run.
type Stats struct {
	Processed int
	Updated   int
	Skipped   int
}

// Indexer embeds documents and writes their vectors to MongoDB.
type Indexer struct {
	collection *mongo.Collection
	embedder   embedding.Provider
	config     Config
}

// NewIndexer builds an Indexer over the given collection.
func NewIndexer(collection *mongo.Collection, embedder embedding.Provider, config Config) *Indexer {
	return &Indexer{
		collection: collection,
		embedder:   embedder,
		config:     applyConfigDefaults(config),
	}
}

// CombinedText joins topic and question into the text that gets
// embedded. Blank fields are omitted; a fully blank document yields
// the empty string and is skipped by the run.
func CombinedText(doc datatypes.Document) string {
	var parts []string
	if topic := strings.TrimSpace(doc.Topic); topic != "" {
		parts = append(parts, fmt.Sprintf("หัวข้อ: %s", topic))
	}
	if question := strings.TrimSpace(doc.Question); question != "" {
		parts = append(parts, fmt.Sprintf("คำถาม: %s", question))
	}
	return strings.Join(parts, "\n")
}

// indexedDoc pairs a document with its Mongo object id for the
// write-back.
type indexedDoc struct {
	ID       primitive.ObjectID `bson:"_id"`
	ThreadID int                `bson:"thread_id"`
	Topic    string             `bson:"topic"`
	Question string             `bson:"question"`
}

// Run embeds every document missing a vector and bulk-writes the
// results. It returns the run totals; a partial run still reports what
// it managed to update.
func (ix *Indexer) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	filter := bson.M{vectorField: bson.M{"$exists": false}}
	cursor, err := ix.collection.Find(ctx, filter)
	if err != nil {
		return stats, fmt.Errorf("find documents without vectors: %w", err)
	}
	defer cursor.Close(ctx)

	var batch []indexedDoc
	for cursor.Next(ctx) {
		var doc indexedDoc
		if err := cursor.Decode(&doc); err != nil {
			return stats, fmt.Errorf("decode document: %w", err)
		}

		text := CombinedText(datatypes.Document{Topic: doc.Topic, Question: doc.Question})
		if text == "" {
			slog.Warn("Document has no embeddable text, skipping", "thread_id", doc.ThreadID)
			stats.Skipped++
			continue
		}

		batch = append(batch, doc)
		if len(batch) >= ix.config.BatchSize {
			if err := ix.processBatch(ctx, batch, &stats); err != nil {
				return stats, err
			}
			slog.Info("Indexing progress", "processed", stats.Processed, "updated", stats.Updated)
			batch = batch[:0]
		}
	}
	if err := cursor.Err(); err != nil {
		return stats, fmt.Errorf("iterate documents: %w", err)
	}

	if len(batch) > 0 {
		if err := ix.processBatch(ctx, batch, &stats); err != nil {
			return stats, err
		}
	}

	slog.Info("Indexing completed",
		"processed", stats.Processed,
		"updated", stats.Updated,
		"skipped", stats.Skipped)
	return stats, nil
}

// processBatch embeds one batch concurrently and bulk-writes the
// vectors.
func (ix *Indexer) processBatch(ctx context.Context, batch []indexedDoc, stats *Stats) error {
	vectors, err := ix.embedBatch(ctx, batch)
	if err != nil {
		return err
	}

	models := make([]mongo.WriteModel, 0, len(batch))
	for i, doc := range batch {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": doc.ID}).
			SetUpdate(bson.M{"$set": bson.M{vectorField: vectors[i]}}))
	}

	result, err := ix.collection.BulkWrite(ctx, models)
	if err != nil {
		return fmt.Errorf("bulk write vectors: %w", err)
	}

	stats.Processed += len(batch)
	stats.Updated += int(result.ModifiedCount)
	return nil
}

// embedBatch embeds the batch with bounded concurrency, preserving
// input order.
func (ix *Indexer) embedBatch(ctx context.Context, batch []indexedDoc) ([][]float32, error) {
	vectors := make([][]float32, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.config.Concurrency)
	for i, doc := range batch {
		g.Go(func() error {
			text := CombinedText(datatypes.Document{Topic: doc.Topic, Question: doc.Question})
			vector, err := ix.embedder.Embed(gctx, text)
			if err != nil {
				return fmt.Errorf("embed document %d: %w", doc.ThreadID, err)
			}
			vectors[i] = vector
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// Verify reports how many documents carry vectors versus the total.
func (ix *Indexer) Verify(ctx context.Context) (withVectors, total int64, err error) {
	total, err = ix.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, 0, fmt.Errorf("count documents: %w", err)
	}

	withVectors, err = ix.collection.CountDocuments(ctx, bson.M{vectorField: bson.M{"$exists": true}})
	if err != nil {
		return 0, 0, fmt.Errorf("count embedded documents: %w", err)
	}

	return withVectors, total, nil
}
