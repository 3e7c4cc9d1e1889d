// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/agn-rag/services/engine/datatypes"
)

var mongoTracer = otel.Tracer("agnrag.engine.retrieval")

// MongoConfig identifies the corpus collection and its Atlas vector
// search index.
type MongoConfig struct {
	Database   string
	Collection string
	// VectorIndex is the Atlas Search index over the contentVector field.
	VectorIndex string
	// VectorField is the document field holding the embedding.
	// Default: "contentVector".
	VectorField string
}

// MongoStore runs $vectorSearch aggregations against MongoDB Atlas.
type MongoStore struct {
	client *mongo.Client
	config MongoConfig
}

// mongoHit mirrors the $project stage of the search pipeline.
type mongoHit struct {
	ThreadID int     `bson:"thread_id"`
	Topic    string  `bson:"topic"`
	Question string  `bson:"question"`
	Answer   string  `bson:"answer"`
	Date     string  `bson:"date"`
	Score    float64 `bson:"score"`
}

// NewMongoStore wraps an established Mongo client. The caller owns the
// client lifecycle.
func NewMongoStore(client *mongo.Client, config MongoConfig) *MongoStore {
	if config.VectorField == "" {
		config.VectorField = "contentVector"
	}
	return &MongoStore{client: client, config: config}
}

// Search implements VectorStore via an Atlas $vectorSearch pipeline.
// numCandidates is topK*10, matching the over-fetch the index was tuned
// with.
func (m *MongoStore) Search(ctx context.Context, queryVector []float32, topK int, floor float64) ([]datatypes.RetrievedContext, int, error) {
	ctx, span := mongoTracer.Start(ctx, "MongoStore.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("top_k", topK))

	pipeline := mongo.Pipeline{
		{{Key: "$vectorSearch", Value: bson.D{
			{Key: "index", Value: m.config.VectorIndex},
			{Key: "path", Value: m.config.VectorField},
			{Key: "queryVector", Value: queryVector},
			{Key: "numCandidates", Value: topK * 10},
			{Key: "limit", Value: topK},
		}}},
		{{Key: "$project", Value: bson.D{
			{Key: "_id", Value: 0},
			{Key: "thread_id", Value: 1},
			{Key: "topic", Value: 1},
			{Key: "question", Value: 1},
			{Key: "answer", Value: 1},
			{Key: "date", Value: 1},
			{Key: "score", Value: bson.D{{Key: "$meta", Value: "vectorSearchScore"}}},
		}}},
	}

	collection := m.client.Database(m.config.Database).Collection(m.config.Collection)
	cursor, err := collection.Aggregate(ctx, pipeline)
	if err != nil {
		span.RecordError(err)
		slog.Error("Mongo vector search failed", "error", err)
		return nil, 0, &Error{Store: "mongodb", Err: err}
	}
	defer cursor.Close(ctx)

	var hits []mongoHit
	if err := cursor.All(ctx, &hits); err != nil {
		span.RecordError(err)
		return nil, 0, &Error{Store: "mongodb", Err: err}
	}

	contexts := make([]datatypes.RetrievedContext, 0, len(hits))
	for _, hit := range hits {
		contexts = append(contexts, datatypes.RetrievedContext{
			Document: datatypes.Document{
				ThreadID: hit.ThreadID,
				Topic:    hit.Topic,
				Question: hit.Question,
				Answer:   hit.Answer,
				Date:     hit.Date,
			},
			Score: hit.Score,
		})
	}

	ranked, filtered := applyRanking(contexts, topK, floor)
	span.SetAttributes(attribute.Int("results", len(ranked)))
	slog.Debug("Mongo vector search completed",
		"raw_hits", len(hits), "ranked", len(ranked), "filtered", filtered)
	return ranked, filtered, nil
}
