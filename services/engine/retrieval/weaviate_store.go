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
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/agn-rag/services/engine/datatypes"
)

// qaClassName is the Weaviate class holding the mirrored Q&A corpus.
const qaClassName = "QADocument"

// WeaviateStore runs nearVector queries against a Weaviate deployment of
// the corpus. It exists for installations that already operate Weaviate
// instead of MongoDB Atlas; the class schema mirrors the Mongo fields.
type WeaviateStore struct {
	client *weaviate.Client
}

// qaQueryResponse matches the GraphQL Get response for QADocument.
type qaQueryResponse struct {
	Get struct {
		QADocument []struct {
			ThreadID   float64 `json:"thread_id"`
			Topic      string  `json:"topic"`
			Question   string  `json:"question"`
			Answer     string  `json:"answer"`
			Date       string  `json:"date"`
			Additional struct {
				Certainty float64 `json:"certainty"`
			} `json:"_additional"`
		} `json:"QADocument"`
	} `json:"Get"`
}

// NewWeaviateStore wraps an established Weaviate client.
func NewWeaviateStore(client *weaviate.Client) *WeaviateStore {
	return &WeaviateStore{client: client}
}

// Search implements VectorStore via GraphQL nearVector.
// Certainty (always in [0,1]) is used as the similarity score instead of
// distance, which varies by metric.
func (w *WeaviateStore) Search(ctx context.Context, queryVector []float32, topK int, floor float64) ([]datatypes.RetrievedContext, int, error) {
	nearVector := w.client.GraphQL().NearVectorArgBuilder().
		WithVector(queryVector)

	fields := []graphql.Field{
		{Name: "thread_id"},
		{Name: "topic"},
		{Name: "question"},
		{Name: "answer"},
		{Name: "date"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "certainty"},
		}},
	}

	result, err := w.client.GraphQL().Get().
		WithClassName(qaClassName).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(topK).
		Do(ctx)
	if err != nil {
		slog.Error("Weaviate nearVector search failed", "error", err)
		return nil, 0, &Error{Store: "weaviate", Err: err}
	}
	if len(result.Errors) > 0 {
		return nil, 0, &Error{Store: "weaviate",
			Err: fmt.Errorf("graphql error: %s", result.Errors[0].Message)}
	}

	parsed, err := parseGraphQLResponse[qaQueryResponse](result)
	if err != nil {
		return nil, 0, &Error{Store: "weaviate", Err: err}
	}

	contexts := make([]datatypes.RetrievedContext, 0, len(parsed.Get.QADocument))
	for _, hit := range parsed.Get.QADocument {
		contexts = append(contexts, datatypes.RetrievedContext{
			Document: datatypes.Document{
				ThreadID: int(hit.ThreadID),
				Topic:    hit.Topic,
				Question: hit.Question,
				Answer:   hit.Answer,
				Date:     hit.Date,
			},
			Score: hit.Additional.Certainty,
		})
	}

	ranked, filtered := applyRanking(contexts, topK, floor)
	return ranked, filtered, nil
}

// parseGraphQLResponse converts Weaviate's dynamic response payload into
// a typed struct via the marshal/unmarshal round trip the client
// requires.
func parseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal GraphQL response data: %w", err)
	}
	return &result, nil
}
