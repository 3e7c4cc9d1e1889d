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
	"math"
	"sync"

	"github.com/AleutianAI/agn-rag/services/engine/datatypes"
)

// MemoryStore is a brute-force cosine-similarity store. It backs local
// development and tests where neither Atlas nor Weaviate is reachable;
// it is not meant for the full corpus.
type MemoryStore struct {
	mu   sync.RWMutex
	docs []memoryDoc
}

type memoryDoc struct {
	doc    datatypes.Document
	vector []float32
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Add stores a document with its embedding. Documents without a vector
// are dropped, mirroring the corpus invariant that unembedded documents
// never surface in retrieval.
func (s *MemoryStore) Add(doc datatypes.Document, vector []float32) {
	if len(vector) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = append(s.docs, memoryDoc{doc: doc, vector: vector})
}

// Search implements VectorStore.
func (s *MemoryStore) Search(ctx context.Context, queryVector []float32, topK int, floor float64) ([]datatypes.RetrievedContext, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, &Error{Store: "memory", Err: err}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	contexts := make([]datatypes.RetrievedContext, 0, len(s.docs))
	for _, d := range s.docs {
		if len(d.vector) != len(queryVector) {
			continue
		}
		contexts = append(contexts, datatypes.RetrievedContext{
			Document: d.doc,
			Score:    cosineSimilarity(queryVector, d.vector),
		})
	}

	ranked, filtered := applyRanking(contexts, topK, floor)
	return ranked, filtered, nil
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
