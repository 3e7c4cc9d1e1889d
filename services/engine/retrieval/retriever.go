// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval issues similarity queries against the Q&A corpus.
//
// # Description
//
// A VectorStore answers "which stored Q&A pairs are closest to this
// query vector". Three backends exist: MongoDB Atlas Vector Search (the
// production corpus), Weaviate (alternate deployment), and an in-memory
// cosine store for development and tests. All backends return results
// through applyRanking so ordering and floor semantics are identical
// regardless of backend.
//
// # Error Semantics
//
// An empty result set is a valid answer ("no grounding available") and
// is never converted to an error. Store unavailability is a *Error and
// must propagate: silently returning zero hits on a down store would
// produce misleading "no information found" answers.
package retrieval

import (
	"context"
	"fmt"
	"sort"

	"github.com/AleutianAI/agn-rag/services/engine/datatypes"
)

// VectorStore is the contract consumed by the engine.
//
// floor < 0 disables the similarity floor. Results are ordered by
// descending score; ties break toward the more recent document date.
// filtered reports how many candidate documents the floor rejected, so
// "no results" on a down index and "no results above the floor" stay
// distinguishable to callers.
type VectorStore interface {
	Search(ctx context.Context, queryVector []float32, topK int, floor float64) (results []datatypes.RetrievedContext, filtered int, err error)
}

// Error is the typed failure for store unavailability. Fatal to the
// request that triggered it.
type Error struct {
	Store string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("retrieval unavailable (%s): %v", e.Store, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// applyRanking enforces the shared result invariants: similarity floor
// first, then descending score with the document date as tiebreaker,
// then the topK cut. The floor applies even when it leaves fewer than
// topK results. The second return counts the documents the floor
// rejected; the topK cut is not counted as filtering.
func applyRanking(contexts []datatypes.RetrievedContext, topK int, floor float64) ([]datatypes.RetrievedContext, int) {
	ranked := make([]datatypes.RetrievedContext, 0, len(contexts))
	filtered := 0
	for _, c := range contexts {
		if floor >= 0 && c.Score < floor {
			filtered++
			continue
		}
		ranked = append(ranked, c)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Document.ParsedDate().After(ranked[j].Document.ParsedDate())
	})

	if topK > 0 && len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked, filtered
}
