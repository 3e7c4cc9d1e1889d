// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the wire and domain types shared across the
// RAG engine: corpus documents, retrieved contexts, and the chat
// request/response surface.
package datatypes

import "time"

// Document is one scraped forum Q&A pair as stored in the corpus.
// Documents are immutable once embedded; a document without a stored
// vector never appears in retrieval results.
type Document struct {
	ThreadID int    `json:"thread_id" bson:"thread_id"`
	Topic    string `json:"topic" bson:"topic"`
	Question string `json:"question" bson:"question"`
	Answer   string `json:"answer" bson:"answer"`
	Date     string `json:"date" bson:"date"`
}

// ParsedDate returns the document date for recency comparisons. Corpus
// dates are "YYYY-MM-DD"; unparseable dates sort as the zero time, i.e.
// oldest.
func (d Document) ParsedDate() time.Time {
	t, err := time.Parse("2006-01-02", d.Date)
	if err != nil {
		return time.Time{}
	}
	return t
}

// RetrievedContext is one ranked retrieval hit. Created per query,
// never persisted.
type RetrievedContext struct {
	Document Document `json:"document"`
	Score    float64  `json:"score"`
}

// ChatRequest is the engine-facing chat input.
type ChatRequest struct {
	Query     string `json:"query" binding:"required,min=1"`
	TopK      int    `json:"top_k" binding:"omitempty,gte=1,lte=20"`
	SessionID string `json:"session_id"`
}

// SourceDocument is a citation returned to the caller, derived from a
// RetrievedContext.
type SourceDocument struct {
	ThreadID int     `json:"thread_id"`
	Topic    string  `json:"topic"`
	Question string  `json:"question"`
	Answer   string  `json:"answer"`
	Date     string  `json:"date"`
	Score    float64 `json:"score"`
}

// ChatResult is the externally observable output of one chat turn.
type ChatResult struct {
	Answer    string           `json:"answer"`
	Sources   []SourceDocument `json:"sources"`
	SessionID string           `json:"session_id"`
}

// SourcesFromContexts converts ranked contexts into citations, keeping
// order.
func SourcesFromContexts(contexts []RetrievedContext) []SourceDocument {
	sources := make([]SourceDocument, 0, len(contexts))
	for _, ctx := range contexts {
		sources = append(sources, SourceDocument{
			ThreadID: ctx.Document.ThreadID,
			Topic:    ctx.Document.Topic,
			Question: ctx.Document.Question,
			Answer:   ctx.Document.Answer,
			Date:     ctx.Document.Date,
			Score:    ctx.Score,
		})
	}
	return sources
}
