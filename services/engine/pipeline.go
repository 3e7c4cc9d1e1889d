// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/agn-rag/services/embedding"
	"github.com/AleutianAI/agn-rag/services/engine/datatypes"
	"github.com/AleutianAI/agn-rag/services/engine/memory"
	"github.com/AleutianAI/agn-rag/services/engine/normalize"
	"github.com/AleutianAI/agn-rag/services/engine/observability"
	"github.com/AleutianAI/agn-rag/services/engine/retrieval"
	"github.com/AleutianAI/agn-rag/services/engine/synthesis"
)

var pipelineTracer = otel.Tracer("agnrag.engine.pipeline")

// recentHistoryTurns caps how many turns are pulled from session memory
// for prompt rendering. The synthesizer applies its own tighter cap.
const recentHistoryTurns = 12

// PipelineConfig tunes the chat pipeline.
//
// SimilarityFloor uses 0 to mean "default" (0.5); pass a negative value
// to disable the floor entirely.
type PipelineConfig struct {
	DefaultTopK      int
	MaxTopK          int
	SimilarityFloor  float64
	RetrievalTimeout time.Duration
	SynthesisTimeout time.Duration
}

func applyPipelineDefaults(config PipelineConfig) PipelineConfig {
	if config.DefaultTopK == 0 {
		config.DefaultTopK = 5
	}
	if config.MaxTopK == 0 {
		config.MaxTopK = 20
	}
	if config.SimilarityFloor == 0 {
		config.SimilarityFloor = 0.5
	}
	if config.RetrievalTimeout == 0 {
		config.RetrievalTimeout = 10 * time.Second
	}
	if config.SynthesisTimeout == 0 {
		config.SynthesisTimeout = 60 * time.Second
	}
	return config
}

// Pipeline runs one chat turn end to end: session resolution, query
// normalization, embedding, vector retrieval, synthesis, and the
// atomic append of the exchange into session memory.
//
// Normalization failures fall back to the raw query inside the
// normalizer. Embedding, retrieval, and synthesis failures abort the
// turn and surface to the caller; nothing is written to memory for an
// aborted turn.
type Pipeline struct {
	config      PipelineConfig
	normalizer  *normalize.Normalizer
	embedder    embedding.Provider
	store       retrieval.VectorStore
	synthesizer *synthesis.Synthesizer
	memory      *memory.Manager
	metrics     *observability.EngineMetrics
}

// NewPipeline wires the pipeline stages. normalizer and metrics may be
// nil; the other dependencies are required.
func NewPipeline(
	config PipelineConfig,
	normalizer *normalize.Normalizer,
	embedder embedding.Provider,
	store retrieval.VectorStore,
	synthesizer *synthesis.Synthesizer,
	mem *memory.Manager,
	metrics *observability.EngineMetrics,
) *Pipeline {
	return &Pipeline{
		config:      applyPipelineDefaults(config),
		normalizer:  normalizer,
		embedder:    embedder,
		store:       store,
		synthesizer: synthesizer,
		memory:      mem,
		metrics:     metrics,
	}
}

// Chat processes one user turn and returns the grounded answer with
// its source documents and the resolved session id.
func (p *Pipeline) Chat(ctx context.Context, req datatypes.ChatRequest) (datatypes.ChatResult, error) {
	start := time.Now()
	ctx, span := pipelineTracer.Start(ctx, "chat")
	defer span.End()

	sessionID, created := p.memory.GetOrCreate(req.SessionID)
	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.Bool("session.created", created),
	)

	topK := req.TopK
	if topK <= 0 {
		topK = p.config.DefaultTopK
	}
	if topK > p.config.MaxTopK {
		topK = p.config.MaxTopK
	}

	// One history snapshot serves both normalization and synthesis, so
	// a concurrent append on the same session cannot make the two
	// stages see different conversations.
	history := p.memory.Recent(sessionID, recentHistoryTurns)

	normalized := p.runNormalize(ctx, req.Query, history)

	contexts, filtered, err := p.runRetrieve(ctx, normalized, topK)
	if err != nil {
		p.recordOutcome(false, start, err)
		return datatypes.ChatResult{}, err
	}
	span.SetAttributes(attribute.Int("retrieval.documents", len(contexts)))

	answer, err := p.runSynthesize(ctx, normalized, contexts, history)
	if err != nil {
		p.recordOutcome(false, start, err)
		return datatypes.ChatResult{}, err
	}

	// The raw query, not the normalized rewrite, is what the user said.
	p.memory.AppendExchange(ctx, sessionID, req.Query, answer)

	p.recordOutcome(true, start, nil)
	if p.metrics != nil {
		p.metrics.RecordRetrieved(len(contexts), filtered)
		p.metrics.SetActiveSessions(p.memory.Len())
	}

	return datatypes.ChatResult{
		Answer:    answer,
		Sources:   datatypes.SourcesFromContexts(contexts),
		SessionID: sessionID,
	}, nil
}

// NewSession allocates a fresh empty session and returns its id.
func (p *Pipeline) NewSession() string {
	id := p.memory.Create()
	if p.metrics != nil {
		p.metrics.SetActiveSessions(p.memory.Len())
	}
	return id
}

// Sessions lists live sessions.
func (p *Pipeline) Sessions() []memory.SessionInfo {
	return p.memory.Sessions()
}

// DeleteSession removes a session. Deleting an unknown id is a no-op.
func (p *Pipeline) DeleteSession(id string) {
	p.memory.Delete(id)
	if p.metrics != nil {
		p.metrics.SetActiveSessions(p.memory.Len())
	}
}

func (p *Pipeline) runNormalize(ctx context.Context, query string, history []memory.Turn) string {
	ctx, span := pipelineTracer.Start(ctx, "chat.normalize")
	defer span.End()

	stageStart := time.Now()
	normalized := p.normalizer.Normalize(ctx, query, history)
	p.recordStage(observability.StageNormalize, stageStart)
	return normalized
}

// runRetrieve embeds the normalized query and searches the vector
// store, both under the retrieval timeout. The int return is how many
// candidates the similarity floor rejected.
func (p *Pipeline) runRetrieve(ctx context.Context, query string, topK int) ([]datatypes.RetrievedContext, int, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.RetrievalTimeout)
	defer cancel()

	embedStart := time.Now()
	ctx, embedSpan := pipelineTracer.Start(ctx, "chat.embed")
	vector, err := p.embedder.Embed(ctx, query)
	embedSpan.End()
	p.recordStage(observability.StageEmbed, embedStart)
	if err != nil {
		p.recordError(observability.ErrorCodeEmbedding, ctx)
		return nil, 0, fmt.Errorf("embed query: %w", err)
	}

	searchStart := time.Now()
	ctx, searchSpan := pipelineTracer.Start(ctx, "chat.retrieve",
		trace.WithAttributes(attribute.Int("retrieval.top_k", topK)))
	contexts, filtered, err := p.store.Search(ctx, vector, topK, p.config.SimilarityFloor)
	searchSpan.End()
	p.recordStage(observability.StageRetrieve, searchStart)
	if err != nil {
		p.recordError(observability.ErrorCodeRetrieval, ctx)
		return nil, 0, fmt.Errorf("search vector store: %w", err)
	}

	return contexts, filtered, nil
}

func (p *Pipeline) runSynthesize(
	ctx context.Context,
	query string,
	contexts []datatypes.RetrievedContext,
	history []memory.Turn,
) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.SynthesisTimeout)
	defer cancel()

	ctx, span := pipelineTracer.Start(ctx, "chat.synthesize")
	defer span.End()

	stageStart := time.Now()
	answer, err := p.synthesizer.Synthesize(ctx, query, contexts, history)
	p.recordStage(observability.StageSynthesize, stageStart)
	if err != nil {
		p.recordError(observability.ErrorCodeSynthesis, ctx)
		return "", err
	}
	return answer, nil
}

func (p *Pipeline) recordStage(stage observability.Stage, start time.Time) {
	if p.metrics != nil {
		p.metrics.RecordStage(stage, time.Since(start).Seconds())
	}
}

func (p *Pipeline) recordError(code observability.ErrorCode, ctx context.Context) {
	if p.metrics == nil {
		return
	}
	if ctx.Err() == context.DeadlineExceeded {
		code = observability.ErrorCodeTimeout
	}
	p.metrics.RecordError(code)
}

func (p *Pipeline) recordOutcome(success bool, start time.Time, err error) {
	if err != nil {
		slog.Error("Chat turn failed", "error", err)
	}
	if p.metrics != nil {
		p.metrics.RecordRequest(success, time.Since(start).Seconds())
	}
}
