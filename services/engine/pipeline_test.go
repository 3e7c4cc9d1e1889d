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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/agn-rag/services/embedding"
	"github.com/AleutianAI/agn-rag/services/engine/datatypes"
	"github.com/AleutianAI/agn-rag/services/engine/memory"
	"github.com/AleutianAI/agn-rag/services/engine/normalize"
	"github.com/AleutianAI/agn-rag/services/engine/retrieval"
	"github.com/AleutianAI/agn-rag/services/engine/synthesis"
	"github.com/AleutianAI/agn-rag/services/llm"
)

// =============================================================================
// Fakes
// =============================================================================

// fakeEmbedder maps known queries to fixed vectors so retrieval is
// deterministic.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

// capturingLLM records every prompt it is asked to complete.
type capturingLLM struct {
	reply   string
	err     error
	prompts []string
}

func (c *capturingLLM) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	c.prompts = append(c.prompts, prompt)
	if c.err != nil {
		return "", c.err
	}
	return c.reply, nil
}

type failingStore struct{ err error }

func (f *failingStore) Search(ctx context.Context, queryVector []float32, topK int, floor float64) ([]datatypes.RetrievedContext, int, error) {
	return nil, 0, f.err
}

func seededStore() *retrieval.MemoryStore {
	store := retrieval.NewMemoryStore()
	store.Add(datatypes.Document{
		ThreadID: 1,
		Topic:    "อาการปวดศีรษะ",
		Question: "ปวดหัวบ่อยเกิดจากอะไร",
		Answer:   "อาจเกิดจากความเครียดหรือพักผ่อนไม่เพียงพอ",
		Date:     "2024-03-01",
	}, []float32{1, 0, 0})
	store.Add(datatypes.Document{
		ThreadID: 2,
		Topic:    "โรคกระเพาะ",
		Question: "ปวดท้องหลังกินข้าวเกิดจากอะไร",
		Answer:   "อาจเป็นอาการของโรคกระเพาะอาหาร",
		Date:     "2024-03-02",
	}, []float32{0, 1, 0})
	return store
}

func newTestPipeline(client *capturingLLM, store retrieval.VectorStore) *Pipeline {
	mem := memory.NewManager(memory.Config{TokenBudget: 3000, IdleTimeout: time.Hour},
		memory.HeuristicCounter{}, nil)

	return NewPipeline(
		PipelineConfig{},
		normalize.NewNormalizer(nil, ""),
		&fakeEmbedder{},
		store,
		synthesis.NewSynthesizer(client, synthesis.Config{}),
		mem,
		nil,
	)
}

// =============================================================================
// Chat Flow Tests
// =============================================================================

// TestChat_TwoTurnConversation runs the whole pipeline twice on one
// session and verifies the second turn sees the first exchange in its
// prompt and keeps the same session id.
func TestChat_TwoTurnConversation(t *testing.T) {
	client := &capturingLLM{reply: "ควรพักผ่อนและดื่มน้ำให้เพียงพอ"}
	p := newTestPipeline(client, seededStore())

	first, err := p.Chat(context.Background(), datatypes.ChatRequest{
		Query: "อาการปวดหัวควรทำอย่างไร",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, first.SessionID)
	assert.Equal(t, "ควรพักผ่อนและดื่มน้ำให้เพียงพอ", first.Answer)
	require.NotEmpty(t, first.Sources)
	assert.Equal(t, "อาการปวดศีรษะ", first.Sources[0].Topic)

	client.reply = "หากปวดรุนแรงหรือเป็นต่อเนื่องควรพบแพทย์"
	second, err := p.Chat(context.Background(), datatypes.ChatRequest{
		Query:     "แล้วถ้าปวดหัวรุนแรงควรทำยังไง",
		SessionID: first.SessionID,
	})
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)

	require.Len(t, client.prompts, 2)
	assert.Contains(t, client.prompts[1], "บทสนทนาก่อนหน้า")
	assert.Contains(t, client.prompts[1], "อาการปวดหัวควรทำอย่างไร")
	assert.Contains(t, client.prompts[1], "ควรพักผ่อนและดื่มน้ำให้เพียงพอ")
}

// TestChat_NormalizationSeesEarlierTurns runs two turns with a live
// rewrite backend and verifies the second rewrite prompt carries the
// first exchange, so elliptical follow-ups can be resolved before
// retrieval.
func TestChat_NormalizationSeesEarlierTurns(t *testing.T) {
	normClient := &capturingLLM{reply: "อาการปวดหัวควรรักษาอย่างไร"}
	synthClient := &capturingLLM{reply: "ควรพักผ่อนและดื่มน้ำให้เพียงพอ"}
	mem := memory.NewManager(memory.Config{TokenBudget: 3000, IdleTimeout: time.Hour},
		memory.HeuristicCounter{}, nil)
	p := NewPipeline(
		PipelineConfig{},
		normalize.NewNormalizer(normClient, ""),
		&fakeEmbedder{},
		seededStore(),
		synthesis.NewSynthesizer(synthClient, synthesis.Config{}),
		mem,
		nil,
	)

	first, err := p.Chat(context.Background(), datatypes.ChatRequest{
		Query: "ปวดหัวบ่อยควรทำอย่างไร",
	})
	require.NoError(t, err)

	normClient.reply = "ถ้าปวดหัวรุนแรงควรทำอย่างไร"
	synthClient.reply = "หากปวดรุนแรงควรพบแพทย์"
	_, err = p.Chat(context.Background(), datatypes.ChatRequest{
		Query:     "แล้วถ้ารุนแรงล่ะ",
		SessionID: first.SessionID,
	})
	require.NoError(t, err)

	require.Len(t, normClient.prompts, 2)
	assert.NotContains(t, normClient.prompts[0], "บทสนทนาก่อนหน้า")
	assert.Contains(t, normClient.prompts[1], "บทสนทนาก่อนหน้า")
	assert.Contains(t, normClient.prompts[1], "ปวดหัวบ่อยควรทำอย่างไร")
	assert.Contains(t, normClient.prompts[1], "ควรพักผ่อนและดื่มน้ำให้เพียงพอ")
	assert.Contains(t, normClient.prompts[1], "แล้วถ้ารุนแรงล่ะ")
}

// TestChat_EmptyRetrievalYieldsCaveat verifies a query with no match
// above the floor still succeeds with the fixed caveat answer.
func TestChat_EmptyRetrievalYieldsCaveat(t *testing.T) {
	client := &capturingLLM{reply: "unused"}
	p := newTestPipeline(client, retrieval.NewMemoryStore())

	result, err := p.Chat(context.Background(), datatypes.ChatRequest{Query: "ปวดหัว"})

	require.NoError(t, err)
	assert.Equal(t, synthesis.NoContextAnswer, result.Answer)
	assert.Empty(t, result.Sources)
	assert.Empty(t, client.prompts, "no backend call without grounding")

	// The caveat exchange is still recorded in session memory.
	turns := p.memory.Recent(result.SessionID, 10)
	require.Len(t, turns, 2)
	assert.Equal(t, synthesis.NoContextAnswer, turns[1].Text)
}

// TestChat_StoreFailureAbortsTurn verifies a store outage surfaces as a
// retrieval error and leaves session memory untouched.
func TestChat_StoreFailureAbortsTurn(t *testing.T) {
	client := &capturingLLM{reply: "unused"}
	storeErr := &retrieval.Error{Store: "mongodb", Err: errors.New("topology closed")}
	p := newTestPipeline(client, &failingStore{err: storeErr})
	sessionID := p.NewSession()

	_, err := p.Chat(context.Background(), datatypes.ChatRequest{
		Query:     "ปวดหัว",
		SessionID: sessionID,
	})

	var retErr *retrieval.Error
	require.ErrorAs(t, err, &retErr)
	assert.Empty(t, p.memory.Recent(sessionID, 10), "aborted turn must not be recorded")
}

// TestChat_EmbedderFailureAbortsTurn verifies embedding outages surface
// as typed errors.
func TestChat_EmbedderFailureAbortsTurn(t *testing.T) {
	client := &capturingLLM{reply: "unused"}
	mem := memory.NewManager(memory.Config{}, memory.HeuristicCounter{}, nil)
	p := NewPipeline(
		PipelineConfig{},
		normalize.NewNormalizer(nil, ""),
		&fakeEmbedder{err: &embedding.Error{Reason: embedding.ReasonUnavailable, Err: errors.New("dial refused")}},
		seededStore(),
		synthesis.NewSynthesizer(client, synthesis.Config{}),
		mem,
		nil,
	)

	_, err := p.Chat(context.Background(), datatypes.ChatRequest{Query: "ปวดหัว"})

	var embErr *embedding.Error
	require.ErrorAs(t, err, &embErr)
}

// TestChat_SynthesisFailureAbortsTurn verifies a backend outage after a
// successful retrieval surfaces and is not written to memory.
func TestChat_SynthesisFailureAbortsTurn(t *testing.T) {
	client := &capturingLLM{err: errors.New("connection refused")}
	p := newTestPipeline(client, seededStore())
	sessionID := p.NewSession()

	_, err := p.Chat(context.Background(), datatypes.ChatRequest{
		Query:     "ปวดหัว",
		SessionID: sessionID,
	})

	var synErr *synthesis.Error
	require.ErrorAs(t, err, &synErr)
	assert.Empty(t, p.memory.Recent(sessionID, 10))
}

// TestChat_StaleSessionStartsFresh verifies unknown session ids start a
// new session rather than failing the turn.
func TestChat_StaleSessionStartsFresh(t *testing.T) {
	client := &capturingLLM{reply: "คำตอบ"}
	p := newTestPipeline(client, seededStore())

	result, err := p.Chat(context.Background(), datatypes.ChatRequest{
		Query:     "ปวดหัว",
		SessionID: "gone-forever",
	})

	require.NoError(t, err)
	assert.NotEmpty(t, result.SessionID)
	assert.NotEqual(t, "gone-forever", result.SessionID)
}

// TestChat_TopKClamped verifies requested depth is clamped to the cap.
func TestChat_TopKClamped(t *testing.T) {
	client := &capturingLLM{reply: "คำตอบ"}
	p := newTestPipeline(client, seededStore())

	result, err := p.Chat(context.Background(), datatypes.ChatRequest{
		Query: "ปวดหัว",
		TopK:  500,
	})

	require.NoError(t, err)
	assert.LessOrEqual(t, len(result.Sources), 20)
}

// =============================================================================
// Session Operations
// =============================================================================

func TestPipeline_SessionLifecycle(t *testing.T) {
	client := &capturingLLM{reply: "คำตอบ"}
	p := newTestPipeline(client, seededStore())

	id := p.NewSession()
	require.NotEmpty(t, id)

	sessions := p.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, id, sessions[0].SessionID)

	p.DeleteSession(id)
	assert.Empty(t, p.Sessions())

	// Deleting again is a no-op.
	p.DeleteSession(id)
}

// =============================================================================
// Defaults
// =============================================================================

func TestApplyPipelineDefaults(t *testing.T) {
	config := applyPipelineDefaults(PipelineConfig{})

	assert.Equal(t, 5, config.DefaultTopK)
	assert.Equal(t, 20, config.MaxTopK)
	assert.Equal(t, 0.5, config.SimilarityFloor)
	assert.Equal(t, 10*time.Second, config.RetrievalTimeout)
	assert.Equal(t, 60*time.Second, config.SynthesisTimeout)
}

func TestApplyPipelineDefaults_NegativeFloorDisables(t *testing.T) {
	config := applyPipelineDefaults(PipelineConfig{SimilarityFloor: -1})

	assert.Equal(t, float64(-1), config.SimilarityFloor)
}
