// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// Configuration Tests
// =============================================================================

func TestApplyConfigDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	cfg := applyConfigDefaults(Config{})

	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, "medical_qa", cfg.MongoDatabase)
	assert.Equal(t, "qa_documents", cfg.MongoCollection)
	assert.Equal(t, "vector_index", cfg.MongoVectorIndex)
	assert.Equal(t, 1024, cfg.EmbedDimension)
	assert.Equal(t, "local", cfg.LLMBackend)
	assert.Equal(t, "localhost:4317", cfg.OTelEndpoint)
	assert.Equal(t, 0.5, cfg.SimilarityFloor)
	assert.Equal(t, 5, cfg.DefaultTopK)
	assert.Equal(t, 10*time.Second, cfg.RetrievalTimeout)
	assert.Equal(t, 60*time.Second, cfg.SynthesisTimeout)
	assert.Equal(t, 3000, cfg.TokenBudget)
	assert.Equal(t, 24*time.Hour, cfg.IdleTimeout)
	assert.Equal(t, 1*time.Hour, cfg.ReaperInterval)
}

func TestApplyConfigDefaults_OpenAIKeySelectsBackend(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg := applyConfigDefaults(Config{})

	assert.Equal(t, "openai", cfg.LLMBackend)
}

func TestApplyConfigDefaults_ExplicitBackendWins(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg := applyConfigDefaults(Config{LLMBackend: "local"})

	assert.Equal(t, "local", cfg.LLMBackend)
}

func TestApplyConfigDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := applyConfigDefaults(Config{
		Port:            9090,
		SimilarityFloor: -1,
		DefaultTopK:     10,
		TokenBudget:     500,
	})

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, float64(-1), cfg.SimilarityFloor)
	assert.Equal(t, 10, cfg.DefaultTopK)
	assert.Equal(t, 500, cfg.TokenBudget)
}
