// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package normalize rewrites raw user queries into a form better suited
// for vector retrieval. Recent conversation turns are rendered into the
// rewrite prompt so elliptical follow-ups ("แล้วถ้ารุนแรงล่ะ") resolve
// against what was said before. Normalization is strictly best-effort:
// any failure, timeout, or empty rewrite falls back to the raw query so
// the pipeline never stalls on this stage.
package normalize

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/agn-rag/services/engine/memory"
	"github.com/AleutianAI/agn-rag/services/llm"
)

const defaultNormalizePrompt = `คุณเป็นผู้ช่วยที่ช่วยปรับแก้คำถามให้ชัดเจนและเหมาะสมสำหรับการค้นหาข้อมูลทางการแพทย์
ให้คุณปรับแก้คำถามให้สมบูรณ์ ชัดเจน และแก้ไขคำผิดหากมี แต่คงความหมายเดิม ตอบเป็นภาษาไทย`

// maxHistoryTurns caps the history block in the rewrite prompt. The
// nearest turns carry the referents an elliptical follow-up needs.
const maxHistoryTurns = 6

var (
	normalizeTemperature float32 = 0.0
	normalizeMaxTokens           = 256
)

// Normalizer rewrites queries with an LLM. A nil client disables
// normalization entirely.
type Normalizer struct {
	client llm.LLMClient
	prompt string
}

// NewNormalizer builds a Normalizer. prompt overrides the default
// system prompt when non-empty; client may be nil to run in passthrough
// mode.
func NewNormalizer(client llm.LLMClient, prompt string) *Normalizer {
	if prompt == "" {
		prompt = defaultNormalizePrompt
	}
	return &Normalizer{client: client, prompt: prompt}
}

// Normalize returns the rewritten query, or the raw query unchanged
// when normalization is disabled or fails. recentTurns, oldest first,
// give the rewrite the conversational context to resolve pronouns and
// ellipsis; pass nil for a first turn. It never returns an error and
// never returns an empty string for a non-empty input.
func (n *Normalizer) Normalize(ctx context.Context, query string, recentTurns []memory.Turn) string {
	if n == nil || n.client == nil {
		return query
	}

	prompt := n.renderPrompt(query, recentTurns)
	params := llm.GenerationParams{
		Temperature: &normalizeTemperature,
		MaxTokens:   &normalizeMaxTokens,
	}

	rewritten, err := n.client.Generate(ctx, prompt, params)
	if err != nil {
		slog.Warn("Query normalization failed, using raw query", "error", err)
		return query
	}

	rewritten = strings.TrimSpace(rewritten)
	if rewritten == "" {
		slog.Warn("Query normalization returned empty rewrite, using raw query")
		return query
	}

	slog.Debug("Query normalized", "raw", query, "normalized", rewritten)
	return rewritten
}

func (n *Normalizer) renderPrompt(query string, recentTurns []memory.Turn) string {
	var b strings.Builder
	b.WriteString(n.prompt)

	separator := "\n\n"
	if len(recentTurns) > 0 {
		turns := recentTurns
		if len(turns) > maxHistoryTurns {
			turns = turns[len(turns)-maxHistoryTurns:]
		}
		b.WriteString("\n\nบทสนทนาก่อนหน้า:\n")
		for _, turn := range turns {
			label := "ผู้ใช้"
			if turn.Role == memory.RoleAssistant {
				label = "ผู้ช่วย"
			}
			fmt.Fprintf(&b, "%s: %s\n", label, turn.Text)
		}
		separator = "\n"
	}

	fmt.Fprintf(&b, "%sปรับแก้คำถามนี้ให้ชัดเจนและเหมาะสมสำหรับการค้นหา: %s", separator, query)
	return b.String()
}
