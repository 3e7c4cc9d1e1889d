// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/agn-rag/services/llm"
)

var (
	condenseMaxTokens   = 160
	condenseTemperature = float32(0.2)
)

// defaultCondensePrompt asks for one representative summary of the
// evicted span. The wording is configurable because the summary style
// is still an open product decision.
const defaultCondensePrompt = "สรุปบทสนทนาต่อไปนี้ให้สั้นและครบถ้วน " +
	"เพื่อใช้เป็นบริบทของการสนทนาต่อไป ตอบเป็นภาษาไทยไม่เกินสามประโยค:"

// LLMCondenser summarizes evicted spans with one LLM call.
type LLMCondenser struct {
	client llm.LLMClient
	prompt string
}

// NewLLMCondenser builds a condenser over the shared LLM backend.
// prompt overrides the default instruction when non-empty.
func NewLLMCondenser(client llm.LLMClient, prompt string) *LLMCondenser {
	if prompt == "" {
		prompt = defaultCondensePrompt
	}
	return &LLMCondenser{client: client, prompt: prompt}
}

// Condense implements Condenser.
func (c *LLMCondenser) Condense(ctx context.Context, turns []Turn) (string, error) {
	var b strings.Builder
	b.WriteString(c.prompt)
	b.WriteString("\n\n")
	for _, turn := range turns {
		if turn.Role == RoleUser {
			fmt.Fprintf(&b, "ผู้ใช้: %s\n", turn.Text)
		} else {
			fmt.Fprintf(&b, "ผู้ช่วย: %s\n", turn.Text)
		}
	}

	params := llm.GenerationParams{
		Temperature: &condenseTemperature,
		MaxTokens:   &condenseMaxTokens,
	}
	summary, err := c.client.Generate(ctx, b.String(), params)
	if err != nil {
		return "", fmt.Errorf("condense span: %w", err)
	}
	return strings.TrimSpace(summary), nil
}

// digestSpan is the deterministic fallback summary: the first user
// question of the span, truncated. Mirrors the title fallback used for
// session summaries.
func digestSpan(span []Turn) string {
	question := ""
	for _, turn := range span {
		if turn.Role == RoleUser && strings.TrimSpace(turn.Text) != "" {
			question = strings.TrimSpace(turn.Text)
			break
		}
	}
	if question == "" && len(span) > 0 {
		question = strings.TrimSpace(span[0].Text)
	}

	digest := fmt.Sprintf("สรุปบทสนทนาก่อนหน้า: %s", question)
	runes := []rune(digest)
	if len(runes) > 100 {
		digest = string(runes[:100]) + "..."
	}
	return digest
}
