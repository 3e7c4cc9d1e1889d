// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package normalize

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/agn-rag/services/engine/memory"
	"github.com/AleutianAI/agn-rag/services/llm"
)

type fakeLLM struct {
	reply string
	err   error
	seen  string
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	f.seen = prompt
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func TestNormalize_RewritesQuery(t *testing.T) {
	client := &fakeLLM{reply: "  อาการปวดศีรษะควรรักษาอย่างไร  "}
	n := NewNormalizer(client, "")

	got := n.Normalize(context.Background(), "ปวดหววว ทำไงดี", nil)

	assert.Equal(t, "อาการปวดศีรษะควรรักษาอย่างไร", got)
	assert.Contains(t, client.seen, "ปวดหววว ทำไงดี")
	assert.Contains(t, client.seen, "ปรับแก้คำถามนี้ให้ชัดเจน")
}

func TestNormalize_RecentTurnsAppearInPrompt(t *testing.T) {
	client := &fakeLLM{reply: "ถ้าปวดหัวรุนแรงควรทำอย่างไร"}
	n := NewNormalizer(client, "")
	history := []memory.Turn{
		{Role: memory.RoleUser, Text: "ปวดหัวบ่อยควรทำอย่างไร"},
		{Role: memory.RoleAssistant, Text: "ควรพักผ่อนให้เพียงพอและดื่มน้ำ"},
	}

	got := n.Normalize(context.Background(), "แล้วถ้ารุนแรงล่ะ", history)

	assert.Equal(t, "ถ้าปวดหัวรุนแรงควรทำอย่างไร", got)
	assert.Contains(t, client.seen, "บทสนทนาก่อนหน้า:")
	assert.Contains(t, client.seen, "ผู้ใช้: ปวดหัวบ่อยควรทำอย่างไร")
	assert.Contains(t, client.seen, "ผู้ช่วย: ควรพักผ่อนให้เพียงพอและดื่มน้ำ")
	assert.Contains(t, client.seen, "แล้วถ้ารุนแรงล่ะ")
}

func TestNormalize_NoHistoryOmitsHistoryBlock(t *testing.T) {
	client := &fakeLLM{reply: "rewritten"}
	n := NewNormalizer(client, "")

	n.Normalize(context.Background(), "ปวดหัว", nil)

	assert.NotContains(t, client.seen, "บทสนทนาก่อนหน้า")
}

func TestNormalize_HistoryCappedToNearestTurns(t *testing.T) {
	client := &fakeLLM{reply: "rewritten"}
	n := NewNormalizer(client, "")
	history := make([]memory.Turn, 0, 10)
	for i := 0; i < 10; i++ {
		history = append(history, memory.Turn{
			Role: memory.RoleUser,
			Text: fmt.Sprintf("คำถามที่ %d", i),
		})
	}

	n.Normalize(context.Background(), "q", history)

	assert.NotContains(t, client.seen, "คำถามที่ 3")
	assert.Contains(t, client.seen, "คำถามที่ 4")
	assert.Contains(t, client.seen, "คำถามที่ 9")
}

func TestNormalize_FailureReturnsRawQuery(t *testing.T) {
	client := &fakeLLM{err: errors.New("backend unreachable")}
	n := NewNormalizer(client, "")

	got := n.Normalize(context.Background(), "ปวดหัวควรทำอย่างไร", nil)

	assert.Equal(t, "ปวดหัวควรทำอย่างไร", got)
}

func TestNormalize_EmptyRewriteReturnsRawQuery(t *testing.T) {
	client := &fakeLLM{reply: "   "}
	n := NewNormalizer(client, "")

	got := n.Normalize(context.Background(), "ปวดหัวควรทำอย่างไร", nil)

	assert.Equal(t, "ปวดหัวควรทำอย่างไร", got)
}

func TestNormalize_NilClientIsPassthrough(t *testing.T) {
	n := NewNormalizer(nil, "")

	got := n.Normalize(context.Background(), "ปวดหัว", []memory.Turn{
		{Role: memory.RoleUser, Text: "ก่อนหน้า"},
	})

	assert.Equal(t, "ปวดหัว", got)
}

func TestNormalize_CustomPrompt(t *testing.T) {
	client := &fakeLLM{reply: "rewritten"}
	n := NewNormalizer(client, "custom instructions")

	n.Normalize(context.Background(), "q", nil)

	assert.Contains(t, client.seen, "custom instructions")
}
