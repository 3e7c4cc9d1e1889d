// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package synthesis turns retrieved Q&A context and conversation
// history into a grounded Thai answer.
//
// # Description
//
// The synthesizer renders a deterministic prompt: a system block that
// pins the assistant to the supplied context, a numbered context block
// of retrieved Q&A documents, an optional history block of recent
// turns, and the user's question. Prompt layout is stable so answers
// are reproducible given the same inputs and a deterministic backend.
//
// Empty context is not an error. When retrieval found nothing usable
// the synthesizer returns a fixed caveat string without calling the
// backend at all. A backend failure, by contrast, is fatal to the
// request and surfaces as a *Error.
package synthesis

import (
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/agn-rag/services/engine/datatypes"
	"github.com/AleutianAI/agn-rag/services/engine/memory"
	"github.com/AleutianAI/agn-rag/services/llm"
)

// NoContextAnswer is returned verbatim when no retrieved document
// clears the similarity floor.
const NoContextAnswer = "ขออภัย ไม่พบข้อมูลที่เกี่ยวข้องกับคำถามของคุณ กรุณาลองถามคำถามอื่นหรือติดต่อแพทย์โดยตรง"

const defaultSystemPrompt = `คุณเป็นผู้ช่วยทางการแพทย์ที่ให้คำตอบจากข้อมูล Q&A ที่มีอยู่
ให้คุณตอบคำถามโดยอิงจากบริบทที่ให้มาเท่านั้น ตอบเป็นภาษาไทยที่เป็นธรรมชาติและเข้าใจง่าย
หากข้อมูลไม่เพียงพอ ให้แนะนำให้ปรึกษาแพทย์`

// Error is a fatal synthesis failure. Unlike normalization, a failed
// synthesis has no fallback answer to offer the caller.
type Error struct {
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("synthesis failed: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Config tunes prompt rendering.
type Config struct {
	// SystemPrompt overrides the default Thai medical system prompt.
	SystemPrompt string

	// MaxHistoryTurns caps how many recent turns the history block
	// carries. Zero uses the default.
	MaxHistoryTurns int

	// Temperature and MaxTokens are passed through to the backend.
	Temperature float32
	MaxTokens   int
}

func applyConfigDefaults(config Config) Config {
	if config.SystemPrompt == "" {
		config.SystemPrompt = defaultSystemPrompt
	}
	if config.MaxHistoryTurns == 0 {
		config.MaxHistoryTurns = 6
	}
	if config.Temperature == 0 {
		config.Temperature = 0.7
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 1024
	}
	return config
}

// Synthesizer renders prompts and delegates generation to an LLM
// backend.
type Synthesizer struct {
	client llm.LLMClient
	config Config
}

// NewSynthesizer builds a Synthesizer around the given backend.
func NewSynthesizer(client llm.LLMClient, config Config) *Synthesizer {
	return &Synthesizer{client: client, config: applyConfigDefaults(config)}
}

// Synthesize produces the final answer for query given retrieved
// contexts and recent conversation history.
//
// Empty contexts short-circuit to NoContextAnswer without touching the
// backend. Backend errors return a *Error.
func (s *Synthesizer) Synthesize(
	ctx context.Context,
	query string,
	contexts []datatypes.RetrievedContext,
	history []memory.Turn,
) (string, error) {
	if len(contexts) == 0 {
		return NoContextAnswer, nil
	}

	prompt := s.renderPrompt(query, contexts, history)
	params := llm.GenerationParams{
		Temperature: &s.config.Temperature,
		MaxTokens:   &s.config.MaxTokens,
	}

	answer, err := s.client.Generate(ctx, prompt, params)
	if err != nil {
		return "", &Error{Err: err}
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", &Error{Err: fmt.Errorf("backend returned empty answer")}
	}
	return answer, nil
}

func (s *Synthesizer) renderPrompt(
	query string,
	contexts []datatypes.RetrievedContext,
	history []memory.Turn,
) string {
	var b strings.Builder
	b.WriteString(s.config.SystemPrompt)
	b.WriteString("\n\nบริบทจาก Q&A:\n")
	b.WriteString(formatContexts(contexts))

	if len(history) > 0 {
		turns := history
		if len(turns) > s.config.MaxHistoryTurns {
			turns = turns[len(turns)-s.config.MaxHistoryTurns:]
		}
		b.WriteString("\n\nบทสนทนาก่อนหน้า:\n")
		for _, turn := range turns {
			label := "ผู้ใช้"
			if turn.Role == memory.RoleAssistant {
				label = "ผู้ช่วย"
			}
			fmt.Fprintf(&b, "%s: %s\n", label, turn.Text)
		}
	}

	fmt.Fprintf(&b, "\nคำถาม: %s\n\nกรุณาตอบคำถามโดยอิงจากบริบทข้างต้น:", query)
	return b.String()
}

// formatContexts renders the numbered context block. Blank fields are
// omitted rather than rendered as empty labels.
func formatContexts(contexts []datatypes.RetrievedContext) string {
	blocks := make([]string, 0, len(contexts))
	for i, rc := range contexts {
		var b strings.Builder
		fmt.Fprintf(&b, "\n--- Q&A %d ---", i+1)
		if rc.Document.Topic != "" {
			fmt.Fprintf(&b, "\nหัวข้อ: %s", rc.Document.Topic)
		}
		if rc.Document.Question != "" {
			fmt.Fprintf(&b, "\nคำถาม: %s", rc.Document.Question)
		}
		if rc.Document.Answer != "" {
			fmt.Fprintf(&b, "\nคำตอบ: %s", rc.Document.Answer)
		}
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n")
}
