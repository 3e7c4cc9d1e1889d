// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memory owns per-conversation state for the RAG engine.
//
// # Description
//
// The Manager keeps an arena of session records indexed by opaque id.
// Each session carries an ordered turn sequence bounded by a token
// budget: when an append would exceed the budget, the oldest turns are
// condensed into a single synthetic assistant-authored summary turn
// (FIFO, never the most recent exchange). Idle sessions are evicted by
// the background Reaper.
//
// # Thread Safety
//
// Map membership is guarded by an RWMutex; every session record has its
// own mutex, so mutations on one session are serialized while unrelated
// sessions proceed without contention. There is no global lock across
// session mutations.
//
// # Lifecycle
//
// ACTIVE -> (idle timeout) -> EXPIRED. There is no way back: a stale or
// unknown id handed to GetOrCreate silently starts a fresh session.
// Conversational continuity is best-effort, never a hard failure.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one utterance in a session. Turns are never mutated after
// append; they are only condensed or evicted as a unit from the front
// of the sequence.
type Turn struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionInfo is a read-only snapshot of one session's metadata.
type SessionInfo struct {
	SessionID    string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	TurnCount    int       `json:"turn_count"`
	Tokens       int       `json:"tokens"`
}

// Condenser summarizes an evicted span of turns into one representative
// text preserving the span's intent. Implementations may call an LLM;
// failures must be recoverable because condensation is best-effort.
type Condenser interface {
	Condense(ctx context.Context, turns []Turn) (string, error)
}

// Config bounds session growth and lifetime.
type Config struct {
	// TokenBudget caps the cumulative token count of a session's turn
	// text. Default: 3000.
	TokenBudget int
	// IdleTimeout is how long a session may stay inactive before the
	// reaper evicts it. Default: 24 hours.
	IdleTimeout time.Duration

	// OnEvict, when set, receives the session count of each sweep that
	// evicted at least one idle session.
	OnEvict func(sessions int)
	// OnCondense, when set, receives the number of turns condensed out
	// of a session during budget enforcement. Called with the session
	// lock held; the hook must not call back into the Manager.
	OnCondense func(turns int)
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		TokenBudget: 3000,
		IdleTimeout: 24 * time.Hour,
	}
}

type session struct {
	mu           sync.Mutex
	id           string
	createdAt    time.Time
	lastActiveAt time.Time
	turns        []Turn
	tokens       int
	expired      bool
}

// Manager is the session arena. Construct with NewManager; the zero
// value is not usable.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*session

	config    Config
	counter   TokenCounter
	condenser Condenser

	// now is swapped out by tests; production uses time.Now.
	now func() time.Time
}

// NewManager builds a session arena. counter must not be nil; condenser
// may be nil, in which case evicted spans are condensed with the
// deterministic digest fallback.
func NewManager(config Config, counter TokenCounter, condenser Condenser) *Manager {
	if config.TokenBudget <= 0 {
		config.TokenBudget = DefaultConfig().TokenBudget
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultConfig().IdleTimeout
	}
	return &Manager{
		sessions:  make(map[string]*session),
		config:    config,
		counter:   counter,
		condenser: condenser,
		now:       time.Now,
	}
}

// Create allocates a new empty session and returns its id.
func (m *Manager) Create() string {
	id := uuid.New().String()
	now := m.now()

	m.mu.Lock()
	m.sessions[id] = &session{
		id:           id,
		createdAt:    now,
		lastActiveAt: now,
	}
	m.mu.Unlock()

	slog.Info("Created new session", "session_id", id)
	return id
}

// GetOrCreate resolves a session id, creating a fresh session when the
// id is empty, unknown, or expired. The second return reports whether a
// new session was created. This never fails: stale ids start fresh.
func (m *Manager) GetOrCreate(id string) (string, bool) {
	if id == "" {
		return m.Create(), true
	}

	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		slog.Info("Unknown or expired session id, starting fresh", "session_id", id)
		return m.Create(), true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired {
		return m.Create(), true
	}
	s.lastActiveAt = m.now()
	return id, false
}

// Recent returns up to n of the most recent turns, oldest first. A
// missing session yields an empty slice.
func (m *Manager) Recent(id string, n int) []Turn {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok || n <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired {
		return nil
	}
	start := len(s.turns) - n
	if start < 0 {
		start = 0
	}
	out := make([]Turn, len(s.turns)-start)
	copy(out, s.turns[start:])
	return out
}

// AppendExchange atomically appends a (user, assistant) turn pair and
// enforces the token budget. Either the whole pair is recorded or, if
// the session vanished between resolution and append, the session is
// recreated under the same id so the exchange is never half-written.
func (m *Manager) AppendExchange(ctx context.Context, id, userText, assistantText string) {
	now := m.now()

	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		s = &session{id: id, createdAt: now, lastActiveAt: now}
		m.sessions[id] = s
	}
	m.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired {
		// Reaper won the race after resolution; restart the record in
		// place so the pair still lands atomically.
		s.expired = false
		s.turns = nil
		s.tokens = 0
		s.createdAt = now
	}

	s.turns = append(s.turns,
		Turn{Role: RoleUser, Text: userText, Timestamp: now},
		Turn{Role: RoleAssistant, Text: assistantText, Timestamp: now},
	)
	s.tokens += m.counter.Count(userText) + m.counter.Count(assistantText)
	s.lastActiveAt = now

	m.enforceBudget(ctx, s)
}

// Delete removes a session. Idempotent: deleting an absent session is a
// no-op.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	s.expired = true
	s.mu.Unlock()
	slog.Info("Deleted session", "session_id", id)
}

// Len reports the number of resident sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sessions returns metadata snapshots for all resident sessions.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.RLock()
	records := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		records = append(records, s)
	}
	m.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(records))
	for _, s := range records {
		s.mu.Lock()
		if !s.expired {
			infos = append(infos, SessionInfo{
				SessionID:    s.id,
				CreatedAt:    s.createdAt,
				LastActiveAt: s.lastActiveAt,
				TurnCount:    len(s.turns),
				Tokens:       s.tokens,
			})
		}
		s.mu.Unlock()
	}
	return infos
}

// EvictIdle expires every session idle past the configured threshold
// and returns how many were evicted. Eviction takes each session's own
// lock, so it cannot interleave with an append on the same session.
func (m *Manager) EvictIdle() int {
	cutoff := m.now().Add(-m.config.IdleTimeout)

	m.mu.RLock()
	candidates := make([]*session, 0)
	for _, s := range m.sessions {
		candidates = append(candidates, s)
	}
	m.mu.RUnlock()

	evicted := 0
	for _, s := range candidates {
		s.mu.Lock()
		idle := !s.expired && s.lastActiveAt.Before(cutoff)
		if idle {
			s.expired = true
		}
		s.mu.Unlock()

		if idle {
			m.mu.Lock()
			if current, ok := m.sessions[s.id]; ok && current == s {
				delete(m.sessions, s.id)
			}
			m.mu.Unlock()
			evicted++
			slog.Info("Evicted idle session", "session_id", s.id,
				"last_active", s.lastActiveAt)
		}
	}
	if evicted > 0 && m.config.OnEvict != nil {
		m.config.OnEvict(evicted)
	}
	return evicted
}

// enforceBudget condenses the oldest turns until the session fits its
// token budget again. Caller holds s.mu. The freshly appended exchange
// (the last two turns) is never evicted.
func (m *Manager) enforceBudget(ctx context.Context, s *session) {
	if s.tokens <= m.config.TokenBudget {
		return
	}

	var evictedSpan []Turn
	for s.tokens > m.config.TokenBudget && len(s.turns) > 2 {
		oldest := s.turns[0]
		s.turns = s.turns[1:]
		s.tokens -= m.counter.Count(oldest.Text)
		evictedSpan = append(evictedSpan, oldest)
	}
	if len(evictedSpan) == 0 {
		// A single exchange larger than the whole budget; nothing older
		// to evict. Keep it rather than erase the conversation.
		slog.Warn("Session exchange alone exceeds token budget",
			"session_id", s.id, "tokens", s.tokens, "budget", m.config.TokenBudget)
		return
	}
	if m.config.OnCondense != nil {
		m.config.OnCondense(len(evictedSpan))
	}

	summary := m.condense(ctx, s.id, evictedSpan)
	summaryTokens := m.counter.Count(summary)

	// Shrink the summary if it would itself blow the budget; drop it
	// entirely only when even a short digest cannot fit.
	for summaryTokens > 0 && s.tokens+summaryTokens > m.config.TokenBudget {
		runes := []rune(summary)
		if len(runes) < 8 {
			slog.Warn("Dropping condensed summary, no budget headroom",
				"session_id", s.id)
			return
		}
		summary = string(runes[:len(runes)/2])
		summaryTokens = m.counter.Count(summary)
	}

	summaryTurn := Turn{
		Role:      RoleAssistant,
		Text:      summary,
		Timestamp: m.now(),
	}
	s.turns = append([]Turn{summaryTurn}, s.turns...)
	s.tokens += summaryTokens

	slog.Debug("Condensed session history",
		"session_id", s.id,
		"evicted_turns", len(evictedSpan),
		"tokens", s.tokens)
}

// condense produces the summary text for an evicted span, falling back
// to the deterministic digest when no condenser is configured or the
// condenser fails.
func (m *Manager) condense(ctx context.Context, sessionID string, span []Turn) string {
	if m.condenser != nil {
		summary, err := m.condenser.Condense(ctx, span)
		if err == nil && summary != "" {
			return summary
		}
		if err != nil {
			slog.Warn("Condenser failed, using digest fallback",
				"session_id", sessionID, "error", err)
		}
	}
	return digestSpan(span)
}
