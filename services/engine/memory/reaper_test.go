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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvictIdle_ExpiresStaleSessions(t *testing.T) {
	// Arrange
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(Config{TokenBudget: 3000, IdleTimeout: 24 * time.Hour}, HeuristicCounter{}, nil)
	m.now = func() time.Time { return base }

	staleID := m.Create()
	m.AppendExchange(context.Background(), staleID, "ปวดหัว", "พักผ่อน")

	m.now = func() time.Time { return base.Add(25 * time.Hour) }
	freshID := m.Create()

	// Act
	evicted := m.EvictIdle()

	// Assert
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, m.Len(), "expired sessions leave the arena")

	_, created := m.GetOrCreate(staleID)
	assert.True(t, created, "stale id starts over instead of failing")

	resolved, created := m.GetOrCreate(freshID)
	assert.False(t, created)
	assert.Equal(t, freshID, resolved)
}

func TestEvictIdle_ActivityResetsClock(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(Config{TokenBudget: 3000, IdleTimeout: 24 * time.Hour}, HeuristicCounter{}, nil)
	m.now = func() time.Time { return base }

	id := m.Create()

	// Touch the session 23 hours in, then sweep at hour 25. The session
	// has only been idle for 2 hours and must survive.
	m.now = func() time.Time { return base.Add(23 * time.Hour) }
	m.AppendExchange(context.Background(), id, "ยังอยู่", "ครับ")

	m.now = func() time.Time { return base.Add(25 * time.Hour) }
	evicted := m.EvictIdle()

	assert.Equal(t, 0, evicted)
	resolved, created := m.GetOrCreate(id)
	assert.False(t, created)
	assert.Equal(t, id, resolved)
}

// TestEvictIdle_OnEvictHook verifies sweeps report eviction counts
// through the configured hook, and only for sweeps that evicted.
func TestEvictIdle_OnEvictHook(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	reported := 0
	m := NewManager(Config{
		IdleTimeout: time.Hour,
		OnEvict:     func(sessions int) { reported += sessions },
	}, HeuristicCounter{}, nil)
	m.now = func() time.Time { return base }
	m.Create()
	m.Create()

	m.EvictIdle()
	assert.Zero(t, reported, "an empty sweep stays silent")

	m.now = func() time.Time { return base.Add(2 * time.Hour) }
	m.EvictIdle()
	assert.Equal(t, 2, reported)
}

func TestReaper_StartStop(t *testing.T) {
	m := NewManager(Config{}, HeuristicCounter{}, nil)
	r := NewReaper(m, ReaperConfig{Interval: time.Hour})

	require.NoError(t, r.Start(context.Background()))
	assert.Error(t, r.Start(context.Background()), "double start is rejected")

	require.NoError(t, r.Stop())
	assert.NoError(t, r.Stop(), "stop is idempotent")
}

func TestReaper_RunNow(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(Config{IdleTimeout: time.Hour}, HeuristicCounter{}, nil)
	m.now = func() time.Time { return base }
	m.Create()

	m.now = func() time.Time { return base.Add(2 * time.Hour) }
	r := NewReaper(m, DefaultReaperConfig())

	assert.Equal(t, 1, r.RunNow())
	assert.Equal(t, 0, m.Len())
}
