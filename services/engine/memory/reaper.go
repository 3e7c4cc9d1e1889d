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
	"log/slog"
	"sync"
	"time"
)

// ReaperConfig holds configuration for background session reclamation.
type ReaperConfig struct {
	// Interval is how often idle sessions are swept. Default: 1 hour.
	Interval time.Duration
}

// DefaultReaperConfig returns the production sweep interval.
func DefaultReaperConfig() ReaperConfig {
	return ReaperConfig{Interval: 1 * time.Hour}
}

// Reaper periodically evicts idle sessions from a Manager.
//
// # Description
//
// Uses the ticker + done channel pattern for graceful shutdown. Only
// one reaper should run per engine instance. Eviction goes through
// Manager.EvictIdle, which takes each session's own lock, so a sweep
// can never race a concurrent append on the same session.
type Reaper struct {
	manager *Manager
	config  ReaperConfig
	done    chan struct{}
	mu      sync.Mutex
	running bool
}

// NewReaper creates a reaper for the given arena. Ready to Start().
func NewReaper(manager *Manager, config ReaperConfig) *Reaper {
	if config.Interval <= 0 {
		config.Interval = DefaultReaperConfig().Interval
	}
	return &Reaper{
		manager: manager,
		config:  config,
		done:    make(chan struct{}),
	}
}

// Start begins the background sweep goroutine. Returns an error if the
// reaper is already running.
func (r *Reaper) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("session reaper is already running")
	}
	r.running = true
	r.done = make(chan struct{}) // Reset done channel for potential restart
	r.mu.Unlock()

	slog.Info("Session reaper starting",
		"interval", r.config.Interval.String(),
		"idle_timeout", r.manager.config.IdleTimeout.String(),
	)

	go r.runLoop(ctx)
	return nil
}

// Stop signals the sweep goroutine to exit. Safe to call multiple
// times.
func (r *Reaper) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return nil // Already stopped
	}

	slog.Info("Session reaper stopping")
	close(r.done)
	r.running = false
	return nil
}

// RunNow triggers an immediate sweep and reports how many sessions
// were evicted. Useful for manual invocation and tests.
func (r *Reaper) RunNow() int {
	return r.manager.EvictIdle()
}

func (r *Reaper) runLoop(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Session reaper stopped (context cancelled)")
			return
		case <-r.done:
			slog.Info("Session reaper stopped (stop requested)")
			return
		case <-ticker.C:
			if evicted := r.manager.EvictIdle(); evicted > 0 {
				slog.Info("Session reaper sweep completed", "evicted", evicted)
			} else {
				slog.Debug("Session reaper sweep completed (no idle sessions)")
			}
		}
	}
}
