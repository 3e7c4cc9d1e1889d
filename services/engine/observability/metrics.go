// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the chat engine.
//
// # Description
//
// This package implements Prometheus metrics for monitoring the
// conversational retrieval pipeline. Metrics include:
//   - Request counters (by status and backend)
//   - Stage latency histograms (normalize, embed, retrieve, synthesize)
//   - Retrieved document counters (kept vs filtered by the floor)
//   - Active session gauge and eviction counter
//
// # Integration
//
// Metrics are exposed via /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal
// locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "agnrag"

// Subsystem for chat pipeline metrics
const chatSubsystem = "chat"

// Stage labels a pipeline stage for latency metrics.
type Stage string

const (
	StageNormalize  Stage = "normalize"
	StageEmbed      Stage = "embed"
	StageRetrieve   Stage = "retrieve"
	StageSynthesize Stage = "synthesize"
)

// ErrorCode categorizes a request failure for metrics.
type ErrorCode string

const (
	// ErrorCodeValidation indicates request validation failure.
	ErrorCodeValidation ErrorCode = "validation"

	// ErrorCodeEmbedding indicates the embedding service failed.
	ErrorCodeEmbedding ErrorCode = "embedding"

	// ErrorCodeRetrieval indicates the vector store failed.
	ErrorCodeRetrieval ErrorCode = "retrieval"

	// ErrorCodeSynthesis indicates the LLM backend failed.
	ErrorCodeSynthesis ErrorCode = "synthesis"

	// ErrorCodeTimeout indicates a stage deadline expired.
	ErrorCodeTimeout ErrorCode = "timeout"

	// ErrorCodeInternal indicates an internal server error.
	ErrorCodeInternal ErrorCode = "internal"
)

// EngineMetrics holds all Prometheus metrics for the chat pipeline.
//
// Initialize once at startup via InitMetrics(); duplicate registration
// panics.
type EngineMetrics struct {
	// RequestsTotal counts chat requests by status.
	// Labels: status (success, error)
	RequestsTotal *prometheus.CounterVec

	// ErrorsTotal counts request failures by error code.
	// Labels: error_code (validation, embedding, retrieval, synthesis, timeout, internal)
	ErrorsTotal *prometheus.CounterVec

	// StageDurationSeconds measures per-stage latency.
	// Labels: stage (normalize, embed, retrieve, synthesize)
	StageDurationSeconds *prometheus.HistogramVec

	// RequestDurationSeconds measures end-to-end chat latency.
	// Labels: status (success, error)
	RequestDurationSeconds *prometheus.HistogramVec

	// DocumentsRetrieved counts retrieved documents by disposition.
	// Labels: disposition (kept, filtered)
	DocumentsRetrieved *prometheus.CounterVec

	// ActiveSessions tracks sessions currently resident in memory.
	ActiveSessions prometheus.Gauge

	// SessionsEvictedTotal counts idle sessions removed by the reaper.
	SessionsEvictedTotal prometheus.Counter

	// TurnsCondensedTotal counts turns folded into summary turns by the
	// token budget.
	TurnsCondensedTotal prometheus.Counter
}

// DefaultMetrics is the singleton instance of EngineMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *EngineMetrics

// InitMetrics creates and registers all Prometheus metrics. Call once
// at application startup.
func InitMetrics() *EngineMetrics {
	DefaultMetrics = &EngineMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "requests_total",
				Help:      "Total number of chat requests by status",
			},
			[]string{"status"},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "errors_total",
				Help:      "Total chat request failures by error code",
			},
			[]string{"error_code"},
		),

		StageDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "stage_duration_seconds",
				Help:      "Pipeline stage latency in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"stage"},
		),

		RequestDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "request_duration_seconds",
				Help:      "End-to-end chat request latency in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"status"},
		),

		DocumentsRetrieved: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "documents_retrieved_total",
				Help:      "Retrieved documents by disposition after the similarity floor",
			},
			[]string{"disposition"},
		),

		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "memory",
				Name:      "active_sessions",
				Help:      "Number of sessions currently resident in the arena",
			},
		),

		SessionsEvictedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "memory",
				Name:      "sessions_evicted_total",
				Help:      "Total idle sessions evicted by the reaper",
			},
		),

		TurnsCondensedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "memory",
				Name:      "turns_condensed_total",
				Help:      "Total turns folded into summary turns by the token budget",
			},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRequest records a completed chat request and its duration.
func (m *EngineMetrics) RecordRequest(success bool, seconds float64) {
	status := "success"
	if !success {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(status).Inc()
	m.RequestDurationSeconds.WithLabelValues(status).Observe(seconds)
}

// RecordError records a request failure by category.
func (m *EngineMetrics) RecordError(code ErrorCode) {
	m.ErrorsTotal.WithLabelValues(string(code)).Inc()
}

// RecordStage records one pipeline stage latency.
func (m *EngineMetrics) RecordStage(stage Stage, seconds float64) {
	m.StageDurationSeconds.WithLabelValues(string(stage)).Observe(seconds)
}

// RecordRetrieved records the retrieval outcome of one request.
func (m *EngineMetrics) RecordRetrieved(kept, filtered int) {
	m.DocumentsRetrieved.WithLabelValues("kept").Add(float64(kept))
	m.DocumentsRetrieved.WithLabelValues("filtered").Add(float64(filtered))
}

// SetActiveSessions updates the resident session gauge.
func (m *EngineMetrics) SetActiveSessions(n int) {
	m.ActiveSessions.Set(float64(n))
}

// RecordEvictions records a reaper sweep result.
func (m *EngineMetrics) RecordEvictions(n int) {
	if n > 0 {
		m.SessionsEvictedTotal.Add(float64(n))
	}
}

// RecordCondensedTurns records turns folded into a summary.
func (m *EngineMetrics) RecordCondensedTurns(n int) {
	if n > 0 {
		m.TurnsCondensedTotal.Add(float64(n))
	}
}
