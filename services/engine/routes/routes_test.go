// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/agn-rag/services/engine/datatypes"
	"github.com/AleutianAI/agn-rag/services/engine/memory"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

// mockChatService is a minimal mock for handlers.ChatService
type mockChatService struct{}

func (m *mockChatService) Chat(_ context.Context, _ datatypes.ChatRequest) (datatypes.ChatResult, error) {
	return datatypes.ChatResult{Answer: "mock answer", SessionID: "mock-session"}, nil
}

func (m *mockChatService) NewSession() string { return "mock-session" }

func (m *mockChatService) Sessions() []memory.SessionInfo { return nil }

func (m *mockChatService) DeleteSession(_ string) {}

// ============================================================================
// SetupRoutes Tests
// ============================================================================

func TestSetupRoutes_CoreRoutesRegistered(t *testing.T) {
	router := gin.New()

	SetupRoutes(router, &mockChatService{}, true)

	coreRoutes := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"POST", "/v1/chat"},
		{"POST", "/v1/sessions"},
		{"GET", "/v1/sessions"},
		{"DELETE", "/v1/sessions/:sessionId"},
	}

	routes := router.Routes()
	for _, expected := range coreRoutes {
		found := false
		for _, r := range routes {
			if r.Method == expected.method && r.Path == expected.path {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected route %s %s not found", expected.method, expected.path)
		}
	}
}

func TestSetupRoutes_MetricsDisabled(t *testing.T) {
	router := gin.New()

	SetupRoutes(router, &mockChatService{}, false)

	for _, r := range router.Routes() {
		if r.Path == "/metrics" {
			t.Error("Metrics route should not be registered when disabled")
		}
	}
}

func TestSetupRoutes_HealthEndpoint(t *testing.T) {
	router := gin.New()

	SetupRoutes(router, &mockChatService{}, false)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Health endpoint returned %d, want %d", w.Code, http.StatusOK)
	}
}

func TestSetupRoutes_MetricsEndpoint(t *testing.T) {
	router := gin.New()

	SetupRoutes(router, &mockChatService{}, true)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/metrics", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Metrics endpoint returned %d, want %d", w.Code, http.StatusOK)
	}
	if w.Header().Get("Content-Type") == "" {
		t.Error("Metrics endpoint should return Content-Type header")
	}
}

func TestSetupRoutes_V1GroupExists(t *testing.T) {
	router := gin.New()

	SetupRoutes(router, &mockChatService{}, false)

	v1Routes := 0
	for _, r := range router.Routes() {
		if len(r.Path) > 3 && r.Path[:3] == "/v1" {
			v1Routes++
		}
	}

	if v1Routes == 0 {
		t.Error("Expected at least one /v1 route")
	}
}
