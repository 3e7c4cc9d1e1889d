// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/agn-rag/services/embedding"
	"github.com/AleutianAI/agn-rag/services/engine/datatypes"
	"github.com/AleutianAI/agn-rag/services/engine/memory"
	"github.com/AleutianAI/agn-rag/services/engine/retrieval"
	"github.com/AleutianAI/agn-rag/services/engine/synthesis"
)

var chatTracer = otel.Tracer("agnrag.engine.handlers")

// ChatService is the pipeline surface the HTTP layer depends on.
type ChatService interface {
	Chat(ctx context.Context, req datatypes.ChatRequest) (datatypes.ChatResult, error)
	NewSession() string
	Sessions() []memory.SessionInfo
	DeleteSession(id string)
}

// HandleChat processes one conversational turn.
func HandleChat(svc ChatService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleChat")
		defer span.End()

		var req datatypes.ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to parse the chat request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		result, err := svc.Chat(ctx, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Chat pipeline failed", "error", err, "session_id", req.SessionID)
			status, message := classifyChatError(err)
			c.JSON(status, gin.H{"error": message})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"answer":     result.Answer,
			"sources":    result.Sources,
			"session_id": result.SessionID,
		})
	}
}

// classifyChatError maps pipeline failures to HTTP status codes.
// Upstream dependency failures are bad-gateway class so callers can
// tell them apart from bugs in this service.
func classifyChatError(err error) (int, string) {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "upstream dependency timed out"
	}

	var embErr *embedding.Error
	if errors.As(err, &embErr) {
		return http.StatusBadGateway, "embedding service unavailable"
	}

	var retErr *retrieval.Error
	if errors.As(err, &retErr) {
		return http.StatusBadGateway, "vector store unavailable"
	}

	var synErr *synthesis.Error
	if errors.As(err, &synErr) {
		return http.StatusBadGateway, "language model backend unavailable"
	}

	return http.StatusInternalServerError, "internal error"
}
