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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

func CreateSession(svc ChatService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := svc.NewSession()
		slog.Info("Created session", "session_id", id)
		c.JSON(http.StatusCreated, gin.H{"session_id": id})
	}
}

func ListSessions(svc ChatService) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessions := svc.Sessions()
		c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
	}
}

// DeleteSession removes a session and its history. Unknown ids still
// return success so deletion is safe to retry.
func DeleteSession(svc ChatService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("sessionId")
		slog.Info("Received a request to delete a session", "session_id", id)
		svc.DeleteSession(id)
		c.JSON(http.StatusOK, gin.H{"status": "success", "deleted_session_id": id})
	}
}
