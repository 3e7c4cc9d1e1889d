// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

type embedRequest struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Id        string    `json:"id"`
	Timestamp int       `json:"timestamp"`
	Text      string    `json:"text"`
	Vector    []float32 `json:"vector"`
	Dim       int       `json:"dim"`
}

// HTTPEmbedder calls the embedding sidecar's /embed endpoint. The sidecar
// owns the model instance; this client only marshals text back and forth
// and validates the returned dimension against the configured corpus
// dimension.
type HTTPEmbedder struct {
	httpClient *http.Client
	embedURL   string
	dimension  int
	maxRunes   int
}

// NewHTTPEmbedder builds a gateway against the sidecar at baseURL.
// dimension is the corpus-wide vector dimension; maxRunes caps the
// accepted input length (0 uses the bge-m3 default).
func NewHTTPEmbedder(baseURL string, dimension, maxRunes int) *HTTPEmbedder {
	if maxRunes <= 0 {
		maxRunes = 8192
	}
	return &HTTPEmbedder{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		embedURL:   strings.TrimSuffix(baseURL, "/") + "/embed",
		dimension:  dimension,
		maxRunes:   maxRunes,
	}
}

// Embed implements Provider.
func (h *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &Error{Reason: ReasonEmptyInput}
	}
	if utf8.RuneCountInString(text) > h.maxRunes {
		return nil, &Error{Reason: ReasonInputTooLong,
			Err: fmt.Errorf("%d runes exceeds limit of %d", utf8.RuneCountInString(text), h.maxRunes)}
	}

	reqBody, err := json.Marshal(embedRequest{Text: text})
	if err != nil {
		return nil, &Error{Reason: ReasonUnavailable, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.embedURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, &Error{Reason: ReasonUnavailable, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Reason: ReasonUnavailable, Err: err}
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Reason: ReasonUnavailable,
			Err: fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, string(bodyBytes))}
	}

	var embResp embedResponse
	if err := json.Unmarshal(bodyBytes, &embResp); err != nil {
		return nil, &Error{Reason: ReasonUnavailable, Err: err}
	}

	if h.dimension > 0 && len(embResp.Vector) != h.dimension {
		slog.Error("Embedding dimension mismatch",
			"expected", h.dimension, "got", len(embResp.Vector))
		return nil, &Error{Reason: ReasonDimMismatch,
			Err: fmt.Errorf("expected %d, got %d", h.dimension, len(embResp.Vector))}
	}

	return embResp.Vector, nil
}
