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
	"log/slog"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter measures turn text in the same metric the token budget
// is expressed in.
type TokenCounter interface {
	Count(text string) int
}

// TiktokenCounter counts with the cl100k_base BPE, matching how the
// remote backend bills prompt tokens.
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the cl100k_base encoding. The first call may
// fetch the BPE ranks, so construct once at startup.
func NewTiktokenCounter() (*TiktokenCounter, error) {
	encoding, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
	if err != nil {
		return nil, err
	}
	return &TiktokenCounter{encoding: encoding}, nil
}

// Count implements TokenCounter.
func (t *TiktokenCounter) Count(text string) int {
	return len(t.encoding.Encode(text, nil, nil))
}

// HeuristicCounter approximates token counts as ceil(runes/4), the
// usual chars-per-token rule of thumb. It is the fallback when the BPE
// ranks cannot be fetched (air-gapped deployments) and the counter used
// in tests.
type HeuristicCounter struct{}

// Count implements TokenCounter.
func (HeuristicCounter) Count(text string) int {
	runes := utf8.RuneCountInString(text)
	if runes == 0 {
		return 0
	}
	return (runes + 3) / 4
}

// NewTokenCounter returns a tiktoken-backed counter, degrading to the
// heuristic when the encoding is unavailable.
func NewTokenCounter() TokenCounter {
	counter, err := NewTiktokenCounter()
	if err != nil {
		slog.Warn("tiktoken encoding unavailable, using heuristic token counter",
			"error", err)
		return HeuristicCounter{}
	}
	return counter
}
