// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package embedding provides the gateway to the shared multilingual
// embedding model.
//
// # Description
//
// The corpus and all queries are embedded with one model (bge-m3 by
// default, 1024 dimensions), loaded once by an embedding sidecar and
// reused for every request. This package wraps access to that model
// behind the Provider interface so backends can be swapped without
// touching the retrieval pipeline.
//
// # Thread Safety
//
// All implementations are stateless after construction and safe for
// concurrent use from multiple in-flight requests.
package embedding

import (
	"context"
	"fmt"
)

// Provider converts text into a fixed-length vector.
//
// Embed is deterministic for a given model version. It must fail with a
// *Error rather than truncating input silently: input-length policy
// belongs to the caller.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Error is the typed failure for embedding operations. It is fatal to
// the request that triggered it.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("embedding failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("embedding failed (%s)", e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Failure reasons used across providers.
const (
	ReasonUnavailable  = "model unavailable"
	ReasonInputTooLong = "input exceeds model limit"
	ReasonDimMismatch  = "dimension mismatch"
	ReasonEmptyInput   = "empty input"
)
