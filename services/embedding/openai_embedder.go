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
	"context"
	"log/slog"

	"github.com/sashabaranov/go-openai"
)

// OpenAIEmbedder embeds text via the OpenAI embeddings API. It exists for
// deployments that run without the local embedding sidecar; note that the
// corpus must have been indexed with the same model for scores to mean
// anything.
type OpenAIEmbedder struct {
	client    *openai.Client
	model     openai.EmbeddingModel
	dimension int
}

// NewOpenAIEmbedder builds an embeddings gateway backed by the OpenAI API.
func NewOpenAIEmbedder(apiKey, model string, dimension int) *OpenAIEmbedder {
	if model == "" {
		model = string(openai.LargeEmbedding3)
	}
	slog.Info("Initializing OpenAI embedding provider", "model", model)
	return &OpenAIEmbedder{
		client:    openai.NewClient(apiKey),
		model:     openai.EmbeddingModel(model),
		dimension: dimension,
	}
}

// Embed implements Provider.
func (o *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, &Error{Reason: ReasonEmptyInput}
	}

	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: o.model,
	}
	if o.dimension > 0 {
		req.Dimensions = o.dimension
	}

	resp, err := o.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, &Error{Reason: ReasonUnavailable, Err: err}
	}
	if len(resp.Data) == 0 {
		return nil, &Error{Reason: ReasonUnavailable}
	}
	return resp.Data[0].Embedding, nil
}
