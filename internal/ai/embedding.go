package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// EmbedMode selects the provider-side input type: documents and queries are
// embedded differently by retrieval-tuned models.
type EmbedMode string

const (
	ModeDocument EmbedMode = "search_document"
	ModeQuery    EmbedMode = "search_query"
)

// Embed returns one vector per input text, in input order. A failed or
// partial response is a hard error; callers never see a half-embedded batch.
func (c *Client) Embed(ctx context.Context, texts []string, mode EmbedMode) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("embedding input %d is empty", i)
		}
	}

	reqBody := map[string]interface{}{
		"model":      c.emb.Model,
		"input":      texts,
		"input_type": string(mode),
	}
	raw, err := c.post(ctx, c.emb.BaseURL, "/embeddings", c.emb.APIKey, reqBody)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse embedding json failed: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("requested %d embeddings, got %d", len(texts), len(parsed.Data))
	}

	result := make([][]float32, len(parsed.Data))
	for i := range parsed.Data {
		vec := parsed.Data[i].Embedding
		if c.emb.Dimension > 0 && len(vec) != c.emb.Dimension {
			return nil, fmt.Errorf("embedding %d has %d dims, expected %d", i, len(vec), c.emb.Dimension)
		}
		result[i] = vec
	}
	return result, nil
}
