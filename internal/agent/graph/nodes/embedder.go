package nodes

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/embedding"
	"google.golang.org/genai"

	errx "github.com/retirement-advisor-poc/server/internal/core/error"
)

const embedTaskType = "SEMANTIC_SIMILARITY"

// GeminiEmbedder implements the eino embedding.Embedder interface over the
// Gemini embeddings endpoint.
type GeminiEmbedder struct {
	client *genai.Client
	model  string
}

var _ embedding.Embedder = (*GeminiEmbedder)(nil)

func NewGeminiEmbedder(client *genai.Client, model string) *GeminiEmbedder {
	return &GeminiEmbedder{client: client, model: model}
}

// EmbedStrings returns one vector per text, in input order.
func (e *GeminiEmbedder) EmbedStrings(ctx context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		contents = append(contents, genai.NewContentFromText(t, genai.RoleUser))
	}

	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		TaskType: embedTaskType,
	})
	if err != nil {
		return nil, errx.WrapLLM(fmt.Errorf("embed content: %w", err))
	}
	if resp == nil || len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embed content: expected %d embeddings", len(texts))
	}

	out := make([][]float64, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if emb == nil {
			return nil, fmt.Errorf("embed content: missing embedding %d", i)
		}
		vec := make([]float64, len(emb.Values))
		for j, v := range emb.Values {
			vec[j] = float64(v)
		}
		out[i] = vec
	}
	return out, nil
}
