package semantic

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/copysentry/backend/internal/domain"
	"github.com/copysentry/backend/pkg/config"
)

// Scorer estimates how closely a candidate listing's text describes the
// protected work, by cosine similarity of text embeddings. The score is
// advisory: it is stored alongside the match for reviewers but never
// decides whether something is a match.
type Scorer struct {
	client  *openai.Client
	model   openai.EmbeddingModel
	timeout time.Duration
}

// NewScorer returns nil when semantic scoring is disabled or unconfigured;
// the match pipeline treats a nil scorer as absent.
func NewScorer(cfg config.SemanticConfig) *Scorer {
	if !cfg.Enabled || cfg.APIKey == "" {
		return nil
	}
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	model := openai.EmbeddingModel(cfg.EmbeddingModel)
	if cfg.EmbeddingModel == "" {
		model = openai.SmallEmbedding3
	}
	return &Scorer{
		client:  openai.NewClient(cfg.APIKey),
		model:   model,
		timeout: timeout,
	}
}

func (s *Scorer) Score(ctx context.Context, content *domain.ProtectedContent, candidate domain.Candidate) (float64, error) {
	reference := strings.TrimSpace(content.Title + " " + content.Description)
	subject := strings.TrimSpace(candidate.Title)
	if reference == "" || subject == "" {
		return 0, fmt.Errorf("no text to compare")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{reference, subject},
		Model: s.model,
	})
	if err != nil {
		return 0, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != 2 {
		return 0, fmt.Errorf("expected 2 embeddings, got %d", len(resp.Data))
	}

	return cosineSimilarity(resp.Data[0].Embedding, resp.Data[1].Embedding)
}

func cosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, fmt.Errorf("embedding dimensions mismatch: %d vs %d", len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, fmt.Errorf("zero-magnitude embedding")
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
