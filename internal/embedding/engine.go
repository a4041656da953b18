// Package embedding turns text into vectors for the memory store.
package embedding

import (
	"context"
	"fmt"
	log "log/slog"
	"math"
	"net/http"
	"sort"
)

type Engine interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}

type Config struct {
	// Provider is "genai" or "openai".
	Provider    string
	GenAIKey    string
	GenAIModel  string
	OpenAIKey   string
	OpenAIModel string
	// BaseURL overrides the OpenAI endpoint, GenAIBaseURL the Gemini one.
	BaseURL      string
	GenAIBaseURL string
	HTTPClient   *http.Client
}

const (
	DefaultGenAIModel  = "gemini-embedding-001"
	DefaultOpenAIModel = "text-embedding-3-small"
	// Both providers are asked for vectors of this size.
	DefaultDimensions = 768
)

func NewEngine(ctx context.Context, cfg Config) (Engine, error) {
	var (
		e   Engine
		err error
	)
	switch cfg.Provider {
	case "genai", "google", "":
		e, err = NewGenAIEngine(ctx, cfg.GenAIKey, cfg.GenAIModel, cfg.GenAIBaseURL, cfg.HTTPClient)
	case "openai":
		e, err = NewOpenAIEngine(cfg.OpenAIKey, cfg.OpenAIModel, cfg.BaseURL, cfg.HTTPClient)
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	log.Info("Embedding engine ready", "name", e.Name(), "dims", e.Dimensions())
	return e, nil
}

// CosineSimilarity is in [-1, 1]; a zero vector is similar to nothing.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector length mismatch: %d != %d", len(a), len(b))
	}

	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

type SimilarityResult struct {
	Index      int
	Similarity float64
}

// FindTopK ranks corpus against query, most similar first. Vectors of the
// wrong length are skipped.
func FindTopK(query []float32, corpus [][]float32, k int) []SimilarityResult {
	if k <= 0 {
		return nil
	}

	res := make([]SimilarityResult, 0, len(corpus))
	for i, v := range corpus {
		s, err := CosineSimilarity(query, v)
		if err != nil {
			continue
		}
		res = append(res, SimilarityResult{Index: i, Similarity: s})
	}

	sort.SliceStable(res, func(i, j int) bool {
		return res[i].Similarity > res[j].Similarity
	})
	if len(res) > k {
		res = res[:k]
	}
	return res
}
