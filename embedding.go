package alyamem

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/coder/hnsw"
)

// ──────────────────────────────────────────────
// Embedding strategy — vector similarity over an HNSW index
// ──────────────────────────────────────────────

// EmbedFunc generates a dense embedding vector for a text string.
// Callers wire this to their embedding provider (OpenAI, Cohere, a
// local model, ...). It must honor ctx cancellation.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// EmbeddingScorer ranks candidates by cosine similarity between the
// query vector and each candidate vector, searched through an HNSW
// graph. Candidate vectors are cached by content so a stable corpus is
// embedded once.
//
// Any provider error or ctx expiry is returned to the Retriever, which
// falls back to the lexical strategy.
type EmbeddingScorer struct {
	embed         EmbedFunc
	minSimilarity float64

	mu    sync.Mutex
	cache map[string][]float32
}

const embedCacheMax = 4096

// NewEmbeddingScorer creates the embedding strategy. embed is required.
func NewEmbeddingScorer(embed EmbedFunc, cfg RetrievalConfig) *EmbeddingScorer {
	minSim := cfg.MinSimilarity
	if minSim <= 0 {
		minSim = 0.55
	}
	return &EmbeddingScorer{
		embed:         embed,
		minSimilarity: minSim,
		cache:         make(map[string][]float32),
	}
}

func (s *EmbeddingScorer) Name() string { return "embedding" }

// Score implements Scorer.
func (s *EmbeddingScorer) Score(ctx context.Context, query string, candidates []Candidate) ([]RelevantMemory, error) {
	queryVec, err := s.vector(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	graph := hnsw.NewGraph[string]()
	vectors := make(map[string][]float32, len(candidates))
	for i, c := range candidates {
		vec, err := s.vector(ctx, c.Content)
		if err != nil {
			return nil, fmt.Errorf("embed candidate: %w", err)
		}
		if len(vec) != len(queryVec) {
			return nil, fmt.Errorf("embedding dimension mismatch: query %d, candidate %d", len(queryVec), len(vec))
		}
		key := strconv.Itoa(i)
		graph.Add(hnsw.MakeNode(key, vec))
		vectors[key] = vec
	}

	neighbors := graph.Search(queryVec, len(candidates))
	hits := make([]RelevantMemory, 0, len(neighbors))
	for _, node := range neighbors {
		idx, err := strconv.Atoi(node.Key)
		if err != nil || idx < 0 || idx >= len(candidates) {
			continue
		}
		sim := cosineSimilarity(queryVec, vectors[node.Key])
		if sim < s.minSimilarity {
			continue
		}
		c := candidates[idx]
		hits = append(hits, RelevantMemory{
			Content: c.Content,
			Score:   sim,
			Source:  c.Source,
			At:      c.At,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].At.After(hits[j].At)
	})
	return hits, nil
}

// vector embeds text through the cache.
func (s *EmbeddingScorer) vector(ctx context.Context, text string) ([]float32, error) {
	key := DedupKey("", "", text)
	s.mu.Lock()
	if vec, ok := s.cache[key]; ok {
		s.mu.Unlock()
		return vec, nil
	}
	s.mu.Unlock()

	vec, err := s.embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("embedding provider returned an empty vector")
	}

	s.mu.Lock()
	if len(s.cache) >= embedCacheMax {
		s.cache = make(map[string][]float32)
	}
	s.cache[key] = vec
	s.mu.Unlock()
	return vec, nil
}

// cosineSimilarity computes cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := 0; i < len(a); i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Compile-time interface check.
var _ Scorer = (*EmbeddingScorer)(nil)
