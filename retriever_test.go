package alyamem

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func seedCorpus(t *testing.T, m *MemoryBackend) {
	t.Helper()
	ctx := context.Background()
	for _, content := range []string{
		"I adopted a cat named Miso last spring",
		"work has been stressful this quarter",
		"my favorite food is spicy ramen",
	} {
		if _, err := m.Append(ctx, NewTurn("u1", "c1", RoleUser, content)); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	if _, err := m.Upsert(ctx, Fact{UserID: "u1", Key: "pet", Value: "cat named Miso", Confidence: 0.9}); err != nil {
		t.Fatalf("seed fact: %v", err)
	}
}

// ══════════════════════════════════════════════
// Lexical scoring
// ══════════════════════════════════════════════

func TestLexical_ScoresByOverlap(t *testing.T) {
	s := NewLexicalScorer(DefaultConfig().Retrieval)
	candidates := []Candidate{
		{Content: "I adopted a cat named Miso", Source: "turn", At: time.Now()},
		{Content: "work has been stressful", Source: "turn", At: time.Now()},
	}
	hits, err := s.Score(context.Background(), "how is your cat miso doing", candidates)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d: %+v", len(hits), hits)
	}
	if hits[0].Content != "I adopted a cat named Miso" {
		t.Fatalf("wrong hit: %+v", hits[0])
	}
	if hits[0].Score <= 0 || hits[0].Score > 1 {
		t.Fatalf("score out of range: %f", hits[0].Score)
	}
}

func TestLexical_ZeroKeywordQuery(t *testing.T) {
	s := NewLexicalScorer(DefaultConfig().Retrieval)
	hits, _ := s.Score(context.Background(), "a an of to", []Candidate{
		{Content: "anything at all"},
	})
	if len(hits) != 0 {
		t.Fatalf("stopword-only query must match nothing, got %+v", hits)
	}
}

func TestLexical_RecencyTieBreak(t *testing.T) {
	s := NewLexicalScorer(DefaultConfig().Retrieval)
	old := time.Now().Add(-time.Hour)
	recent := time.Now()
	hits, _ := s.Score(context.Background(), "ramen", []Candidate{
		{Content: "ramen for lunch", At: old},
		{Content: "ramen again tonight", At: recent},
	})
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if !hits[0].At.Equal(recent) {
		t.Fatal("tie must break toward the most recent candidate")
	}
}

// ══════════════════════════════════════════════
// Retriever orchestration
// ══════════════════════════════════════════════

func TestRetriever_NoOverlapReturnsEmpty(t *testing.T) {
	m := NewMemoryBackend(0)
	seedCorpus(t, m)
	r := NewRetriever(m, nil, DefaultConfig().Retrieval, zerolog.Nop())

	hits, err := r.Retrieve(context.Background(), "u1", "c1", "quantum chromodynamics lattice simulation", 5)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected empty result for unrelated query, got %+v", hits)
	}
}

func TestRetriever_FindsFactsAndTurns(t *testing.T) {
	m := NewMemoryBackend(0)
	seedCorpus(t, m)
	r := NewRetriever(m, nil, DefaultConfig().Retrieval, zerolog.Nop())

	hits, err := r.Retrieve(context.Background(), "u1", "c1", "tell me about your cat miso", 5)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected hits for cat query")
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Fatal("hits must be in descending score order")
		}
	}
}

func TestRetriever_CapsResults(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend(0)
	for _, c := range []string{"ramen one", "ramen two", "ramen three", "ramen four"} {
		m.Append(ctx, NewTurn("u1", "c1", RoleUser, c))
	}
	r := NewRetriever(m, nil, DefaultConfig().Retrieval, zerolog.Nop())

	hits, _ := r.Retrieve(ctx, "u1", "c1", "ramen", 2)
	if len(hits) != 2 {
		t.Fatalf("expected 2 capped hits, got %d", len(hits))
	}
}

type failingScorer struct{}

func (failingScorer) Name() string { return "embedding" }
func (failingScorer) Score(context.Context, string, []Candidate) ([]RelevantMemory, error) {
	return nil, errors.New("provider timeout")
}

func TestRetriever_FallsBackToLexical(t *testing.T) {
	m := NewMemoryBackend(0)
	seedCorpus(t, m)
	r := NewRetriever(m, failingScorer{}, DefaultConfig().Retrieval, zerolog.Nop())

	hits, err := r.Retrieve(context.Background(), "u1", "c1", "spicy ramen", 5)
	if err != nil {
		t.Fatalf("fallback must not surface the provider failure: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected lexical fallback hits")
	}
}

func TestRetriever_EmptyQuery(t *testing.T) {
	m := NewMemoryBackend(0)
	seedCorpus(t, m)
	r := NewRetriever(m, nil, DefaultConfig().Retrieval, zerolog.Nop())

	hits, err := r.Retrieve(context.Background(), "u1", "c1", "   ", 5)
	if err != nil || len(hits) != 0 {
		t.Fatalf("blank query should return empty, got %v %v", hits, err)
	}
}
