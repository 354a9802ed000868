package alyamem

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// ══════════════════════════════════════════════
// Context assembler
// ══════════════════════════════════════════════

// faultyBackend fails selected reads to exercise degraded assembly.
type faultyBackend struct {
	*MemoryBackend
	failFacts     bool
	failSummaries bool
}

func (f *faultyBackend) GetAll(ctx context.Context, userID string) ([]Fact, error) {
	if f.failFacts {
		return nil, fmt.Errorf("facts: %w", ErrStorageUnavailable)
	}
	return f.MemoryBackend.GetAll(ctx, userID)
}

func (f *faultyBackend) Summaries(ctx context.Context, userID, conversationID string) ([]Summary, error) {
	if f.failSummaries {
		return nil, fmt.Errorf("summaries: %w", ErrStorageUnavailable)
	}
	return f.MemoryBackend.Summaries(ctx, userID, conversationID)
}

func newTestAssembler(backend Backend, cfg Config) *ContextAssembler {
	log := zerolog.Nop()
	retriever := NewRetriever(backend, nil, cfg.Retrieval, log)
	return NewContextAssembler(backend, retriever, cfg, log)
}

func TestBuild_ComposesAllSections(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend(0)
	a := newTestAssembler(m, DefaultConfig())

	m.Append(ctx, NewTurn("u1", "c1", RoleUser, "good morning alya"))
	m.Append(ctx, NewTurn("u1", "c1", RoleAssistant, "morning! sleep well?"))
	m.Upsert(ctx, Fact{UserID: "u1", Key: "name", Value: "Rei", Confidence: 0.9})

	payload, err := a.Build(ctx, "u1", "c1", "good morning")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(payload.RecentTurns) != 2 {
		t.Fatalf("expected 2 recent turns, got %d", len(payload.RecentTurns))
	}
	if len(payload.Facts) != 1 || payload.Facts[0].Key != "name" {
		t.Fatalf("facts missing: %+v", payload.Facts)
	}
	if payload.Relationship.Level != LevelStranger {
		t.Fatalf("unexpected relationship snapshot: %+v", payload.Relationship)
	}
	if len(payload.Degraded) != 0 {
		t.Fatalf("healthy backend must not degrade: %v", payload.Degraded)
	}
}

func TestBuild_DropsMemoriesAlreadyInWindow(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend(0)
	a := newTestAssembler(m, DefaultConfig())

	m.Append(ctx, NewTurn("u1", "c1", RoleUser, "I love spicy ramen"))
	m.Upsert(ctx, Fact{UserID: "u1", Key: "food", Value: "spicy ramen fan", Confidence: 0.8})

	payload, err := a.Build(ctx, "u1", "c1", "spicy ramen")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for _, rm := range payload.RelevantMemories {
		if rm.Content == "I love spicy ramen" {
			t.Fatal("memory duplicating a recent turn must be dropped")
		}
	}
	// The fact survives: it is not in the window.
	found := false
	for _, rm := range payload.RelevantMemories {
		if rm.Source == "fact" {
			found = true
		}
	}
	if !found {
		t.Fatalf("fact-sourced memory expected: %+v", payload.RelevantMemories)
	}
}

func TestBuild_DegradesWhenRetrievalCorpusUnreadable(t *testing.T) {
	ctx := context.Background()
	f := &faultyBackend{MemoryBackend: NewMemoryBackend(0), failSummaries: true}
	a := newTestAssembler(f, DefaultConfig())

	f.Append(ctx, NewTurn("u1", "c1", RoleUser, "hello"))
	f.Upsert(ctx, Fact{UserID: "u1", Key: "name", Value: "Rei", Confidence: 0.9})

	payload, err := a.Build(ctx, "u1", "c1", "hello")
	if err != nil {
		t.Fatalf("degraded build must still succeed: %v", err)
	}
	if len(payload.Degraded) != 1 || payload.Degraded[0] != "retrieval" {
		t.Fatalf("expected [retrieval], got %v", payload.Degraded)
	}
	if len(payload.RelevantMemories) != 0 {
		t.Fatal("no memories on a degraded retrieval")
	}
	if len(payload.Facts) != 1 {
		t.Fatal("fact section must still load")
	}
}

func TestBuild_DegradesWhenFactsUnreadable(t *testing.T) {
	ctx := context.Background()
	f := &faultyBackend{MemoryBackend: NewMemoryBackend(0), failFacts: true}
	a := newTestAssembler(f, DefaultConfig())

	f.Append(ctx, NewTurn("u1", "c1", RoleUser, "hello"))

	payload, err := a.Build(ctx, "u1", "c1", "hello")
	if err != nil {
		t.Fatalf("degraded build must still succeed: %v", err)
	}
	// The fact read feeds both the retrieval corpus and the fact section.
	if len(payload.Degraded) != 2 {
		t.Fatalf("expected both sections degraded, got %v", payload.Degraded)
	}
	if len(payload.Facts) != 0 {
		t.Fatal("no facts on a degraded fact load")
	}
}

func TestTruncateHistory_DropsOldestFirst(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Budget.TotalTokens = 100
	cfg.Budget.HistoryRatio = 0.5 // 50-token history budget
	a := newTestAssembler(NewMemoryBackend(0), cfg)

	long := strings.Repeat("a", 81) // ~30 tokens each
	turns := []Turn{
		{Content: long, CreatedAt: time.Now().Add(-3 * time.Minute)},
		{Content: long, CreatedAt: time.Now().Add(-2 * time.Minute)},
		{Content: long, CreatedAt: time.Now().Add(-1 * time.Minute)},
	}
	kept := a.truncateHistory(turns)
	if len(kept) != 1 {
		t.Fatalf("expected 1 turn within budget, got %d", len(kept))
	}
	if !kept[0].CreatedAt.Equal(turns[2].CreatedAt) {
		t.Fatal("newest turn must survive truncation")
	}
}

func TestTruncateHistory_NewestAlwaysKept(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Budget.TotalTokens = 10
	cfg.Budget.HistoryRatio = 0.1 // 1-token budget
	a := newTestAssembler(NewMemoryBackend(0), cfg)

	turns := []Turn{{Content: strings.Repeat("x", 500)}}
	kept := a.truncateHistory(turns)
	if len(kept) != 1 {
		t.Fatal("a single over-budget turn is still kept")
	}
}
