package alyamem

import (
	"context"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// ──────────────────────────────────────────────
// Context Assembler — bounded payload for the generation layer
// ──────────────────────────────────────────────

// ContextAssembler composes the recent window, retrieved memories,
// facts, and relationship snapshot into one bounded ContextPayload.
// This is the single seam the generation collaborator consumes.
type ContextAssembler struct {
	backend   Backend
	retriever *Retriever
	window    WindowConfig
	retrieval RetrievalConfig
	budget    BudgetConfig
	log       zerolog.Logger
}

// NewContextAssembler creates the assembler.
func NewContextAssembler(backend Backend, retriever *Retriever, cfg Config, log zerolog.Logger) *ContextAssembler {
	return &ContextAssembler{
		backend:   backend,
		retriever: retriever,
		window:    cfg.Window,
		retrieval: cfg.Retrieval,
		budget:    cfg.Budget,
		log:       log.With().Str("component", "assembler").Logger(),
	}
}

// Build assembles the context payload for one generation call. Facts
// and retrieval are non-essential: their failures degrade the payload
// (recorded in Degraded, logged) instead of failing the build. Only
// the recent-window read is fatal.
func (a *ContextAssembler) Build(ctx context.Context, userID, conversationID, query string) (*ContextPayload, error) {
	recent, err := a.backend.Recent(ctx, userID, conversationID, a.window.MaxTurns)
	if err != nil {
		return nil, err
	}
	recent = a.truncateHistory(recent)

	payload := &ContextPayload{RecentTurns: recent}

	u, err := a.backend.GetOrCreateUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	payload.Relationship = Snapshot(u)

	memories, err := a.retriever.Retrieve(ctx, userID, conversationID, query, a.retrieval.MaxResults)
	if err != nil {
		a.log.Warn().Err(err).Str("user_id", userID).Msg("memory retrieval unavailable, continuing without it")
		payload.Degraded = append(payload.Degraded, "retrieval")
	} else {
		payload.RelevantMemories = a.dropRecentDuplicates(memories, recent)
	}

	facts, err := a.backend.GetAll(ctx, userID)
	if err != nil {
		a.log.Warn().Err(err).Str("user_id", userID).Msg("fact load unavailable, continuing without it")
		payload.Degraded = append(payload.Degraded, "facts")
	} else {
		payload.Facts = facts
	}

	return payload, nil
}

// dropRecentDuplicates removes retrieval hits whose content already
// appears in the recent window; "recent" and "relevant-but-old" must
// not overlap in the payload.
func (a *ContextAssembler) dropRecentDuplicates(memories []RelevantMemory, recent []Turn) []RelevantMemory {
	if len(memories) == 0 {
		return memories
	}
	seen := make(map[string]struct{}, len(recent))
	for _, t := range recent {
		seen[t.Content] = struct{}{}
	}
	out := memories[:0]
	for _, m := range memories {
		if _, dup := seen[m.Content]; dup {
			continue
		}
		out = append(out, m)
	}
	return out
}

// truncateHistory drops the oldest turns until the estimated token
// cost fits the history budget, walking backwards from the newest.
func (a *ContextAssembler) truncateHistory(turns []Turn) []Turn {
	budget := int(float64(a.budget.TotalTokens) * a.budget.HistoryRatio)
	if budget <= 0 || len(turns) == 0 {
		return turns
	}
	total := 0
	start := len(turns)
	for i := len(turns) - 1; i >= 0; i-- {
		est := estimateTokens(turns[i].Content)
		if total+est > budget && start < len(turns) {
			break
		}
		total += est
		start = i
	}
	return turns[start:]
}

// estimateTokens approximates token cost as runeCount / 2.7.
func estimateTokens(text string) int {
	return int(float64(utf8.RuneCountInString(text)) / 2.7)
}
