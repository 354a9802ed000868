package alyamem

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ──────────────────────────────────────────────
// Sliding Window Manager — bounded active context with summarization
// ──────────────────────────────────────────────

// SummarizeFunc condenses a run of evicted turns into summary text.
// Wired to the external LLM summarizer. Must honor ctx cancellation.
type SummarizeFunc func(ctx context.Context, turns []Turn) (string, error)

// WindowManager enforces the active-window bound for one storage
// backend. When the active turn count for a (user, conversation)
// exceeds MaxTurns, the oldest excess turns are summarized and then
// deleted, leaving KeepRecent turns live.
//
// Eviction is fail-closed: if summarization fails or times out,
// nothing is deleted and the window stays over-full until the next
// append retries the eviction.
type WindowManager struct {
	turns     TurnStore
	summaries SummaryStore
	summarize SummarizeFunc
	cfg       WindowConfig
	log       zerolog.Logger
}

// NewWindowManager creates a window manager. summarize is required.
func NewWindowManager(backend Backend, summarize SummarizeFunc, cfg WindowConfig, log zerolog.Logger) *WindowManager {
	return &WindowManager{
		turns:     backend,
		summaries: backend,
		summarize: summarize,
		cfg:       cfg,
		log:       log.With().Str("component", "window").Logger(),
	}
}

// MaybeEvict checks the window after an append and evicts if the bound
// is exceeded. A no-op when the window is within bounds; returns the
// summary written when an eviction happened.
//
// The caller (the engine) serializes MaybeEvict per user, so the count
// observed here is consistent with the append that triggered it.
func (w *WindowManager) MaybeEvict(ctx context.Context, userID, conversationID string) (*Summary, error) {
	count, err := w.turns.ActiveCount(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	if count <= w.cfg.MaxTurns {
		return nil, nil
	}

	evictCount := count - w.cfg.KeepRecent
	all, err := w.turns.Recent(ctx, userID, conversationID, 0)
	if err != nil {
		return nil, err
	}
	if evictCount > len(all) {
		evictCount = len(all)
	}
	victims := all[:evictCount]
	last := victims[len(victims)-1]

	sctx := ctx
	cancel := func() {}
	if w.cfg.SummarizeTimeout > 0 {
		sctx, cancel = context.WithTimeout(ctx, w.cfg.SummarizeTimeout)
	}
	text, err := w.summarize(sctx, victims)
	cancel()
	if err != nil {
		w.log.Warn().
			Err(err).
			Str("user_id", userID).
			Int("over_window", count-w.cfg.MaxTurns).
			Msg("summarization failed, eviction aborted")
		return nil, fmt.Errorf("%w: %v", ErrSummarization, err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: summarizer returned empty text", ErrSummarization)
	}

	summary := Summary{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: conversationID,
		Content:        text,
		MessageCount:   len(victims),
		StartAt:        victims[0].CreatedAt,
		EndAt:          last.CreatedAt,
		CreatedAt:      time.Now().UTC(),
	}

	// Summary goes durable first; only then are the covered turns
	// deleted. A failure between the two over-retains, never loses.
	stored, err := w.summaries.InsertSummary(ctx, summary)
	if err != nil {
		return nil, err
	}
	deleted, err := w.turns.DeleteThrough(ctx, userID, conversationID, last.CreatedAt, last.Seq)
	if err != nil {
		return nil, err
	}

	w.log.Debug().
		Str("user_id", userID).
		Int("summarized", len(victims)).
		Int("deleted", deleted).
		Msg("window eviction complete")
	observeEviction(len(victims))
	return &stored, nil
}
