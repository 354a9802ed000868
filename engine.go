package alyamem

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// ──────────────────────────────────────────────
// Engine — the single entry point for the transport layer
// ──────────────────────────────────────────────

// Engine wires the turn store, relationship engine, retriever, window
// manager, and assembler behind the three operations the transport
// layer calls. It is an explicitly constructed service object: build
// one with NewEngine at process start and Close it on shutdown.
type Engine struct {
	backend      Backend
	relationship *RelationshipEngine
	retriever    *Retriever
	window       *WindowManager
	assembler    *ContextAssembler
	feedback     *FeedbackDetector
	signals      *SignalDetector
	cfg          Config
	log          zerolog.Logger

	// Per-user lock stripes: turns from the same user serialize so the
	// window check always observes the append that triggered it;
	// distinct users proceed in parallel.
	locks [64]sync.Mutex

	turnsProcessed atomic.Int64
	assistantTurns atomic.Int64
	resets         atomic.Int64

	closed atomic.Bool
}

// EngineOptions groups the engine's collaborators.
type EngineOptions struct {
	Backend   Backend
	Summarize SummarizeFunc
	// Embed is optional; when set, retrieval uses the embedding
	// strategy with lexical fallback.
	Embed  EmbedFunc
	Config Config
	Logger zerolog.Logger
}

// NewEngine constructs the engine and its component graph.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Backend == nil {
		return nil, errors.New("alyamem: backend is required")
	}
	if opts.Summarize == nil {
		return nil, errors.New("alyamem: summarizer is required")
	}
	cfg := opts.Config
	if cfg.Window.MaxTurns == 0 {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := opts.Logger.With().Str("service", "alyamem").Logger()

	var primary Scorer
	if opts.Embed != nil {
		primary = NewEmbeddingScorer(opts.Embed, cfg.Retrieval)
	}
	retriever := NewRetriever(opts.Backend, primary, cfg.Retrieval, log)

	e := &Engine{
		backend:      opts.Backend,
		relationship: NewRelationshipEngine(opts.Backend, cfg.Relationship, log),
		retriever:    retriever,
		window:       NewWindowManager(opts.Backend, opts.Summarize, cfg.Window, log),
		assembler:    NewContextAssembler(opts.Backend, retriever, cfg, log),
		feedback:     NewFeedbackDetector(nil),
		signals:      NewSignalDetector(),
		cfg:          cfg,
		log:          log,
	}
	return e, nil
}

func (e *Engine) lockFor(userID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return &e.locks[h.Sum32()%uint32(len(e.locks))]
}

// ProcessTurn handles one inbound user message end to end: append the
// user turn (with retry dedup), update relationship state, run the
// window check, and assemble the bounded context payload for the
// generation layer.
//
// Append failure is fatal to the request. Summarization failure is
// not: the window stays over-full and retries on the next append.
func (e *Engine) ProcessTurn(ctx context.Context, userID, conversationID, text string, signals Signals) (*ContextPayload, error) {
	start := time.Now()
	mu := e.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	turn := NewTurn(userID, conversationID, RoleUser, text)
	turn.Sentiment = signals.Sentiment
	turn.Emotion = signals.Emotion

	stored, err := e.backend.Append(ctx, turn)
	if err != nil {
		return nil, err
	}
	deduped := stored.ID != turn.ID
	if deduped {
		// Upstream retry: the original append already scored this
		// message, so skip the relationship update.
		observeDedupHit()
		e.log.Debug().Str("user_id", userID).Msg("duplicate append collapsed")
	} else {
		observeAppend(RoleUser)
		if _, err := e.relationship.Update(ctx, userID, signals); err != nil {
			return nil, err
		}
		e.applyFeedback(ctx, userID, text)
		e.evict(ctx, userID, conversationID)
	}

	payload, err := e.assembler.Build(ctx, userID, conversationID, text)
	if err != nil {
		return nil, err
	}
	e.turnsProcessed.Inc()
	metricProcessDuration.Observe(time.Since(start).Seconds())
	return payload, nil
}

// RecordAssistantTurn stores the generated reply after the external
// generation step completes, then re-checks the window.
func (e *Engine) RecordAssistantTurn(ctx context.Context, userID, conversationID, text string, metadata map[string]string) error {
	mu := e.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	turn := NewTurn(userID, conversationID, RoleAssistant, text)
	turn.Metadata = metadata
	stored, err := e.backend.Append(ctx, turn)
	if err != nil {
		return err
	}
	if stored.ID != turn.ID {
		observeDedupHit()
		return nil
	}
	observeAppend(RoleAssistant)
	e.assistantTurns.Inc()
	e.evict(ctx, userID, conversationID)
	return nil
}

// evict runs the window check, tolerating summarizer failure.
func (e *Engine) evict(ctx context.Context, userID, conversationID string) {
	if _, err := e.window.MaybeEvict(ctx, userID, conversationID); err != nil {
		if errors.Is(err, ErrSummarization) {
			return // already logged; retried on the next append
		}
		e.log.Error().Err(err).Str("user_id", userID).Msg("window eviction failed")
	}
}

// applyFeedback detects style-preference feedback in the message and
// persists any change onto the user profile.
func (e *Engine) applyFeedback(ctx context.Context, userID, text string) {
	u, err := e.backend.GetUser(ctx, userID)
	if err != nil {
		return
	}
	result := e.feedback.Detect(text, u.Preferences)
	if !result.Matched {
		return
	}
	if u.Preferences == nil {
		u.Preferences = map[string]string{}
	}
	for k, v := range result.Changes {
		u.Preferences[k] = v
	}
	if err := e.backend.SaveUser(ctx, u); err != nil {
		e.log.Warn().Err(err).Str("user_id", userID).Msg("preference update not saved")
		return
	}
	e.log.Debug().
		Str("user_id", userID).
		Interface("changes", result.Changes).
		Msg("preferences updated from feedback")
}

// UpsertFact persists an externally extracted fact for a user.
func (e *Engine) UpsertFact(ctx context.Context, fact Fact) (Fact, error) {
	return e.backend.Upsert(ctx, fact)
}

// PurgeExpiredFacts sweeps expired facts. Safe on any schedule.
func (e *Engine) PurgeExpiredFacts(ctx context.Context) (int, error) {
	return e.backend.PurgeExpired(ctx, time.Now().UTC())
}

// ResetUser wipes the user's turns, summaries, and facts and zeroes
// the relationship counters, preserving the identity row.
func (e *Engine) ResetUser(ctx context.Context, userID string) error {
	mu := e.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	if err := e.backend.ResetTurns(ctx, userID); err != nil {
		return err
	}
	if err := e.backend.ResetSummaries(ctx, userID); err != nil {
		return err
	}
	if err := e.backend.ResetFacts(ctx, userID); err != nil {
		return err
	}
	if err := e.backend.ResetUser(ctx, userID); err != nil {
		return err
	}
	e.resets.Inc()
	e.log.Info().Str("user_id", userID).Msg("user state reset")
	return nil
}

// Profile returns the current relationship profile for a user.
func (e *Engine) Profile(ctx context.Context, userID string) (UserProfile, error) {
	return e.backend.GetOrCreateUser(ctx, userID)
}

// EngineStats is a snapshot of the engine's lifetime counters.
type EngineStats struct {
	TurnsProcessed int64 `json:"turns_processed"`
	AssistantTurns int64 `json:"assistant_turns"`
	Resets         int64 `json:"resets"`
}

// Stats returns lifetime counters for health reporting.
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		TurnsProcessed: e.turnsProcessed.Load(),
		AssistantTurns: e.assistantTurns.Load(),
		Resets:         e.resets.Load(),
	}
}

// Close releases the backend. The engine must not be used afterwards.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	return e.backend.Close()
}
