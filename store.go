package alyamem

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
)

// ──────────────────────────────────────────────
// Storage contracts — pluggable backend interfaces
// ──────────────────────────────────────────────

// TurnStore is the durable append-only log of conversation turns.
//
// Append carries an at-most-once guarantee: a second append with the
// same (user, role, content) inside the configured dedup window returns
// the already-stored turn instead of writing a new row. Every stored
// append also bumps the owning user's interaction count and
// last-interaction timestamp in the same logical transaction.
type TurnStore interface {
	Append(ctx context.Context, turn Turn) (Turn, error)

	// Recent returns up to limit newest turns in chronological
	// (oldest-first) order. limit <= 0 returns all live turns.
	Recent(ctx context.Context, userID, conversationID string, limit int) ([]Turn, error)

	// HistorySince returns all turns created at or after since,
	// chronological order.
	HistorySince(ctx context.Context, userID, conversationID string, since time.Time) ([]Turn, error)

	// ActiveCount returns the number of live (not yet evicted) turns.
	ActiveCount(ctx context.Context, userID, conversationID string) (int, error)

	// DeleteThrough removes every turn ordered at or before
	// (cutoff, cutoffSeq) and returns the count removed. Only the
	// window manager calls this, after the covering summary is durable.
	DeleteThrough(ctx context.Context, userID, conversationID string, cutoff time.Time, cutoffSeq int64) (int, error)

	// ResetTurns removes all turns for a user across conversations.
	ResetTurns(ctx context.Context, userID string) error
}

// FactStore persists extracted user facts with upsert semantics:
// at most one non-expired fact per (user, key).
type FactStore interface {
	Upsert(ctx context.Context, fact Fact) (Fact, error)

	// GetAll returns all non-expired facts for the user.
	GetAll(ctx context.Context, userID string) ([]Fact, error)

	// PurgeExpired removes facts past expiry. Idempotent.
	PurgeExpired(ctx context.Context, now time.Time) (int, error)

	ResetFacts(ctx context.Context, userID string) error
}

// SummaryStore persists window-eviction summaries.
type SummaryStore interface {
	InsertSummary(ctx context.Context, s Summary) (Summary, error)
	Summaries(ctx context.Context, userID, conversationID string) ([]Summary, error)
	ResetSummaries(ctx context.Context, userID string) error
}

// UserStore persists per-user relationship state. All writers of the
// affection/level/interaction triple go through the relationship
// engine; no other component mutates those fields.
type UserStore interface {
	GetOrCreateUser(ctx context.Context, userID string) (UserProfile, error)
	GetUser(ctx context.Context, userID string) (UserProfile, error)
	SaveUser(ctx context.Context, u UserProfile) error

	// ResetUser zeroes counters and relationship state but keeps the
	// identity row.
	ResetUser(ctx context.Context, userID string) error
}

// Backend bundles the four stores over one storage engine so that
// cross-store operations (append + user bump, reset) share a backend.
type Backend interface {
	TurnStore
	FactStore
	SummaryStore
	UserStore
	Close() error
}

// ──────────────────────────────────────────────
// Shared validation + dedup helpers for backends
// ──────────────────────────────────────────────

// ValidateTurn checks a turn before it is stored.
func ValidateTurn(t Turn) error {
	if t.UserID == "" || t.ConversationID == "" {
		return fmt.Errorf("%w: turn requires user and conversation ids", ErrValidation)
	}
	if !t.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrValidation, t.Role)
	}
	if strings.TrimSpace(t.Content) == "" {
		return fmt.Errorf("%w: empty turn content", ErrValidation)
	}
	if t.Sentiment < -1 || t.Sentiment > 1 {
		return fmt.Errorf("%w: sentiment out of range", ErrValidation)
	}
	return nil
}

// ValidateFact checks a fact before it is stored.
func ValidateFact(f Fact) error {
	if f.UserID == "" {
		return fmt.Errorf("%w: fact requires a user id", ErrValidation)
	}
	key := strings.TrimSpace(f.Key)
	if key == "" || len(key) > 128 {
		return fmt.Errorf("%w: fact key must be 1-128 chars", ErrValidation)
	}
	if strings.ContainsAny(key, " \t\n") {
		return fmt.Errorf("%w: fact key must not contain whitespace", ErrValidation)
	}
	if strings.TrimSpace(f.Value) == "" {
		return fmt.Errorf("%w: empty fact value", ErrValidation)
	}
	if f.Confidence < 0 || f.Confidence > 1 {
		return fmt.Errorf("%w: confidence out of range", ErrValidation)
	}
	return nil
}

// DedupKey hashes the identity of an append for retry collapsing.
func DedupKey(userID string, role Role, content string) string {
	h := sha256.Sum256([]byte(userID + "\x00" + string(role) + "\x00" + content))
	return fmt.Sprintf("%x", h[:16])
}
