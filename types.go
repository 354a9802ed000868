package alyamem

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Turn is a single immutable message in a conversation.
// Turns are append-only; ordering is (CreatedAt, Seq).
type Turn struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	ConversationID string            `json:"conversation_id"`
	Role           Role              `json:"role"`
	Content        string            `json:"content"`
	Emotion        string            `json:"emotion,omitempty"`
	Sentiment      float64           `json:"sentiment,omitempty"` // -1..1
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`

	// Seq breaks CreatedAt ties. Assigned by the store, monotonic per
	// (user, conversation).
	Seq int64 `json:"seq"`
}

// NewTurn creates a turn with a fresh id and the current timestamp.
func NewTurn(userID, conversationID string, role Role, content string) Turn {
	return Turn{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
}

// Summary is the compaction artifact written when a contiguous run of
// turns is evicted from the active window. A summary row always exists
// before the turns it replaces are deleted.
type Summary struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id"`
	Content        string    `json:"content"`
	MessageCount   int       `json:"message_count"`
	StartAt        time.Time `json:"start_at"`
	EndAt          time.Time `json:"end_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// Fact is a durable extracted key-value claim about a user.
// At most one non-expired fact exists per (user, key).
type Fact struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Key        string    `json:"key"`
	Value      string    `json:"value"`
	Confidence float64   `json:"confidence"` // 0..1
	Source     string    `json:"source,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"` // zero = never expires
}

// Expired reports whether the fact is past its expiry at the given time.
func (f Fact) Expired(now time.Time) bool {
	return !f.ExpiresAt.IsZero() && !now.Before(f.ExpiresAt)
}

// RelationshipLevel is the ordinal stage of a user's relationship with
// the persona, derived from affection points and interaction count.
type RelationshipLevel int

const (
	LevelStranger RelationshipLevel = iota
	LevelAcquaintance
	LevelFriend
	LevelCloseFriend
	LevelIntimate
)

// String returns the human label for the level.
func (l RelationshipLevel) String() string {
	switch l {
	case LevelStranger:
		return "stranger"
	case LevelAcquaintance:
		return "acquaintance"
	case LevelFriend:
		return "friend"
	case LevelCloseFriend:
		return "close_friend"
	case LevelIntimate:
		return "intimate"
	}
	return "unknown"
}

// UserProfile is the per-user relationship and interaction state.
//
// RelationshipLevel is always a pure function of AffectionPoints and
// InteractionCount through the configured thresholds; only the
// relationship engine writes these three fields.
type UserProfile struct {
	ID                string            `json:"id"`
	DisplayName       string            `json:"display_name,omitempty"`
	Language          string            `json:"language,omitempty"`
	RelationshipLevel RelationshipLevel `json:"relationship_level"`
	AffectionPoints   int               `json:"affection_points"`
	InteractionCount  int               `json:"interaction_count"`
	LastInteractionAt time.Time         `json:"last_interaction_at"`
	Preferences       map[string]string `json:"preferences,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

// NewUserProfile returns the state for a first-time user.
func NewUserProfile(id string) UserProfile {
	return UserProfile{
		ID:          id,
		Preferences: map[string]string{},
		CreatedAt:   time.Now().UTC(),
	}
}

// Intent is the classified intent of one inbound message, supplied by
// the external classifier. Unrecognized labels are treated as neutral.
type Intent string

const (
	IntentNeutral    Intent = "neutral"
	IntentGreeting   Intent = "greeting"
	IntentGratitude  Intent = "gratitude"
	IntentApology    Intent = "apology"
	IntentCompliment Intent = "compliment"
	IntentAffection  Intent = "affection"
	IntentInsult     Intent = "insult"
	IntentToxic      Intent = "toxic_behavior"
	IntentConflict   Intent = "conflict"
)

// Signals is the per-turn input bundle for the relationship engine.
// It is ephemeral; only its effect on the user profile is persisted.
type Signals struct {
	Sentiment       float64            `json:"sentiment"` // -1..1
	Intent          Intent             `json:"intent"`
	AffectionDelta  int                `json:"affection_delta,omitempty"` // explicit adjustment
	DirectedAtAgent bool               `json:"directed_at_agent"`
	Relationship    map[string]float64 `json:"relationship,omitempty"` // e.g. conflict: 0..1
	Emotion         string             `json:"emotion,omitempty"`
}

// RelevantMemory is one retrieval hit: prior content judged useful for
// the current query, with its relevance score.
type RelevantMemory struct {
	Content string    `json:"content"`
	Score   float64   `json:"score"`
	Source  string    `json:"source"` // "turn" | "fact" | "summary"
	At      time.Time `json:"at"`
}

// RelationshipSnapshot is the read-only relationship view handed to the
// generation layer for tone selection.
type RelationshipSnapshot struct {
	Level            RelationshipLevel `json:"level"`
	LevelName        string            `json:"level_name"`
	AffectionPoints  int               `json:"affection_points"`
	InteractionCount int               `json:"interaction_count"`
}

// ContextPayload is the bounded context bundle consumed by the external
// generation layer. Its size is deterministic regardless of how much
// history exists.
type ContextPayload struct {
	RecentTurns      []Turn               `json:"recent_turns"`
	RelevantMemories []RelevantMemory     `json:"relevant_memories"`
	Facts            []Fact               `json:"facts"`
	Relationship     RelationshipSnapshot `json:"relationship"`

	// Degraded lists non-fatal pieces that were dropped or downgraded
	// while building the payload ("facts", "retrieval"). Informational
	// only; the caller still gets a usable payload.
	Degraded []string `json:"degraded,omitempty"`
}
