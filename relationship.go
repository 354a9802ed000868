package alyamem

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// ──────────────────────────────────────────────
// Relationship Engine — deterministic affection state machine
// ──────────────────────────────────────────────

// RelationshipEngine evolves a user's (affection_points,
// relationship_level) pair from per-turn interaction signals. The core
// is a pure function; the only side effect is the single persisted
// profile write in Update.
type RelationshipEngine struct {
	users UserStore
	cfg   RelationshipConfig
	log   zerolog.Logger
}

// NewRelationshipEngine creates the engine.
func NewRelationshipEngine(users UserStore, cfg RelationshipConfig, log zerolog.Logger) *RelationshipEngine {
	return &RelationshipEngine{
		users: users,
		cfg:   cfg,
		log:   log.With().Str("component", "relationship").Logger(),
	}
}

// Delta computes the net affection change for one turn's signals,
// clamped to the configured per-turn range. Unrecognized intents
// contribute nothing rather than failing.
func (e *RelationshipEngine) Delta(s Signals) int {
	delta := e.sentimentDelta(s.Sentiment)
	delta += e.cfg.IntentDeltas[s.Intent]
	if strength, ok := s.Relationship["conflict"]; ok && strength > 0 {
		if strength > 1 {
			strength = 1
		}
		delta -= int(strength * e.cfg.ConflictScale)
	}
	delta += s.AffectionDelta

	if delta > e.cfg.MaxDeltaPerTurn {
		delta = e.cfg.MaxDeltaPerTurn
	}
	if delta < e.cfg.MinDeltaPerTurn {
		delta = e.cfg.MinDeltaPerTurn
	}
	return delta
}

func (e *RelationshipEngine) sentimentDelta(sentiment float64) int {
	switch {
	case sentiment > e.cfg.SentimentHighBar:
		return e.cfg.SentimentHighDelta
	case sentiment > 0:
		return e.cfg.SentimentLowDelta
	case sentiment < -e.cfg.SentimentHighBar:
		return e.cfg.SentimentNegDelta
	}
	return 0
}

// Apply is the pure state transition: it returns the profile with
// affection and level advanced for one turn's signals. The caller is
// responsible for persisting the result.
func (e *RelationshipEngine) Apply(u UserProfile, s Signals) UserProfile {
	sentDelta := e.sentimentDelta(s.Sentiment)
	total := e.Delta(s)

	next := u.AffectionPoints + total
	// Negative sentiment alone never takes affection below zero; only
	// intent penalties and explicit deltas can.
	sentimentOnly := total == sentDelta && e.cfg.IntentDeltas[s.Intent] == 0 &&
		s.AffectionDelta == 0 && s.Relationship["conflict"] == 0
	if sentimentOnly && sentDelta < 0 && next < 0 && u.AffectionPoints >= 0 {
		next = 0
	}
	u.AffectionPoints = next

	u.RelationshipLevel = e.nextLevel(u)
	return u
}

// nextLevel moves the level at most one step per call. Promotion
// requires both the affection and interaction gates of the next level;
// demotion happens only when points fall below the demotion floor.
func (e *RelationshipEngine) nextLevel(u UserProfile) RelationshipLevel {
	level := u.RelationshipLevel
	maxLevel := RelationshipLevel(len(e.cfg.Levels) - 1)
	if level < maxLevel {
		gate := e.cfg.Levels[level+1]
		if u.AffectionPoints >= gate.Affection && u.InteractionCount >= gate.Interactions {
			return level + 1
		}
	}
	if level > LevelStranger && u.AffectionPoints < e.cfg.DemotionFloor {
		return level - 1
	}
	return level
}

// Update loads the user, applies one turn's signals, persists the
// result, and returns the new profile. This is the only write path for
// the affection/level pair.
//
// InteractionCount is not bumped here: the turn append that precedes
// every Update already counted the interaction.
func (e *RelationshipEngine) Update(ctx context.Context, userID string, s Signals) (UserProfile, error) {
	u, err := e.users.GetOrCreateUser(ctx, userID)
	if err != nil {
		return UserProfile{}, err
	}

	before := u.RelationshipLevel
	u = e.Apply(u, s)
	// Demotion resets points to zero so one bad streak does not cascade
	// the user down a level per message.
	if u.RelationshipLevel < before {
		u.AffectionPoints = 0
	}
	u.LastInteractionAt = time.Now().UTC()

	if err := e.users.SaveUser(ctx, u); err != nil {
		return UserProfile{}, err
	}
	if u.RelationshipLevel != before {
		e.log.Info().
			Str("user_id", userID).
			Str("from", before.String()).
			Str("to", u.RelationshipLevel.String()).
			Int("affection", u.AffectionPoints).
			Msg("relationship level changed")
		observeLevelChange(before.String(), u.RelationshipLevel.String())
	}
	return u, nil
}

// Snapshot returns the read-only relationship view for a profile.
func Snapshot(u UserProfile) RelationshipSnapshot {
	return RelationshipSnapshot{
		Level:            u.RelationshipLevel,
		LevelName:        u.RelationshipLevel.String(),
		AffectionPoints:  u.AffectionPoints,
		InteractionCount: u.InteractionCount,
	}
}
