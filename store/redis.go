package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	alyamem "github.com/alyakit/alya-memory-go"
)

// Redis is a Backend on a shared Redis instance, for multi-process
// deployments. Turns and summaries live in RPush lists (oldest at the
// head), facts in per-user hashes, profiles as JSON values.
//
// Cross-key operations here are not transactional; the engine's
// per-user serialization is what keeps interaction counts and the
// dedup check-then-record pair consistent.
type Redis struct {
	client      redis.UniversalClient
	prefix      string
	dedupWindow time.Duration
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Prefix      string        // key prefix, default "alya"
	DedupWindow time.Duration // append retry-collapse window
}

// NewRedis creates a Backend over an existing go-redis client.
func NewRedis(client redis.UniversalClient, cfg RedisConfig) *Redis {
	if cfg.Prefix == "" {
		cfg.Prefix = "alya"
	}
	return &Redis{client: client, prefix: cfg.Prefix, dedupWindow: cfg.DedupWindow}
}

func (r *Redis) turnsKey(userID, convID string) string {
	return fmt.Sprintf("%s:turns:%s:%s", r.prefix, userID, convID)
}

func (r *Redis) seqKey(userID, convID string) string {
	return fmt.Sprintf("%s:seq:%s:%s", r.prefix, userID, convID)
}

func (r *Redis) summariesKey(userID, convID string) string {
	return fmt.Sprintf("%s:summaries:%s:%s", r.prefix, userID, convID)
}

func (r *Redis) factsKey(userID string) string {
	return fmt.Sprintf("%s:facts:%s", r.prefix, userID)
}

func (r *Redis) userKey(userID string) string {
	return fmt.Sprintf("%s:user:%s", r.prefix, userID)
}

func (r *Redis) dedupKey(hash string) string {
	return fmt.Sprintf("%s:dedup:%s", r.prefix, hash)
}

func redisErr(err error) error {
	return fmt.Errorf("%w: %v", alyamem.ErrStorageUnavailable, err)
}

// ─── TurnStore ───

func (r *Redis) Append(ctx context.Context, turn alyamem.Turn) (alyamem.Turn, error) {
	if err := alyamem.ValidateTurn(turn); err != nil {
		return alyamem.Turn{}, err
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	if r.dedupWindow > 0 {
		dk := r.dedupKey(alyamem.DedupKey(turn.UserID, turn.Role, turn.Content))
		raw, err := r.client.Get(ctx, dk).Result()
		if err == nil {
			var existing alyamem.Turn
			if json.Unmarshal([]byte(raw), &existing) == nil {
				return existing, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			return alyamem.Turn{}, redisErr(err)
		}
	}

	seq, err := r.client.Incr(ctx, r.seqKey(turn.UserID, turn.ConversationID)).Result()
	if err != nil {
		return alyamem.Turn{}, redisErr(err)
	}
	turn.Seq = seq

	data, _ := json.Marshal(turn)
	if err := r.client.RPush(ctx, r.turnsKey(turn.UserID, turn.ConversationID), string(data)).Err(); err != nil {
		return alyamem.Turn{}, redisErr(err)
	}
	if r.dedupWindow > 0 {
		// Recorded only after the push succeeds: a failed append must
		// never leave a record that would collapse the caller's retry
		// into a turn that was never stored.
		dk := r.dedupKey(alyamem.DedupKey(turn.UserID, turn.Role, turn.Content))
		_ = r.client.Set(ctx, dk, string(data), r.dedupWindow).Err()
	}

	u, err := r.GetOrCreateUser(ctx, turn.UserID)
	if err != nil {
		return alyamem.Turn{}, err
	}
	u.InteractionCount++
	u.LastInteractionAt = turn.CreatedAt
	if err := r.SaveUser(ctx, u); err != nil {
		return alyamem.Turn{}, err
	}
	return turn, nil
}

func (r *Redis) allTurns(ctx context.Context, userID, convID string) ([]alyamem.Turn, error) {
	raw, err := r.client.LRange(ctx, r.turnsKey(userID, convID), 0, -1).Result()
	if err != nil {
		return nil, redisErr(err)
	}
	out := make([]alyamem.Turn, 0, len(raw))
	for _, item := range raw {
		var t alyamem.Turn
		if json.Unmarshal([]byte(item), &t) == nil {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *Redis) Recent(ctx context.Context, userID, convID string, limit int) ([]alyamem.Turn, error) {
	if limit <= 0 {
		return r.allTurns(ctx, userID, convID)
	}
	raw, err := r.client.LRange(ctx, r.turnsKey(userID, convID), int64(-limit), -1).Result()
	if err != nil {
		return nil, redisErr(err)
	}
	out := make([]alyamem.Turn, 0, len(raw))
	for _, item := range raw {
		var t alyamem.Turn
		if json.Unmarshal([]byte(item), &t) == nil {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *Redis) HistorySince(ctx context.Context, userID, convID string, since time.Time) ([]alyamem.Turn, error) {
	all, err := r.allTurns(ctx, userID, convID)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, t := range all {
		if !t.CreatedAt.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *Redis) ActiveCount(ctx context.Context, userID, convID string) (int, error) {
	n, err := r.client.LLen(ctx, r.turnsKey(userID, convID)).Result()
	if err != nil {
		return 0, redisErr(err)
	}
	return int(n), nil
}

func (r *Redis) DeleteThrough(ctx context.Context, userID, convID string, cutoff time.Time, cutoffSeq int64) (int, error) {
	all, err := r.allTurns(ctx, userID, convID)
	if err != nil {
		return 0, err
	}
	// The list is append-ordered, so victims form a prefix.
	deleted := 0
	for _, t := range all {
		if t.CreatedAt.Before(cutoff) || (t.CreatedAt.Equal(cutoff) && t.Seq <= cutoffSeq) {
			deleted++
			continue
		}
		break
	}
	if deleted == 0 {
		return 0, nil
	}
	if err := r.client.LTrim(ctx, r.turnsKey(userID, convID), int64(deleted), -1).Err(); err != nil {
		return 0, redisErr(err)
	}
	return deleted, nil
}

func (r *Redis) ResetTurns(ctx context.Context, userID string) error {
	return r.deleteByPattern(ctx,
		fmt.Sprintf("%s:turns:%s:*", r.prefix, userID),
		fmt.Sprintf("%s:seq:%s:*", r.prefix, userID))
}

func (r *Redis) deleteByPattern(ctx context.Context, patterns ...string) error {
	for _, pattern := range patterns {
		keys, err := r.client.Keys(ctx, pattern).Result()
		if err != nil {
			return redisErr(err)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return redisErr(err)
			}
		}
	}
	return nil
}

// ─── FactStore ───

func (r *Redis) Upsert(ctx context.Context, fact alyamem.Fact) (alyamem.Fact, error) {
	if err := alyamem.ValidateFact(fact); err != nil {
		return alyamem.Fact{}, err
	}
	if fact.ID == "" {
		fact.ID = uuid.NewString()
	}
	if fact.CreatedAt.IsZero() {
		fact.CreatedAt = time.Now().UTC()
	}
	data, _ := json.Marshal(fact)
	if err := r.client.HSet(ctx, r.factsKey(fact.UserID), fact.Key, string(data)).Err(); err != nil {
		return alyamem.Fact{}, redisErr(err)
	}
	return fact, nil
}

func (r *Redis) GetAll(ctx context.Context, userID string) ([]alyamem.Fact, error) {
	raw, err := r.client.HGetAll(ctx, r.factsKey(userID)).Result()
	if err != nil {
		return nil, redisErr(err)
	}
	now := time.Now()
	out := make([]alyamem.Fact, 0, len(raw))
	for _, item := range raw {
		var f alyamem.Fact
		if json.Unmarshal([]byte(item), &f) != nil {
			continue
		}
		if f.Expired(now) {
			continue
		}
		out = append(out, f)
	}
	sortFacts(out)
	return out, nil
}

func (r *Redis) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	keys, err := r.client.Keys(ctx, fmt.Sprintf("%s:facts:*", r.prefix)).Result()
	if err != nil {
		return 0, redisErr(err)
	}
	purged := 0
	for _, key := range keys {
		raw, err := r.client.HGetAll(ctx, key).Result()
		if err != nil {
			return purged, redisErr(err)
		}
		for field, item := range raw {
			var f alyamem.Fact
			if json.Unmarshal([]byte(item), &f) != nil {
				continue
			}
			if f.Expired(now) {
				if err := r.client.HDel(ctx, key, field).Err(); err != nil {
					return purged, redisErr(err)
				}
				purged++
			}
		}
	}
	return purged, nil
}

func (r *Redis) ResetFacts(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, r.factsKey(userID)).Err(); err != nil {
		return redisErr(err)
	}
	return nil
}

// ─── SummaryStore ───

func (r *Redis) InsertSummary(ctx context.Context, s alyamem.Summary) (alyamem.Summary, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	data, _ := json.Marshal(s)
	if err := r.client.RPush(ctx, r.summariesKey(s.UserID, s.ConversationID), string(data)).Err(); err != nil {
		return alyamem.Summary{}, redisErr(err)
	}
	return s, nil
}

func (r *Redis) Summaries(ctx context.Context, userID, convID string) ([]alyamem.Summary, error) {
	raw, err := r.client.LRange(ctx, r.summariesKey(userID, convID), 0, -1).Result()
	if err != nil {
		return nil, redisErr(err)
	}
	out := make([]alyamem.Summary, 0, len(raw))
	for _, item := range raw {
		var s alyamem.Summary
		if json.Unmarshal([]byte(item), &s) == nil {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *Redis) ResetSummaries(ctx context.Context, userID string) error {
	return r.deleteByPattern(ctx, fmt.Sprintf("%s:summaries:%s:*", r.prefix, userID))
}

// ─── UserStore ───

func (r *Redis) GetOrCreateUser(ctx context.Context, userID string) (alyamem.UserProfile, error) {
	if userID == "" {
		return alyamem.UserProfile{}, alyamem.ErrValidation
	}
	u, err := r.GetUser(ctx, userID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, alyamem.ErrNotFound) {
		return alyamem.UserProfile{}, err
	}
	u = alyamem.NewUserProfile(userID)
	if err := r.SaveUser(ctx, u); err != nil {
		return alyamem.UserProfile{}, err
	}
	return u, nil
}

func (r *Redis) GetUser(ctx context.Context, userID string) (alyamem.UserProfile, error) {
	raw, err := r.client.Get(ctx, r.userKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return alyamem.UserProfile{}, alyamem.ErrNotFound
	}
	if err != nil {
		return alyamem.UserProfile{}, redisErr(err)
	}
	var u alyamem.UserProfile
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return alyamem.UserProfile{}, redisErr(err)
	}
	return u, nil
}

func (r *Redis) SaveUser(ctx context.Context, u alyamem.UserProfile) error {
	if u.ID == "" {
		return alyamem.ErrValidation
	}
	data, _ := json.Marshal(u)
	if err := r.client.Set(ctx, r.userKey(u.ID), string(data), 0).Err(); err != nil {
		return redisErr(err)
	}
	return nil
}

func (r *Redis) ResetUser(ctx context.Context, userID string) error {
	u, err := r.GetUser(ctx, userID)
	if errors.Is(err, alyamem.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	u.AffectionPoints = 0
	u.RelationshipLevel = alyamem.LevelStranger
	u.InteractionCount = 0
	u.Preferences = map[string]string{}
	return r.SaveUser(ctx, u)
}

func (r *Redis) Close() error { return r.client.Close() }

// sortFacts orders facts by key for deterministic reads.
func sortFacts(facts []alyamem.Fact) {
	sort.Slice(facts, func(i, j int) bool { return facts[i].Key < facts[j].Key })
}

// Compile-time interface check.
var _ alyamem.Backend = (*Redis)(nil)
