package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	alyamem "github.com/alyakit/alya-memory-go"
)

// ══════════════════════════════════════════════
// Redis backend
// ══════════════════════════════════════════════

func newTestRedis(t *testing.T, cfg RedisConfig) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := NewRedis(client, cfg)
	t.Cleanup(func() { r.Close() })
	return r, mr
}

func TestRedis_AppendAndRecent(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRedis(t, RedisConfig{})

	for i := 0; i < 4; i++ {
		stored, err := r.Append(ctx, alyamem.NewTurn("u1", "c1", alyamem.RoleUser, fmt.Sprintf("message %d", i)))
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if stored.Seq != int64(i+1) {
			t.Fatalf("seq broken at %d: %d", i, stored.Seq)
		}
	}

	all, err := r.Recent(ctx, "u1", "c1", 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(all) != 4 || all[0].Content != "message 0" {
		t.Fatalf("wrong order: %+v", all)
	}

	last2, _ := r.Recent(ctx, "u1", "c1", 2)
	if len(last2) != 2 || last2[0].Content != "message 2" || last2[1].Content != "message 3" {
		t.Fatalf("limit must return newest in chronological order: %+v", last2)
	}

	n, _ := r.ActiveCount(ctx, "u1", "c1")
	if n != 4 {
		t.Fatalf("expected 4 active, got %d", n)
	}
}

func TestRedis_AppendDedup(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t, RedisConfig{DedupWindow: 2 * time.Second})

	first, err := r.Append(ctx, alyamem.NewTurn("u1", "c1", alyamem.RoleUser, "hello alya"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	retry, err := r.Append(ctx, alyamem.NewTurn("u1", "c1", alyamem.RoleUser, "hello alya"))
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retry.ID != first.ID || retry.Seq != first.Seq {
		t.Fatalf("retry must return the stored turn: %+v vs %+v", retry, first)
	}
	if n, _ := r.ActiveCount(ctx, "u1", "c1"); n != 1 {
		t.Fatalf("expected 1 stored turn, got %d", n)
	}
	u, _ := r.GetUser(ctx, "u1")
	if u.InteractionCount != 1 {
		t.Fatalf("dedup must not bump interactions, got %d", u.InteractionCount)
	}

	// After the claim expires, the same content is a new message.
	mr.FastForward(3 * time.Second)
	stored, err := r.Append(ctx, alyamem.NewTurn("u1", "c1", alyamem.RoleUser, "hello alya"))
	if err != nil {
		t.Fatalf("late append: %v", err)
	}
	if stored.ID == first.ID {
		t.Fatal("expired dedup claim must not collapse new appends")
	}
	if n, _ := r.ActiveCount(ctx, "u1", "c1"); n != 2 {
		t.Fatalf("expected 2 stored turns, got %d", n)
	}
}

func TestRedis_FailedAppendDoesNotPoisonRetry(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t, RedisConfig{DedupWindow: 2 * time.Second})

	// Force the push to fail: a string value at the list key makes
	// RPUSH a wrong-type error.
	if err := mr.Set(r.turnsKey("u1", "c1"), "not a list"); err != nil {
		t.Fatalf("seed fault: %v", err)
	}
	_, err := r.Append(ctx, alyamem.NewTurn("u1", "c1", alyamem.RoleUser, "hello alya"))
	if !errors.Is(err, alyamem.ErrStorageUnavailable) {
		t.Fatalf("expected storage error, got %v", err)
	}

	// Backend recovers; the caller retries the same message within the
	// dedup window. The retry must store a real turn, not collapse into
	// the failed attempt.
	mr.Del(r.turnsKey("u1", "c1"))
	stored, err := r.Append(ctx, alyamem.NewTurn("u1", "c1", alyamem.RoleUser, "hello alya"))
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if stored.Seq == 0 {
		t.Fatal("retry returned an unsequenced turn")
	}
	n, _ := r.ActiveCount(ctx, "u1", "c1")
	if n != 1 {
		t.Fatalf("retry must durably store the turn, got %d stored", n)
	}
	turns, _ := r.Recent(ctx, "u1", "c1", 0)
	if len(turns) != 1 || turns[0].ID != stored.ID {
		t.Fatalf("stored turn not readable: %+v", turns)
	}
}

func TestRedis_DeleteThrough(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRedis(t, RedisConfig{})

	base := time.Now().UTC().Truncate(time.Second)
	var cutoff alyamem.Turn
	for i := 0; i < 6; i++ {
		turn := alyamem.NewTurn("u1", "c1", alyamem.RoleUser, fmt.Sprintf("m%d", i))
		turn.CreatedAt = base.Add(time.Duration(i) * time.Second)
		stored, err := r.Append(ctx, turn)
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if i == 2 {
			cutoff = stored
		}
	}

	deleted, err := r.DeleteThrough(ctx, "u1", "c1", cutoff.CreatedAt, cutoff.Seq)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted != 3 {
		t.Fatalf("expected 3 deleted, got %d", deleted)
	}
	rest, _ := r.Recent(ctx, "u1", "c1", 0)
	if len(rest) != 3 || rest[0].Content != "m3" {
		t.Fatalf("wrong survivors: %+v", rest)
	}
}

func TestRedis_HistorySince(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRedis(t, RedisConfig{})

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 4; i++ {
		turn := alyamem.NewTurn("u1", "c1", alyamem.RoleUser, fmt.Sprintf("m%d", i))
		turn.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		r.Append(ctx, turn)
	}

	since, err := r.HistorySince(ctx, "u1", "c1", base.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(since) != 2 || since[0].Content != "m2" {
		t.Fatalf("wrong slice: %+v", since)
	}
}

func TestRedis_Facts(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRedis(t, RedisConfig{})

	r.Upsert(ctx, alyamem.Fact{UserID: "u1", Key: "food", Value: "ramen", Confidence: 0.7})
	r.Upsert(ctx, alyamem.Fact{UserID: "u1", Key: "food", Value: "spicy ramen", Confidence: 0.9})
	r.Upsert(ctx, alyamem.Fact{UserID: "u1", Key: "city", Value: "osaka", Confidence: 0.8})
	r.Upsert(ctx, alyamem.Fact{UserID: "u1", Key: "mood", Value: "tired", Confidence: 0.5,
		ExpiresAt: time.Now().UTC().Add(-time.Minute)})

	facts, err := r.GetAll(ctx, "u1")
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(facts) != 2 {
		t.Fatalf("expected 2 live facts, got %d: %+v", len(facts), facts)
	}
	if facts[0].Key != "city" || facts[1].Value != "spicy ramen" {
		t.Fatalf("wrong facts: %+v", facts)
	}

	purged, err := r.PurgeExpired(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged, got %d", purged)
	}
}

func TestRedis_Summaries(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRedis(t, RedisConfig{})

	now := time.Now().UTC()
	_, err := r.InsertSummary(ctx, alyamem.Summary{
		UserID: "u1", ConversationID: "c1", Content: "talked about osaka",
		MessageCount: 8, StartAt: now.Add(-time.Hour), EndAt: now,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	sums, err := r.Summaries(ctx, "u1", "c1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sums) != 1 || sums[0].MessageCount != 8 {
		t.Fatalf("wrong summaries: %+v", sums)
	}
}

func TestRedis_UserLifecycle(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRedis(t, RedisConfig{})

	if _, err := r.GetUser(ctx, "ghost"); !errors.Is(err, alyamem.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	u, err := r.GetOrCreateUser(ctx, "u1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	u.AffectionPoints = 42
	u.RelationshipLevel = alyamem.LevelAcquaintance
	if err := r.SaveUser(ctx, u); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, _ := r.GetUser(ctx, "u1")
	if got.AffectionPoints != 42 || got.RelationshipLevel != alyamem.LevelAcquaintance {
		t.Fatalf("profile not persisted: %+v", got)
	}

	if err := r.ResetUser(ctx, "u1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	got, _ = r.GetUser(ctx, "u1")
	if got.AffectionPoints != 0 || got.RelationshipLevel != alyamem.LevelStranger {
		t.Fatalf("reset incomplete: %+v", got)
	}
}

func TestRedis_ResetScopedToUser(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRedis(t, RedisConfig{})

	r.Append(ctx, alyamem.NewTurn("u1", "c1", alyamem.RoleUser, "mine"))
	r.Append(ctx, alyamem.NewTurn("u1", "c2", alyamem.RoleUser, "mine too"))
	r.Append(ctx, alyamem.NewTurn("u2", "c1", alyamem.RoleUser, "theirs"))
	r.Upsert(ctx, alyamem.Fact{UserID: "u1", Key: "name", Value: "Rei", Confidence: 0.9})

	if err := r.ResetTurns(ctx, "u1"); err != nil {
		t.Fatalf("reset turns: %v", err)
	}
	if err := r.ResetFacts(ctx, "u1"); err != nil {
		t.Fatalf("reset facts: %v", err)
	}

	if n, _ := r.ActiveCount(ctx, "u1", "c1"); n != 0 {
		t.Fatal("u1 c1 turns must be gone")
	}
	if n, _ := r.ActiveCount(ctx, "u1", "c2"); n != 0 {
		t.Fatal("u1 c2 turns must be gone")
	}
	if n, _ := r.ActiveCount(ctx, "u2", "c1"); n != 1 {
		t.Fatal("u2 turns must survive")
	}
	facts, _ := r.GetAll(ctx, "u1")
	if len(facts) != 0 {
		t.Fatal("u1 facts must be gone")
	}
}
