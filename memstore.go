package alyamem

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryBackend is a thread-safe in-memory Backend for development and
// tests. Data is lost on restart.
type MemoryBackend struct {
	mu          sync.RWMutex
	dedupWindow time.Duration

	turns     map[string][]Turn // key: userID+"\x00"+conversationID
	seq       map[string]int64
	dedup     map[string]dedupEntry // DedupKey -> last stored turn
	facts     map[string]map[string]Fact
	summaries map[string][]Summary
	users     map[string]UserProfile
}

type dedupEntry struct {
	turn Turn
	at   time.Time
}

// NewMemoryBackend creates an empty in-memory backend. dedupWindow <= 0
// disables append deduplication.
func NewMemoryBackend(dedupWindow time.Duration) *MemoryBackend {
	return &MemoryBackend{
		dedupWindow: dedupWindow,
		turns:       make(map[string][]Turn),
		seq:         make(map[string]int64),
		dedup:       make(map[string]dedupEntry),
		facts:       make(map[string]map[string]Fact),
		summaries:   make(map[string][]Summary),
		users:       make(map[string]UserProfile),
	}
}

func convKey(userID, conversationID string) string {
	return userID + "\x00" + conversationID
}

// ─── TurnStore ───

func (m *MemoryBackend) Append(ctx context.Context, turn Turn) (Turn, error) {
	if err := ValidateTurn(turn); err != nil {
		return Turn{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	dk := DedupKey(turn.UserID, turn.Role, turn.Content)
	if m.dedupWindow > 0 {
		if e, ok := m.dedup[dk]; ok && now.Sub(e.at) < m.dedupWindow {
			return e.turn, nil
		}
	}

	key := convKey(turn.UserID, turn.ConversationID)
	m.seq[key]++
	turn.Seq = m.seq[key]
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = now.UTC()
	}
	m.turns[key] = append(m.turns[key], turn)
	m.dedup[dk] = dedupEntry{turn: turn, at: now}

	u, ok := m.users[turn.UserID]
	if !ok {
		u = NewUserProfile(turn.UserID)
	}
	u.InteractionCount++
	u.LastInteractionAt = turn.CreatedAt
	m.users[turn.UserID] = u

	return turn, nil
}

func (m *MemoryBackend) Recent(ctx context.Context, userID, conversationID string, limit int) ([]Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.turns[convKey(userID, conversationID)]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]Turn, len(all))
	copy(out, all)
	return out, nil
}

func (m *MemoryBackend) HistorySince(ctx context.Context, userID, conversationID string, since time.Time) ([]Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Turn
	for _, t := range m.turns[convKey(userID, conversationID)] {
		if !t.CreatedAt.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MemoryBackend) ActiveCount(ctx context.Context, userID, conversationID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.turns[convKey(userID, conversationID)]), nil
}

func (m *MemoryBackend) DeleteThrough(ctx context.Context, userID, conversationID string, cutoff time.Time, cutoffSeq int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := convKey(userID, conversationID)
	kept := m.turns[key][:0]
	deleted := 0
	for _, t := range m.turns[key] {
		if t.CreatedAt.Before(cutoff) || (t.CreatedAt.Equal(cutoff) && t.Seq <= cutoffSeq) {
			deleted++
			continue
		}
		kept = append(kept, t)
	}
	m.turns[key] = kept
	return deleted, nil
}

func (m *MemoryBackend) ResetTurns(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.turns {
		if len(key) > len(userID) && key[:len(userID)+1] == userID+"\x00" {
			delete(m.turns, key)
			delete(m.seq, key)
		}
	}
	return nil
}

// ─── FactStore ───

func (m *MemoryBackend) Upsert(ctx context.Context, fact Fact) (Fact, error) {
	if err := ValidateFact(fact); err != nil {
		return Fact{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if fact.CreatedAt.IsZero() {
		fact.CreatedAt = time.Now().UTC()
	}
	if m.facts[fact.UserID] == nil {
		m.facts[fact.UserID] = make(map[string]Fact)
	}
	m.facts[fact.UserID][fact.Key] = fact
	return fact, nil
}

func (m *MemoryBackend) GetAll(ctx context.Context, userID string) ([]Fact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now()
	var out []Fact
	for _, f := range m.facts[userID] {
		if !f.Expired(now) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryBackend) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	purged := 0
	for _, byKey := range m.facts {
		for k, f := range byKey {
			if f.Expired(now) {
				delete(byKey, k)
				purged++
			}
		}
	}
	return purged, nil
}

func (m *MemoryBackend) ResetFacts(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.facts, userID)
	return nil
}

// ─── SummaryStore ───

func (m *MemoryBackend) InsertSummary(ctx context.Context, s Summary) (Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	key := convKey(s.UserID, s.ConversationID)
	m.summaries[key] = append(m.summaries[key], s)
	return s, nil
}

func (m *MemoryBackend) Summaries(ctx context.Context, userID, conversationID string) ([]Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.summaries[convKey(userID, conversationID)]
	out := make([]Summary, len(src))
	copy(out, src)
	return out, nil
}

func (m *MemoryBackend) ResetSummaries(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.summaries {
		if len(key) > len(userID) && key[:len(userID)+1] == userID+"\x00" {
			delete(m.summaries, key)
		}
	}
	return nil
}

// ─── UserStore ───

func (m *MemoryBackend) GetOrCreateUser(ctx context.Context, userID string) (UserProfile, error) {
	if userID == "" {
		return UserProfile{}, ErrValidation
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		return u, nil
	}
	u := NewUserProfile(userID)
	m.users[userID] = u
	return u, nil
}

func (m *MemoryBackend) GetUser(ctx context.Context, userID string) (UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return UserProfile{}, ErrNotFound
	}
	return u, nil
}

func (m *MemoryBackend) SaveUser(ctx context.Context, u UserProfile) error {
	if u.ID == "" {
		return ErrValidation
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

func (m *MemoryBackend) ResetUser(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil
	}
	u.AffectionPoints = 0
	u.RelationshipLevel = LevelStranger
	u.InteractionCount = 0
	u.Preferences = map[string]string{}
	m.users[userID] = u
	return nil
}

func (m *MemoryBackend) Close() error { return nil }

// Compile-time interface check.
var _ Backend = (*MemoryBackend)(nil)
