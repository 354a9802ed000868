// Package store provides durable backends for the memory engine:
// SQLite for single-node deployments and Redis for shared ones.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	alyamem "github.com/alyakit/alya-memory-go"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id                  TEXT PRIMARY KEY,
	display_name        TEXT NOT NULL DEFAULT '',
	language            TEXT NOT NULL DEFAULT '',
	relationship_level  INTEGER NOT NULL DEFAULT 0,
	affection_points    INTEGER NOT NULL DEFAULT 0,
	interaction_count   INTEGER NOT NULL DEFAULT 0,
	last_interaction_at TEXT,
	preferences         TEXT NOT NULL DEFAULT '{}',
	created_at          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS turns (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	seq             INTEGER NOT NULL,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	emotion         TEXT NOT NULL DEFAULT '',
	sentiment       REAL NOT NULL DEFAULT 0,
	metadata        TEXT NOT NULL DEFAULT '{}',
	dedup_key       TEXT NOT NULL,
	created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_user_conv_time
	ON turns (user_id, conversation_id, created_at, seq);
CREATE INDEX IF NOT EXISTS idx_turns_dedup ON turns (dedup_key, created_at);

CREATE TABLE IF NOT EXISTS summaries (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	content         TEXT NOT NULL,
	message_count   INTEGER NOT NULL,
	start_at        TEXT NOT NULL,
	end_at          TEXT NOT NULL,
	created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_summaries_user_conv
	ON summaries (user_id, conversation_id, created_at);

CREATE TABLE IF NOT EXISTS facts (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	confidence REAL NOT NULL,
	source     TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	expires_at TEXT,
	UNIQUE (user_id, key)
);
`

// SQLite is a durable Backend on a single SQLite database file.
type SQLite struct {
	db          *sql.DB
	dedupWindow time.Duration
}

// OpenSQLite opens (creating if needed) the database at path with WAL
// journaling and a 5-second busy timeout, and applies the schema.
// dedupWindow <= 0 disables append deduplication.
func OpenSQLite(path string, dedupWindow time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, storageErr(fmt.Errorf("ping sqlite %s: %w", path, err))
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, storageErr(fmt.Errorf("%s: %w", pragma, err))
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, storageErr(fmt.Errorf("apply schema: %w", err))
	}
	return &SQLite{db: db, dedupWindow: dedupWindow}, nil
}

// DB exposes the underlying handle for hosting-process health checks.
func (s *SQLite) DB() *sql.DB { return s.db }

func (s *SQLite) Close() error { return s.db.Close() }

// storageErr classifies backend failures under the engine's taxonomy.
func storageErr(err error) error {
	return fmt.Errorf("%w: %v", alyamem.ErrStorageUnavailable, err)
}

// timeLayout is RFC 3339 with fixed-width nanoseconds so the TEXT
// columns compare lexicographically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func encodeTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func decodeTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(timeLayout, s)
	return t
}

// ─── TurnStore ───

func (s *SQLite) Append(ctx context.Context, turn alyamem.Turn) (alyamem.Turn, error) {
	if err := alyamem.ValidateTurn(turn); err != nil {
		return alyamem.Turn{}, err
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	dk := alyamem.DedupKey(turn.UserID, turn.Role, turn.Content)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return alyamem.Turn{}, storageErr(err)
	}
	defer tx.Rollback()

	if s.dedupWindow > 0 {
		horizon := encodeTime(turn.CreatedAt.Add(-s.dedupWindow))
		row := tx.QueryRowContext(ctx, `
			SELECT id, user_id, conversation_id, seq, role, content, emotion, sentiment, metadata, created_at
			FROM turns
			WHERE dedup_key = ? AND created_at > ?
			ORDER BY created_at DESC, seq DESC LIMIT 1
		`, dk, horizon)
		existing, err := scanTurn(row)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return alyamem.Turn{}, storageErr(err)
		}
	}

	var seq sql.NullInt64
	err = tx.QueryRowContext(ctx, `
		SELECT MAX(seq) FROM turns WHERE user_id = ? AND conversation_id = ?
	`, turn.UserID, turn.ConversationID).Scan(&seq)
	if err != nil {
		return alyamem.Turn{}, storageErr(err)
	}
	turn.Seq = seq.Int64 + 1

	meta, _ := json.Marshal(turn.Metadata)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO turns (id, user_id, conversation_id, seq, role, content, emotion, sentiment, metadata, dedup_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, turn.ID, turn.UserID, turn.ConversationID, turn.Seq, string(turn.Role), turn.Content,
		turn.Emotion, turn.Sentiment, string(meta), dk, encodeTime(turn.CreatedAt))
	if err != nil {
		return alyamem.Turn{}, storageErr(err)
	}

	// Interaction bookkeeping rides the same transaction as the append.
	now := encodeTime(turn.CreatedAt)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (id, interaction_count, last_interaction_at, created_at)
		VALUES (?, 1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			interaction_count   = interaction_count + 1,
			last_interaction_at = excluded.last_interaction_at
	`, turn.UserID, now, now)
	if err != nil {
		return alyamem.Turn{}, storageErr(err)
	}

	if err := tx.Commit(); err != nil {
		return alyamem.Turn{}, storageErr(err)
	}
	return turn, nil
}

func scanTurn(row interface{ Scan(...any) error }) (alyamem.Turn, error) {
	var t alyamem.Turn
	var role, meta, createdAt string
	err := row.Scan(&t.ID, &t.UserID, &t.ConversationID, &t.Seq, &role, &t.Content,
		&t.Emotion, &t.Sentiment, &meta, &createdAt)
	if err != nil {
		return alyamem.Turn{}, err
	}
	t.Role = alyamem.Role(role)
	t.CreatedAt = decodeTime(createdAt)
	if meta != "" && meta != "{}" && meta != "null" {
		_ = json.Unmarshal([]byte(meta), &t.Metadata)
	}
	return t, nil
}

func (s *SQLite) queryTurns(ctx context.Context, query string, args ...any) ([]alyamem.Turn, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()
	var out []alyamem.Turn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, storageErr(err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return out, nil
}

func (s *SQLite) Recent(ctx context.Context, userID, conversationID string, limit int) ([]alyamem.Turn, error) {
	if limit <= 0 {
		return s.queryTurns(ctx, `
			SELECT id, user_id, conversation_id, seq, role, content, emotion, sentiment, metadata, created_at
			FROM turns WHERE user_id = ? AND conversation_id = ?
			ORDER BY created_at ASC, seq ASC
		`, userID, conversationID)
	}
	turns, err := s.queryTurns(ctx, `
		SELECT id, user_id, conversation_id, seq, role, content, emotion, sentiment, metadata, created_at
		FROM turns WHERE user_id = ? AND conversation_id = ?
		ORDER BY created_at DESC, seq DESC LIMIT ?
	`, userID, conversationID, limit)
	if err != nil {
		return nil, err
	}
	// Flip the newest-first page back to chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func (s *SQLite) HistorySince(ctx context.Context, userID, conversationID string, since time.Time) ([]alyamem.Turn, error) {
	return s.queryTurns(ctx, `
		SELECT id, user_id, conversation_id, seq, role, content, emotion, sentiment, metadata, created_at
		FROM turns WHERE user_id = ? AND conversation_id = ? AND created_at >= ?
		ORDER BY created_at ASC, seq ASC
	`, userID, conversationID, encodeTime(since))
}

func (s *SQLite) ActiveCount(ctx context.Context, userID, conversationID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM turns WHERE user_id = ? AND conversation_id = ?
	`, userID, conversationID).Scan(&n)
	if err != nil {
		return 0, storageErr(err)
	}
	return n, nil
}

func (s *SQLite) DeleteThrough(ctx context.Context, userID, conversationID string, cutoff time.Time, cutoffSeq int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM turns
		WHERE user_id = ? AND conversation_id = ?
		  AND (created_at < ? OR (created_at = ? AND seq <= ?))
	`, userID, conversationID, encodeTime(cutoff), encodeTime(cutoff), cutoffSeq)
	if err != nil {
		return 0, storageErr(err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLite) ResetTurns(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE user_id = ?`, userID)
	if err != nil {
		return storageErr(err)
	}
	return nil
}

// ─── FactStore ───

func (s *SQLite) Upsert(ctx context.Context, fact alyamem.Fact) (alyamem.Fact, error) {
	if err := alyamem.ValidateFact(fact); err != nil {
		return alyamem.Fact{}, err
	}
	if fact.ID == "" {
		fact.ID = uuid.NewString()
	}
	if fact.CreatedAt.IsZero() {
		fact.CreatedAt = time.Now().UTC()
	}
	var expires any
	if !fact.ExpiresAt.IsZero() {
		expires = encodeTime(fact.ExpiresAt)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO facts (id, user_id, key, value, confidence, source, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, key) DO UPDATE SET
			value      = excluded.value,
			confidence = excluded.confidence,
			source     = excluded.source,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
	`, fact.ID, fact.UserID, fact.Key, fact.Value, fact.Confidence, fact.Source,
		encodeTime(fact.CreatedAt), expires)
	if err != nil {
		return alyamem.Fact{}, storageErr(err)
	}
	return fact, nil
}

func (s *SQLite) GetAll(ctx context.Context, userID string) ([]alyamem.Fact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, key, value, confidence, source, created_at, expires_at
		FROM facts
		WHERE user_id = ? AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY key ASC
	`, userID, encodeTime(time.Now()))
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()
	var out []alyamem.Fact
	for rows.Next() {
		var f alyamem.Fact
		var createdAt string
		var expiresAt sql.NullString
		if err := rows.Scan(&f.ID, &f.UserID, &f.Key, &f.Value, &f.Confidence, &f.Source, &createdAt, &expiresAt); err != nil {
			return nil, storageErr(err)
		}
		f.CreatedAt = decodeTime(createdAt)
		if expiresAt.Valid {
			f.ExpiresAt = decodeTime(expiresAt.String)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return out, nil
}

func (s *SQLite) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM facts WHERE expires_at IS NOT NULL AND expires_at <= ?
	`, encodeTime(now))
	if err != nil {
		return 0, storageErr(err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLite) ResetFacts(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM facts WHERE user_id = ?`, userID)
	if err != nil {
		return storageErr(err)
	}
	return nil
}

// ─── SummaryStore ───

func (s *SQLite) InsertSummary(ctx context.Context, sum alyamem.Summary) (alyamem.Summary, error) {
	if sum.ID == "" {
		sum.ID = uuid.NewString()
	}
	if sum.CreatedAt.IsZero() {
		sum.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO summaries (id, user_id, conversation_id, content, message_count, start_at, end_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, sum.ID, sum.UserID, sum.ConversationID, sum.Content, sum.MessageCount,
		encodeTime(sum.StartAt), encodeTime(sum.EndAt), encodeTime(sum.CreatedAt))
	if err != nil {
		return alyamem.Summary{}, storageErr(err)
	}
	return sum, nil
}

func (s *SQLite) Summaries(ctx context.Context, userID, conversationID string) ([]alyamem.Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, conversation_id, content, message_count, start_at, end_at, created_at
		FROM summaries WHERE user_id = ? AND conversation_id = ?
		ORDER BY created_at ASC
	`, userID, conversationID)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()
	var out []alyamem.Summary
	for rows.Next() {
		var sum alyamem.Summary
		var startAt, endAt, createdAt string
		if err := rows.Scan(&sum.ID, &sum.UserID, &sum.ConversationID, &sum.Content,
			&sum.MessageCount, &startAt, &endAt, &createdAt); err != nil {
			return nil, storageErr(err)
		}
		sum.StartAt = decodeTime(startAt)
		sum.EndAt = decodeTime(endAt)
		sum.CreatedAt = decodeTime(createdAt)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return out, nil
}

func (s *SQLite) ResetSummaries(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM summaries WHERE user_id = ?`, userID)
	if err != nil {
		return storageErr(err)
	}
	return nil
}

// ─── UserStore ───

func (s *SQLite) GetOrCreateUser(ctx context.Context, userID string) (alyamem.UserProfile, error) {
	if userID == "" {
		return alyamem.UserProfile{}, alyamem.ErrValidation
	}
	u, err := s.GetUser(ctx, userID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, alyamem.ErrNotFound) {
		return alyamem.UserProfile{}, err
	}
	u = alyamem.NewUserProfile(userID)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, created_at) VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING
	`, userID, encodeTime(u.CreatedAt))
	if err != nil {
		return alyamem.UserProfile{}, storageErr(err)
	}
	return s.GetUser(ctx, userID)
}

func (s *SQLite) GetUser(ctx context.Context, userID string) (alyamem.UserProfile, error) {
	var u alyamem.UserProfile
	var lastAt sql.NullString
	var prefs, createdAt string
	var level int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, language, relationship_level, affection_points,
		       interaction_count, last_interaction_at, preferences, created_at
		FROM users WHERE id = ?
	`, userID).Scan(&u.ID, &u.DisplayName, &u.Language, &level, &u.AffectionPoints,
		&u.InteractionCount, &lastAt, &prefs, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return alyamem.UserProfile{}, alyamem.ErrNotFound
	}
	if err != nil {
		return alyamem.UserProfile{}, storageErr(err)
	}
	u.RelationshipLevel = alyamem.RelationshipLevel(level)
	if lastAt.Valid {
		u.LastInteractionAt = decodeTime(lastAt.String)
	}
	u.CreatedAt = decodeTime(createdAt)
	u.Preferences = map[string]string{}
	_ = json.Unmarshal([]byte(prefs), &u.Preferences)
	return u, nil
}

func (s *SQLite) SaveUser(ctx context.Context, u alyamem.UserProfile) error {
	if u.ID == "" {
		return alyamem.ErrValidation
	}
	prefs, _ := json.Marshal(u.Preferences)
	var lastAt any
	if !u.LastInteractionAt.IsZero() {
		lastAt = encodeTime(u.LastInteractionAt)
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, language, relationship_level, affection_points,
		                   interaction_count, last_interaction_at, preferences, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name        = excluded.display_name,
			language            = excluded.language,
			relationship_level  = excluded.relationship_level,
			affection_points    = excluded.affection_points,
			interaction_count   = excluded.interaction_count,
			last_interaction_at = excluded.last_interaction_at,
			preferences         = excluded.preferences
	`, u.ID, u.DisplayName, u.Language, int(u.RelationshipLevel), u.AffectionPoints,
		u.InteractionCount, lastAt, string(prefs), encodeTime(u.CreatedAt))
	if err != nil {
		return storageErr(err)
	}
	return nil
}

func (s *SQLite) ResetUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET relationship_level = 0, affection_points = 0,
		                 interaction_count = 0, preferences = '{}'
		WHERE id = ?
	`, userID)
	if err != nil {
		return storageErr(err)
	}
	return nil
}

// Compile-time interface check.
var _ alyamem.Backend = (*SQLite)(nil)
