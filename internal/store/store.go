// Package store is the local SQLite-backed persistence layer for the agent:
// per-conversation preferences, seen-message dedup state, and suggestion
// history.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps a single SQLite database file.
//
// WAL is enabled so the UI can read history while the engine writes. Write
// concurrency is capped at one connection; everything here is small and fast.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" {
		return nil, errors.New("missing db path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ConversationPrefs are the per-conversation overrides of the global
// defaults.
type ConversationPrefs struct {
	ConversationID   string `json:"conversation_id"`
	AutoEnabled      bool   `json:"auto_enabled"`
	StyleID          string `json:"style_id,omitempty"`
	ThoughtDirection string `json:"thought_direction,omitempty"`
	UpdatedAtUnixMs  int64  `json:"updated_at_unix_ms"`
}

// Suggestion is one generation outcome kept for the history view. Candidate
// text itself is never persisted, only the count; failures carry the error
// category instead.
type Suggestion struct {
	ID             int64  `json:"id"`
	ConversationID string `json:"conversation_id"`
	Source         string `json:"source"`
	ProviderID     string `json:"provider_id,omitempty"`
	Model          string `json:"model,omitempty"`
	UsedFallback   bool   `json:"used_fallback"`
	CandidateCount int    `json:"candidate_count"`
	ErrorCategory  string `json:"error_category,omitempty"`

	CreatedAtUnixMs int64 `json:"created_at_unix_ms"`
}

func (s *Store) GetConversationPrefs(ctx context.Context, conversationID string) (*ConversationPrefs, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, errors.New("missing conversation_id")
	}

	var p ConversationPrefs
	var autoEnabled int
	err := s.db.QueryRowContext(ctx, `
SELECT conversation_id, auto_enabled, style_id, thought_direction, updated_at_unix_ms
FROM conversation_prefs
WHERE conversation_id = ?
`, conversationID).Scan(
		&p.ConversationID,
		&autoEnabled,
		&p.StyleID,
		&p.ThoughtDirection,
		&p.UpdatedAtUnixMs,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	p.AutoEnabled = autoEnabled != 0
	return &p, nil
}

func (s *Store) SetConversationPrefs(ctx context.Context, p ConversationPrefs) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	p.ConversationID = strings.TrimSpace(p.ConversationID)
	if p.ConversationID == "" {
		return errors.New("missing conversation_id")
	}
	p.StyleID = strings.TrimSpace(p.StyleID)
	p.ThoughtDirection = strings.TrimSpace(p.ThoughtDirection)
	if p.UpdatedAtUnixMs <= 0 {
		p.UpdatedAtUnixMs = time.Now().UnixMilli()
	}

	autoEnabled := 0
	if p.AutoEnabled {
		autoEnabled = 1
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO conversation_prefs(conversation_id, auto_enabled, style_id, thought_direction, updated_at_unix_ms)
VALUES(?, ?, ?, ?, ?)
ON CONFLICT(conversation_id) DO UPDATE SET
  auto_enabled = excluded.auto_enabled,
  style_id = excluded.style_id,
  thought_direction = excluded.thought_direction,
  updated_at_unix_ms = excluded.updated_at_unix_ms
`, p.ConversationID, autoEnabled, p.StyleID, p.ThoughtDirection, p.UpdatedAtUnixMs)
	return err
}

// MarkMessageSeen records a message id and reports whether it was new.
// Duplicate sightings return firstSeen=false without error, which is the
// dedup signal the engine needs across restarts.
func (s *Store) MarkMessageSeen(ctx context.Context, conversationID string, messageID string) (firstSeen bool, err error) {
	if s == nil || s.db == nil {
		return false, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	conversationID = strings.TrimSpace(conversationID)
	messageID = strings.TrimSpace(messageID)
	if conversationID == "" || messageID == "" {
		return false, errors.New("invalid request")
	}

	res, err := s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO seen_messages(conversation_id, message_id, seen_at_unix_ms)
VALUES(?, ?, ?)
`, conversationID, messageID, time.Now().UnixMilli())
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// PruneSeenMessages drops dedup rows older than the cutoff and returns how
// many were removed.
func (s *Store) PruneSeenMessages(ctx context.Context, olderThan time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	res, err := s.db.ExecContext(ctx, `
DELETE FROM seen_messages WHERE seen_at_unix_ms < ?
`, olderThan.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) InsertSuggestion(ctx context.Context, sg Suggestion) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	sg.ConversationID = strings.TrimSpace(sg.ConversationID)
	sg.Source = strings.TrimSpace(sg.Source)
	sg.ProviderID = strings.TrimSpace(sg.ProviderID)
	sg.Model = strings.TrimSpace(sg.Model)
	sg.ErrorCategory = strings.TrimSpace(sg.ErrorCategory)
	if sg.ConversationID == "" || sg.Source == "" {
		return 0, errors.New("invalid suggestion")
	}
	if sg.CandidateCount < 0 {
		sg.CandidateCount = 0
	}
	if sg.CreatedAtUnixMs <= 0 {
		sg.CreatedAtUnixMs = time.Now().UnixMilli()
	}

	usedFallback := 0
	if sg.UsedFallback {
		usedFallback = 1
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO suggestions(
  conversation_id, source, provider_id, model, used_fallback,
  candidate_count, error_category, created_at_unix_ms
) VALUES(?, ?, ?, ?, ?, ?, ?, ?)
`,
		sg.ConversationID,
		sg.Source,
		sg.ProviderID,
		sg.Model,
		usedFallback,
		sg.CandidateCount,
		sg.ErrorCategory,
		sg.CreatedAtUnixMs,
	)
	if err != nil {
		return 0, err
	}
	rowID, _ := res.LastInsertId()
	return rowID, nil
}

// ListSuggestions returns history in ascending id order.
//
// If beforeID <= 0 it returns the latest entries; otherwise entries with
// id < beforeID. nextBeforeID is the smallest id in the result, for loading
// older history.
func (s *Store) ListSuggestions(ctx context.Context, conversationID string, limit int, beforeID int64) ([]Suggestion, int64, bool, error) {
	if s == nil || s.db == nil {
		return nil, 0, false, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, 0, false, errors.New("missing conversation_id")
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if beforeID <= 0 {
		beforeID = 1<<62 - 1
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, conversation_id, source, provider_id, model, used_fallback,
       candidate_count, error_category, created_at_unix_ms
FROM suggestions
WHERE conversation_id = ? AND id < ?
ORDER BY id DESC
LIMIT ?
`, conversationID, beforeID, limit)
	if err != nil {
		return nil, 0, false, err
	}
	defer rows.Close()

	tmp := make([]Suggestion, 0, limit)
	for rows.Next() {
		var sg Suggestion
		var usedFallback int
		if err := rows.Scan(
			&sg.ID,
			&sg.ConversationID,
			&sg.Source,
			&sg.ProviderID,
			&sg.Model,
			&usedFallback,
			&sg.CandidateCount,
			&sg.ErrorCategory,
			&sg.CreatedAtUnixMs,
		); err != nil {
			return nil, 0, false, err
		}
		sg.UsedFallback = usedFallback != 0
		tmp = append(tmp, sg)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, false, err
	}
	if len(tmp) == 0 {
		return nil, 0, false, nil
	}

	// Reverse to ASC order.
	out := make([]Suggestion, 0, len(tmp))
	for i := len(tmp) - 1; i >= 0; i-- {
		out = append(out, tmp[i])
	}
	nextBeforeID := out[0].ID

	var more int
	if err := s.db.QueryRowContext(ctx, `
SELECT COUNT(1)
FROM suggestions
WHERE conversation_id = ? AND id < ?
`, conversationID, nextBeforeID).Scan(&more); err != nil {
		// Best-effort: if this fails, just say no more.
		more = 0
	}
	return out, nextBeforeID, more > 0, nil
}

func initSchema(db *sql.DB) error {
	if db == nil {
		return errors.New("nil db")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		return fmt.Errorf("pragma busy_timeout: %w", err)
	}
	return migrateSchema(db)
}

func migrateSchema(db *sql.DB) error {
	if db == nil {
		return errors.New("nil db")
	}
	const targetVersion = 1

	var v int
	if err := db.QueryRow(`PRAGMA user_version;`).Scan(&v); err != nil {
		return fmt.Errorf("pragma user_version: %w", err)
	}
	if v >= targetVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS conversation_prefs (
  conversation_id TEXT PRIMARY KEY,
  auto_enabled INTEGER NOT NULL DEFAULT 1,
  style_id TEXT NOT NULL DEFAULT '',
  thought_direction TEXT NOT NULL DEFAULT '',
  updated_at_unix_ms INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS seen_messages (
  conversation_id TEXT NOT NULL,
  message_id TEXT NOT NULL,
  seen_at_unix_ms INTEGER NOT NULL,
  PRIMARY KEY (conversation_id, message_id)
);
CREATE INDEX IF NOT EXISTS idx_seen_messages_seen_at ON seen_messages(seen_at_unix_ms);
CREATE TABLE IF NOT EXISTS suggestions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  conversation_id TEXT NOT NULL,
  source TEXT NOT NULL,
  provider_id TEXT NOT NULL DEFAULT '',
  model TEXT NOT NULL DEFAULT '',
  used_fallback INTEGER NOT NULL DEFAULT 0,
  candidate_count INTEGER NOT NULL DEFAULT 0,
  error_category TEXT NOT NULL DEFAULT '',
  created_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_suggestions_conversation ON suggestions(conversation_id, id DESC);
`); err != nil {
		return err
	}

	if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version=%d;`, targetVersion)); err != nil {
		return err
	}
	return tx.Commit()
}
