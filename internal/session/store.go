// Package session stores per-conversation message history and repairs
// client histories that lost an assistant turn.
//
// Some clients drop the previous assistant message when replaying a
// conversation that ended in tool calls, which breaks the backend's chat
// template. The store keeps the gateway's own view of each session so the
// missing turn can be re-injected on the next request.
package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/n0madic/go-minimax-gate/internal/types"
)

// Config selects and sizes the store backend.
type Config struct {
	Enabled     bool
	Backend     string // "memory" or "sqlite"
	Path        string // sqlite database file
	TTL         time.Duration
	MaxMessages int // per session
}

// Store is a TTL- and size-bounded session history store. Safe for
// concurrent use. A disabled store is valid and turns every method into a
// no-op.
type Store struct {
	mu          sync.Mutex
	enabled     bool
	ttl         time.Duration
	maxMessages int
	backend     backend
}

type record struct {
	ts      int64
	role    string
	payload string
}

type backend interface {
	append(sessionID string, rec record, max int) error
	load(sessionID string) ([]string, error)
	cleanup(cutoff int64) error
	close() error
}

// NewStore builds a store from config. Unknown backends are an error;
// a disabled config always succeeds.
func NewStore(cfg Config) (*Store, error) {
	s := &Store{
		enabled:     cfg.Enabled,
		ttl:         cfg.TTL,
		maxMessages: cfg.MaxMessages,
	}
	if !cfg.Enabled {
		return s, nil
	}

	switch cfg.Backend {
	case "", "memory":
		s.backend = &memoryBackend{sessions: make(map[string][]record)}
	case "sqlite":
		b, err := openSqlite(cfg.Path)
		if err != nil {
			return nil, err
		}
		s.backend = b
	default:
		return nil, fmt.Errorf("unsupported session store backend: %q", cfg.Backend)
	}
	return s, nil
}

// Enabled reports whether the store persists anything.
func (s *Store) Enabled() bool {
	return s.enabled
}

// Close releases backend resources.
func (s *Store) Close() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.close()
}

// AppendMessage records one message for the session. Storage failures are
// logged, not returned: history capture must never fail a request.
func (s *Store) AppendMessage(sessionID string, msg types.ChatMessage) {
	if !s.enabled || sessionID == "" {
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("session message not serializable", "session_id", sessionID, "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cleanupLocked()
	rec := record{ts: time.Now().Unix(), role: msg.Role, payload: string(payload)}
	if err := s.backend.append(sessionID, rec, s.maxMessages); err != nil {
		slog.Warn("session append failed", "session_id", sessionID, "error", err)
	}
}

// GetSession returns the stored messages in chronological order. Corrupted
// records are skipped.
func (s *Store) GetSession(sessionID string) []types.ChatMessage {
	if !s.enabled || sessionID == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cleanupLocked()
	return s.loadLocked(sessionID)
}

// GetLastAssistant returns the most recent assistant message, or nil.
func (s *Store) GetLastAssistant(sessionID string) *types.ChatMessage {
	if !s.enabled || sessionID == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cleanupLocked()
	records := s.loadLocked(sessionID)
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Role == "assistant" {
			return &records[i]
		}
	}
	return nil
}

func (s *Store) loadLocked(sessionID string) []types.ChatMessage {
	payloads, err := s.backend.load(sessionID)
	if err != nil {
		slog.Warn("session load failed", "session_id", sessionID, "error", err)
		return nil
	}

	var out []types.ChatMessage
	for _, p := range payloads {
		var msg types.ChatMessage
		if err := json.Unmarshal([]byte(p), &msg); err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out
}

func (s *Store) cleanupLocked() {
	if s.ttl <= 0 {
		return
	}
	cutoff := time.Now().Add(-s.ttl).Unix()
	if err := s.backend.cleanup(cutoff); err != nil {
		slog.Warn("session cleanup failed", "error", err)
	}
}

// --- memory backend ---

type memoryBackend struct {
	sessions map[string][]record
}

func (b *memoryBackend) append(sessionID string, rec record, max int) error {
	bucket := append(b.sessions[sessionID], rec)
	if max > 0 && len(bucket) > max {
		bucket = bucket[len(bucket)-max:]
	}
	b.sessions[sessionID] = bucket
	return nil
}

func (b *memoryBackend) load(sessionID string) ([]string, error) {
	records := b.sessions[sessionID]
	out := make([]string, len(records))
	for i, rec := range records {
		out[i] = rec.payload
	}
	return out, nil
}

func (b *memoryBackend) cleanup(cutoff int64) error {
	for sessionID, records := range b.sessions {
		kept := records[:0]
		for _, rec := range records {
			if rec.ts >= cutoff {
				kept = append(kept, rec)
			}
		}
		if len(kept) == 0 {
			delete(b.sessions, sessionID)
			continue
		}
		b.sessions[sessionID] = kept
	}
	return nil
}

func (b *memoryBackend) close() error {
	return nil
}

// --- sqlite backend ---

type sqliteBackend struct {
	db *sql.DB
}

func openSqlite(path string) (*sqliteBackend, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create session store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	// Serialize access through one connection so ":memory:" databases are
	// shared across the pool.
	db.SetMaxOpenConns(1)

	const schema = `
		CREATE TABLE IF NOT EXISTS messages (
			session_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			role TEXT NOT NULL,
			payload TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_session_ts
		ON messages(session_id, ts);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize session store schema: %w", err)
	}

	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) append(sessionID string, rec record, max int) error {
	if _, err := b.db.Exec(
		"INSERT INTO messages(session_id, ts, role, payload) VALUES (?, ?, ?, ?)",
		sessionID, rec.ts, rec.role, rec.payload,
	); err != nil {
		return err
	}
	if max <= 0 {
		return nil
	}
	_, err := b.db.Exec(`
		DELETE FROM messages
		WHERE session_id = ?
		  AND rowid NOT IN (
			SELECT rowid FROM messages
			WHERE session_id = ?
			ORDER BY ts DESC, rowid DESC
			LIMIT ?
		  )`, sessionID, sessionID, max)
	return err
}

func (b *sqliteBackend) load(sessionID string) ([]string, error) {
	rows, err := b.db.Query(
		"SELECT payload FROM messages WHERE session_id = ? ORDER BY ts ASC, rowid ASC",
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		out = append(out, payload)
	}
	return out, rows.Err()
}

func (b *sqliteBackend) cleanup(cutoff int64) error {
	_, err := b.db.Exec("DELETE FROM messages WHERE ts < ?", cutoff)
	return err
}

func (b *sqliteBackend) close() error {
	return b.db.Close()
}
