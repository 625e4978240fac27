// Package sqlite provides checkpoint and session persistence backed by a
// single SQLite database file. Suitable for single-process deployments that
// need durability across restarts.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/deepnoodle-ai/coastline"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	thread_id     TEXT NOT NULL,
	checkpoint_id TEXT NOT NULL,
	namespace     TEXT NOT NULL DEFAULT '',
	parent_id     TEXT NOT NULL DEFAULT '',
	state         BLOB NOT NULL,
	metadata      BLOB NOT NULL,
	suspended     INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMP NOT NULL,
	PRIMARY KEY (thread_id, checkpoint_id, namespace)
);

CREATE TABLE IF NOT EXISTS pending_writes (
	thread_id     TEXT NOT NULL,
	checkpoint_id TEXT NOT NULL,
	task_id       TEXT NOT NULL,
	channel       TEXT NOT NULL,
	value         BLOB NOT NULL,
	PRIMARY KEY (thread_id, checkpoint_id, task_id, channel)
);

CREATE TABLE IF NOT EXISTS deleted_threads (
	thread_id TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	thread_id  TEXT NOT NULL,
	status     TEXT NOT NULL,
	data       BLOB NOT NULL,
	expires_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions (expires_at);
`

// Store implements coastline.CheckpointStore and coastline.SessionStore on one
// SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database file and applies the schema.
// WAL mode keeps concurrent readers from blocking the engine's writes.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Put(ctx context.Context, cp *coastline.Checkpoint) error {
	deleted, err := s.isDeleted(ctx, cp.ThreadID)
	if err != nil {
		return err
	}
	if deleted {
		return coastline.ErrThreadDeleted
	}
	meta, err := cp.DecodeMetadata()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (thread_id, checkpoint_id, namespace, parent_id, state, metadata, suspended, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (thread_id, checkpoint_id, namespace) DO UPDATE SET
			parent_id = excluded.parent_id,
			state = excluded.state,
			metadata = excluded.metadata,
			suspended = excluded.suspended,
			created_at = excluded.created_at`,
		cp.ThreadID, cp.CheckpointID, cp.Namespace, cp.ParentID,
		[]byte(cp.State), []byte(cp.Metadata), boolToInt(meta.Suspended), cp.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to put checkpoint: %w", err)
	}
	return nil
}

func (s *Store) GetLatest(ctx context.Context, threadID, namespace string) (*coastline.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT thread_id, checkpoint_id, namespace, parent_id, state, metadata, created_at
		FROM checkpoints
		WHERE thread_id = ? AND namespace = ?
		ORDER BY checkpoint_id DESC
		LIMIT 1`, threadID, namespace)
	cp, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return cp, err
}

func (s *Store) List(ctx context.Context, threadID string, filter coastline.ListFilter, limit int) ([]*coastline.Checkpoint, error) {
	query := `
		SELECT thread_id, checkpoint_id, namespace, parent_id, state, metadata, created_at
		FROM checkpoints
		WHERE thread_id = ?`
	args := []any{threadID}
	if filter.Before != "" {
		query += ` AND checkpoint_id < ?`
		args = append(args, filter.Before)
	}
	if filter.Suspended != nil {
		query += ` AND suspended = ?`
		args = append(args, boolToInt(*filter.Suspended))
	}
	query += ` ORDER BY checkpoint_id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*coastline.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

func (s *Store) PutWrites(ctx context.Context, writes []*coastline.PendingWrite) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, w := range writes {
		deleted, err := s.isDeleted(ctx, w.ThreadID)
		if err != nil {
			return err
		}
		if deleted {
			return coastline.ErrThreadDeleted
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO pending_writes (thread_id, checkpoint_id, task_id, channel, value)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (thread_id, checkpoint_id, task_id, channel) DO UPDATE SET
				value = excluded.value`,
			w.ThreadID, w.CheckpointID, w.TaskID, w.Channel, []byte(w.Value))
		if err != nil {
			return fmt.Errorf("failed to put pending write: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) PendingWrites(ctx context.Context, threadID, checkpointID string) ([]*coastline.PendingWrite, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, checkpoint_id, task_id, channel, value
		FROM pending_writes
		WHERE thread_id = ? AND checkpoint_id = ?
		ORDER BY task_id`, threadID, checkpointID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending writes: %w", err)
	}
	defer rows.Close()

	var out []*coastline.PendingWrite
	for rows.Next() {
		var w coastline.PendingWrite
		var value []byte
		if err := rows.Scan(&w.ThreadID, &w.CheckpointID, &w.TaskID, &w.Channel, &value); err != nil {
			return nil, err
		}
		w.Value = json.RawMessage(value)
		out = append(out, &w)
	}
	return out, rows.Err()
}

func (s *Store) DeleteThread(ctx context.Context, threadID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE thread_id = ?`, threadID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_writes WHERE thread_id = ?`, threadID); err != nil {
		return 0, fmt.Errorf("failed to delete pending writes: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO deleted_threads (thread_id) VALUES (?)
		ON CONFLICT (thread_id) DO NOTHING`, threadID); err != nil {
		return 0, fmt.Errorf("failed to tombstone thread: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(count), nil
}

// Session store methods.

func (s *Store) PutSession(ctx context.Context, session *coastline.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, thread_id, status, data, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			data = excluded.data,
			expires_at = excluded.expires_at`,
		session.ID, session.ThreadID, string(session.Status), data, session.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to put session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*coastline.Session, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM sessions WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, coastline.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	var session coastline.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *Store) ListExpiredSessions(ctx context.Context, now time.Time) ([]*coastline.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM sessions WHERE expires_at <= ? ORDER BY expires_at`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired sessions: %w", err)
	}
	defer rows.Close()

	var out []*coastline.Session
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var session coastline.Session
		if err := json.Unmarshal(data, &session); err != nil {
			return nil, err
		}
		out = append(out, &session)
	}
	return out, rows.Err()
}

// Sessions adapts the store to the coastline.SessionStore interface.
func (s *Store) Sessions() coastline.SessionStore {
	return sessionStore{s}
}

type sessionStore struct {
	store *Store
}

func (a sessionStore) Put(ctx context.Context, session *coastline.Session) error {
	return a.store.PutSession(ctx, session)
}

func (a sessionStore) Get(ctx context.Context, id string) (*coastline.Session, error) {
	return a.store.GetSession(ctx, id)
}

func (a sessionStore) Delete(ctx context.Context, id string) error {
	return a.store.DeleteSession(ctx, id)
}

func (a sessionStore) ListExpired(ctx context.Context, now time.Time) ([]*coastline.Session, error) {
	return a.store.ListExpiredSessions(ctx, now)
}

func (s *Store) isDeleted(ctx context.Context, threadID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM deleted_threads WHERE thread_id = ?`, threadID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row scanner) (*coastline.Checkpoint, error) {
	var cp coastline.Checkpoint
	var state, metadata []byte
	err := row.Scan(&cp.ThreadID, &cp.CheckpointID, &cp.Namespace, &cp.ParentID,
		&state, &metadata, &cp.CreatedAt)
	if err != nil {
		return nil, err
	}
	cp.State = json.RawMessage(state)
	cp.Metadata = json.RawMessage(metadata)
	return &cp, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
