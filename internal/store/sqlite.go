package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/manpreetbhatti/coderoom/internal/room"
)

// SQLiteStore keeps room content in a SQLite database file.
// Timestamps are stored as unix nanoseconds.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("store: sqlite path is required")
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		buffer TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		last_active INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chat_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT NOT NULL,
		author TEXT NOT NULL,
		text TEXT NOT NULL,
		sent_at INTEGER NOT NULL,
		FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_chat_entries_room_id ON chat_entries(room_id, id);
	`

	_, err := db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*room.Room, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, buffer, created_at, last_active FROM rooms WHERE id = ?",
		id,
	)

	var (
		r                     room.Room
		createdAt, lastActive int64
	)
	err := row.Scan(&r.ID, &r.Buffer, &createdAt, &lastActive)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.CreatedAt = time.Unix(0, createdAt)
	r.LastActive = time.Unix(0, lastActive)

	r.Transcript, err = s.transcript(ctx, id)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SQLiteStore) transcript(ctx context.Context, id string) ([]room.ChatEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT author, text, sent_at FROM chat_entries WHERE room_id = ? ORDER BY id ASC",
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]room.ChatEntry, 0)
	for rows.Next() {
		var (
			e      room.ChatEntry
			sentAt int64
		)
		if err := rows.Scan(&e.Author, &e.Text, &sentAt); err != nil {
			return nil, err
		}
		e.SentAt = time.Unix(0, sentAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) Create(ctx context.Context, id string, at time.Time) (*room.Room, error) {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO rooms (id, buffer, created_at, last_active) VALUES (?, '', ?, ?)",
		id, at.UnixNano(), at.UnixNano(),
	)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *SQLiteStore) SetBuffer(ctx context.Context, id, buffer string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE rooms SET buffer = ?, last_active = ? WHERE id = ?",
		buffer, at.UnixNano(), id,
	)
	if err != nil {
		return err
	}
	return requireRow(result, id)
}

func (s *SQLiteStore) AppendChat(ctx context.Context, id string, entry room.ChatEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		"UPDATE rooms SET last_active = ? WHERE id = ?",
		entry.SentAt.UnixNano(), id,
	)
	if err != nil {
		return err
	}
	if err := requireRow(result, id); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO chat_entries (room_id, author, text, sent_at) VALUES (?, ?, ?, ?)",
		id, entry.Author, entry.Text, entry.SentAt.UnixNano(),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE rooms SET last_active = ? WHERE id = ?",
		at.UnixNano(), id,
	)
	return err
}

func (s *SQLiteStore) List(ctx context.Context) ([]room.Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, length(CAST(r.buffer AS BLOB)), r.created_at, r.last_active,
			(SELECT COUNT(*) FROM chat_entries c WHERE c.room_id = r.id)
		FROM rooms r
		ORDER BY r.id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]room.Summary, 0)
	for rows.Next() {
		var (
			sum                   room.Summary
			createdAt, lastActive int64
		)
		if err := rows.Scan(&sum.ID, &sum.BufferBytes, &createdAt, &lastActive, &sum.MessageCount); err != nil {
			return nil, err
		}
		sum.CreatedAt = time.Unix(0, createdAt)
		sum.LastActive = time.Unix(0, lastActive)
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// foreign_keys is per connection, so the cascade is not relied on
	if _, err := tx.ExecContext(ctx, "DELETE FROM chat_entries WHERE room_id = ?", id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM rooms WHERE id = ?", id); err != nil {
		return err
	}
	return tx.Commit()
}

func requireRow(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("room %q not found", id)
	}
	return nil
}
