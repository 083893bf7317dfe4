package conversation

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a durable Store backed by SQLite. Histories survive process
// restarts; the window is enforced on every append.
type SQLiteStore struct {
	db     *sql.DB
	window int
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path and runs migrations.
func NewSQLiteStore(path string, window int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if window <= 0 {
		window = DefaultWindow
	}

	s := &SQLiteStore{db: db, window: window}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_key TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_key, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, key string) (History, error) {
	return queryHistory(ctx, s.db, key)
}

// AppendAndTrim implements Store.
func (s *SQLiteStore) AppendAndTrim(ctx context.Context, key string, turn Turn) (History, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO turns (conversation_key, role, content) VALUES (?, ?, ?)`,
		key, string(turn.Role), turn.Content); err != nil {
		return nil, fmt.Errorf("insert turn: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM turns
		WHERE conversation_key = ?
		  AND id NOT IN (
			SELECT id FROM turns WHERE conversation_key = ? ORDER BY id DESC LIMIT ?
		  )`, key, key, s.window); err != nil {
		return nil, fmt.Errorf("trim turns: %w", err)
	}

	history, err := queryHistory(ctx, tx, key)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return history, nil
}

// Stats returns current occupancy.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT conversation_key), COUNT(*) FROM turns`).
		Scan(&stats.Conversations, &stats.Turns)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	return stats, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryHistory(ctx context.Context, q queryer, key string) (History, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT role, content FROM turns WHERE conversation_key = ? ORDER BY id ASC`, key)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	history := History{}
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		history = append(history, Turn{Role: Role(role), Content: content})
	}
	return history, rows.Err()
}
