package recorder

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// CallRecord is one completed call as persisted by the recorder.
type CallRecord struct {
	ID           string
	App          string
	Method       string
	Path         string
	Status       int
	Bytes        int64
	ContentType  string
	DurationNS   int64
	FaultKind    string
	FaultMessage string
	CreatedAt    time.Time
}

// Store persists call records in SQLite.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if necessary) the call record database at dsn.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS calls (
			id TEXT PRIMARY KEY,
			app TEXT NOT NULL,
			method TEXT NOT NULL,
			path TEXT NOT NULL,
			status INTEGER NOT NULL,
			bytes INTEGER NOT NULL DEFAULT 0,
			content_type TEXT NOT NULL DEFAULT '',
			duration_ns INTEGER NOT NULL,
			fault_kind TEXT,
			fault_message TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_calls_app ON calls(app)`,
		`CREATE INDEX IF NOT EXISTS idx_calls_created ON calls(created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

// InsertCall persists one record. CreatedAt is filled in when zero.
func (s *Store) InsertCall(ctx context.Context, rec *CallRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := `INSERT INTO calls (id, app, method, path, status, bytes, content_type, duration_ns, fault_kind, fault_message, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.App, rec.Method, rec.Path, rec.Status, rec.Bytes,
		rec.ContentType, rec.DurationNS, rec.FaultKind, rec.FaultMessage,
		rec.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert call record: %w", err)
	}

	return nil
}

// RecentCalls returns the newest records for app, newest first. An empty app
// matches every application.
func (s *Store) RecentCalls(ctx context.Context, app string, limit int) ([]*CallRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, app, method, path, status, bytes, content_type, duration_ns, fault_kind, fault_message, created_at
	          FROM calls WHERE (? = '' OR app = ?)
	          ORDER BY created_at DESC, id DESC
	          LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, app, app, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query call records: %w", err)
	}
	defer rows.Close()

	var records []*CallRecord
	for rows.Next() {
		var rec CallRecord
		if err := rows.Scan(&rec.ID, &rec.App, &rec.Method, &rec.Path, &rec.Status,
			&rec.Bytes, &rec.ContentType, &rec.DurationNS, &rec.FaultKind,
			&rec.FaultMessage, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan call record: %w", err)
		}
		records = append(records, &rec)
	}

	return records, rows.Err()
}

// PurgeOlderThan deletes records created before cutoff and reports how many
// were removed.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM calls WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge call records: %w", err)
	}
	return result.RowsAffected()
}

func (s *Store) Close() error {
	return s.db.Close()
}
