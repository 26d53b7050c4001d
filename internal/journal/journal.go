// Package journal records the outcome of every command a worker handles in
// a sqlite database.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS processed (
	id           INTEGER NOT NULL,
	worker       TEXT    NOT NULL,
	kind         TEXT    NOT NULL,
	path         TEXT    NOT NULL DEFAULT '',
	method       TEXT    NOT NULL DEFAULT '',
	status       TEXT    NOT NULL,
	enqueued_at  INTEGER NOT NULL,
	processed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS processed_id ON processed (id);
`

// Status is the outcome of handling a command.
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// Record is one row of the journal.
type Record struct {
	ID          uint64
	Worker      string
	Kind        string
	Path        string
	Method      string
	Status      Status
	EnqueuedAt  time.Time
	ProcessedAt time.Time
}

// Journal is an open journal database. It is safe for concurrent use.
type Journal struct {
	db     *sql.DB
	insert *sql.Stmt
}

// Open opens or creates the journal at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %q err:%w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create journal schema err:%w", err)
	}
	insert, err := db.Prepare(`INSERT INTO processed
		(id, worker, kind, path, method, status, enqueued_at, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare journal insert err:%w", err)
	}
	return &Journal{db: db, insert: insert}, nil
}

// Record appends r.
func (j *Journal) Record(ctx context.Context, r Record) error {
	_, err := j.insert.ExecContext(ctx,
		int64(r.ID), r.Worker, r.Kind, r.Path, r.Method, string(r.Status),
		r.EnqueuedAt.Unix(), r.ProcessedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record command %d err:%w", r.ID, err)
	}
	return nil
}

// Count returns how many records have the given status, or all records
// when status is empty.
func (j *Journal) Count(ctx context.Context, status Status) (int, error) {
	var n int
	var err error
	if status == "" {
		err = j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM processed`).Scan(&n)
	} else {
		err = j.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM processed WHERE status = ?`, string(status)).Scan(&n)
	}
	return n, err
}

// Get returns the records for command id, oldest first.
func (j *Journal) Get(ctx context.Context, id uint64) ([]Record, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT
		id, worker, kind, path, method, status, enqueued_at, processed_at
		FROM processed WHERE id = ? ORDER BY rowid`, int64(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                   Record
			rid                 int64
			status              string
			enqueued, processed int64
		)
		if err := rows.Scan(&rid, &r.Worker, &r.Kind, &r.Path, &r.Method,
			&status, &enqueued, &processed); err != nil {
			return nil, err
		}
		r.ID = uint64(rid)
		r.Status = Status(status)
		r.EnqueuedAt = time.Unix(enqueued, 0)
		r.ProcessedAt = time.UnixMilli(processed)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (j *Journal) Close() error {
	j.insert.Close()
	return j.db.Close()
}
