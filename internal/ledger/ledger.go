// Package ledger provides a SQLite-backed record of ingested source files.
// For every (index, file) pair it remembers the content hash and the chunk
// ids written on the last successful ingestion, so unchanged files can be
// skipped and chunks that disappeared from a changed file can be deleted.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Entry is the ledger row for one ingested file.
type Entry struct {
	// Index is the vector index the chunks were written to.
	Index string
	// SourcePath is the file path as given to the ingestion pipeline.
	SourcePath string
	// ContentHash is the hex digest of the file bytes at ingestion time.
	ContentHash string
	// ChunkIDs are the ids inserted for the file, in chunk order.
	ChunkIDs []string
	// IngestedAt is when the entry was recorded.
	IngestedAt time.Time
}

// Ledger persists ingestion state. Implementations must be safe for
// concurrent use.
type Ledger interface {
	// Lookup returns the entry for path in index, or nil when absent.
	Lookup(ctx context.Context, index, path string) (*Entry, error)
	// Record inserts or replaces the entry for e.SourcePath.
	Record(ctx context.Context, e Entry) error
	// Delete removes the entry for path. Missing entries are not an error.
	Delete(ctx context.Context, index, path string) error
	// List returns every entry for index ordered by path.
	List(ctx context.Context, index string) ([]Entry, error)
	// Close releases any resources held by the ledger.
	Close() error
}

// SQLiteLedger is a Ledger backed by a local SQLite database.
type SQLiteLedger struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns ~/.docqa/ledger.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("ledger: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".docqa")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("ledger: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "ledger.db"), nil
}

// Open opens (or creates) a SQLiteLedger at path and runs the schema
// migration. Use ":memory:" in tests.
func Open(path string) (*SQLiteLedger, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("ledger: create dir for %s: %w", path, err)
		}
	}
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	// One connection: a single writer, and ":memory:" stays one database.
	db.SetMaxOpenConns(1)

	l := &SQLiteLedger{db: db}
	if err := l.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *SQLiteLedger) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS ingested_files (
    index_name   TEXT    NOT NULL,
    source_path  TEXT    NOT NULL,
    content_hash TEXT    NOT NULL,
    chunk_ids    TEXT    NOT NULL,  -- JSON array
    chunk_count  INTEGER NOT NULL,
    ingested_at  INTEGER NOT NULL,  -- Unix timestamp (seconds)
    PRIMARY KEY (index_name, source_path)
);
`
	if _, err := l.db.Exec(ddl); err != nil {
		return fmt.Errorf("ledger: migrate: %w", err)
	}
	return nil
}

// Lookup returns the entry for path in index, or nil when absent.
func (l *SQLiteLedger) Lookup(ctx context.Context, index, path string) (*Entry, error) {
	const q = `
SELECT content_hash, chunk_ids, ingested_at
FROM   ingested_files
WHERE  index_name = ? AND source_path = ?`

	var (
		e   = Entry{Index: index, SourcePath: path}
		ids string
		ts  int64
	)
	err := l.db.QueryRowContext(ctx, q, index, path).Scan(&e.ContentHash, &ids, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: lookup: %w", err)
	}
	if err := json.Unmarshal([]byte(ids), &e.ChunkIDs); err != nil {
		return nil, fmt.Errorf("ledger: decode chunk ids for %s: %w", path, err)
	}
	e.IngestedAt = time.Unix(ts, 0)
	return &e, nil
}

// Record inserts or replaces the entry. A zero IngestedAt is set to now.
func (l *SQLiteLedger) Record(ctx context.Context, e Entry) error {
	if e.IngestedAt.IsZero() {
		e.IngestedAt = time.Now()
	}
	ids, err := json.Marshal(e.ChunkIDs)
	if err != nil {
		return fmt.Errorf("ledger: encode chunk ids: %w", err)
	}
	const q = `
INSERT INTO ingested_files (index_name, source_path, content_hash, chunk_ids, chunk_count, ingested_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (index_name, source_path) DO UPDATE SET
    content_hash = excluded.content_hash,
    chunk_ids    = excluded.chunk_ids,
    chunk_count  = excluded.chunk_count,
    ingested_at  = excluded.ingested_at`
	if _, err := l.db.ExecContext(ctx, q, e.Index, e.SourcePath, e.ContentHash, string(ids), len(e.ChunkIDs), e.IngestedAt.Unix()); err != nil {
		return fmt.Errorf("ledger: record: %w", err)
	}
	return nil
}

// Delete removes the entry for path.
func (l *SQLiteLedger) Delete(ctx context.Context, index, path string) error {
	const q = `DELETE FROM ingested_files WHERE index_name = ? AND source_path = ?`
	if _, err := l.db.ExecContext(ctx, q, index, path); err != nil {
		return fmt.Errorf("ledger: delete: %w", err)
	}
	return nil
}

// List returns every entry for index ordered by path.
func (l *SQLiteLedger) List(ctx context.Context, index string) ([]Entry, error) {
	const q = `
SELECT source_path, content_hash, chunk_ids, ingested_at
FROM   ingested_files
WHERE  index_name = ?
ORDER  BY source_path ASC`

	rows, err := l.db.QueryContext(ctx, q, index)
	if err != nil {
		return nil, fmt.Errorf("ledger: list: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e := Entry{Index: index}
		var ids string
		var ts int64
		if err := rows.Scan(&e.SourcePath, &e.ContentHash, &ids, &ts); err != nil {
			return nil, fmt.Errorf("ledger: list scan: %w", err)
		}
		if err := json.Unmarshal([]byte(ids), &e.ChunkIDs); err != nil {
			return nil, fmt.Errorf("ledger: decode chunk ids for %s: %w", e.SourcePath, err)
		}
		e.IngestedAt = time.Unix(ts, 0)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: list rows: %w", err)
	}
	return entries, nil
}

// Close releases the database connection pool.
func (l *SQLiteLedger) Close() error {
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("ledger: close: %w", err)
	}
	return nil
}
