package rag

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
)

// registryTable records every index the Postgres store manages.
const registryTable = "docqa_indices"

// indexNamePattern restricts index names to safe table name fragments.
var indexNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,48}$`)

// PostgresConfig holds connection parameters for a pgvector database.
type PostgresConfig struct {
	// DSN is a postgres:// connection string.
	DSN string
	// Password overrides the DSN password when set.
	Password string
	// Debug logs every query through bundebug.
	Debug bool
}

// PostgresStore implements VectorStore on Postgres with the pgvector
// extension. Each index is a table of (id, embedding, metadata JSONB) with an
// HNSW index using the operator class for its metric.
type PostgresStore struct {
	db *bun.DB
}

// NewPostgresStore connects, enables pgvector and creates the index registry.
func NewPostgresStore(ctx context.Context, cfg *PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres: DSN is required")
	}
	opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
	if cfg.Password != "" {
		opts = append(opts, pgdriver.WithPassword(cfg.Password))
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(opts...))

	db := bun.NewDB(sqldb, pgdialect.New())
	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	s := &PostgresStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("postgres: enable pgvector: %w", err)
	}
	const ddl = `
CREATE TABLE IF NOT EXISTS ? (
    name       TEXT        PRIMARY KEY,
    dimension  INTEGER     NOT NULL,
    metric     TEXT        NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	if _, err := s.db.ExecContext(ctx, ddl, bun.Ident(registryTable)); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// CreateIndex creates the vector table and its HNSW index.
func (s *PostgresStore) CreateIndex(ctx context.Context, spec IndexSpec) error {
	table, err := tableName(spec.Name)
	if err != nil {
		return err
	}
	if spec.Type != "" && spec.Type != IndexTypeHNSW {
		return fmt.Errorf("postgres: unsupported index type %q", spec.Type)
	}
	if spec.Dimension <= 0 {
		return fmt.Errorf("postgres: dimension must be positive, got %d", spec.Dimension)
	}
	metric := spec.Metric
	if metric == "" {
		metric = MetricCosine
	}
	opclass, err := operatorClass(metric)
	if err != nil {
		return err
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM ? WHERE name = ?`,
			bun.Ident(registryTable), spec.Name).Scan(&n); err != nil {
			return fmt.Errorf("postgres: check index: %w", err)
		}
		if n > 0 {
			return fmt.Errorf("postgres: %q: %w", spec.Name, ErrIndexExists)
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO ? (name, dimension, metric) VALUES (?, ?, ?)`,
			bun.Ident(registryTable), spec.Name, spec.Dimension, string(metric)); err != nil {
			return fmt.Errorf("postgres: register index: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`CREATE TABLE ? (id TEXT PRIMARY KEY, embedding vector(?) NOT NULL, metadata JSONB NOT NULL DEFAULT '{}'::jsonb)`,
			bun.Ident(table), spec.Dimension); err != nil {
			return fmt.Errorf("postgres: create table: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `CREATE INDEX ? ON ? USING hnsw (embedding ?)`,
			bun.Ident(table+"_hnsw"), bun.Ident(table), bun.Safe(opclass)); err != nil {
			return fmt.Errorf("postgres: create hnsw index: %w", err)
		}
		return nil
	})
}

// ListIndices returns the registered index names.
func (s *PostgresStore) ListIndices(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM ? ORDER BY name`, bun.Ident(registryTable))
	if err != nil {
		return nil, fmt.Errorf("postgres: list indices: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("postgres: list indices scan: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list indices rows: %w", err)
	}
	return names, nil
}

// DeleteIndex drops the table and its registry entry.
func (s *PostgresStore) DeleteIndex(ctx context.Context, name string) error {
	table, err := tableName(name)
	if err != nil {
		return err
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS ?`, bun.Ident(table)); err != nil {
			return fmt.Errorf("postgres: drop table: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM ? WHERE name = ?`, bun.Ident(registryTable), name); err != nil {
			return fmt.Errorf("postgres: unregister index: %w", err)
		}
		return nil
	})
}

// Insert upserts rows in a single transaction.
func (s *PostgresStore) Insert(ctx context.Context, name string, vectors [][]float32, ids []string, metadata []Metadata) error {
	if err := ValidateInsert(vectors, ids, metadata); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	table, err := tableName(name)
	if err != nil {
		return err
	}
	dim, _, err := s.indexMeta(ctx, name)
	if err != nil {
		return err
	}
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("postgres: %s: %w: got %d, want %d", ids[i], ErrDimensionMismatch, len(v), dim)
		}
	}

	const upsert = `INSERT INTO ? (id, embedding, metadata) VALUES (?, ?::vector, ?::jsonb)
ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding, metadata = EXCLUDED.metadata`

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for i, id := range ids {
			md := metadataAt(metadata, i)
			if md == nil {
				md = Metadata{}
			}
			payload, err := json.Marshal(md)
			if err != nil {
				return fmt.Errorf("postgres: encode metadata for %s: %w", id, err)
			}
			if _, err := tx.ExecContext(ctx, upsert, bun.Ident(table), id, vectorLiteral(vectors[i]), string(payload)); err != nil {
				return fmt.Errorf("postgres: upsert %s: %w", id, err)
			}
		}
		return nil
	})
}

// Search orders rows by the metric's distance operator. Filters use JSONB
// containment so they match typed values.
func (s *PostgresStore) Search(ctx context.Context, name string, vector []float32, topK int, filters Filters) ([]SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}
	table, err := tableName(name)
	if err != nil {
		return nil, err
	}
	_, metric, err := s.indexMeta(ctx, name)
	if err != nil {
		return nil, err
	}
	op, score := distanceSQL(metric)

	if filters == nil {
		filters = Filters{}
	}
	filterJSON, err := json.Marshal(filters)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode filters: %w", err)
	}

	vec := vectorLiteral(vector)
	q := fmt.Sprintf(`SELECT id, metadata::text, %s AS score FROM ? WHERE metadata @> ?::jsonb ORDER BY embedding %s ?::vector LIMIT ?`, score, op)
	rows, err := s.db.QueryContext(ctx, q, vec, bun.Ident(table), string(filterJSON), vec, topK)
	if err != nil {
		return nil, fmt.Errorf("postgres: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var (
			id, raw string
			sc      float64
		)
		if err := rows.Scan(&id, &raw, &sc); err != nil {
			return nil, fmt.Errorf("postgres: search scan: %w", err)
		}
		md, err := decodeMetadata(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, SearchResult{ID: id, Score: float32(sc), Metadata: md})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: search rows: %w", err)
	}
	return out, nil
}

// GetByID returns the row or nil when the id is unknown.
func (s *PostgresStore) GetByID(ctx context.Context, name, id string) (*StoredVector, error) {
	table, err := tableName(name)
	if err != nil {
		return nil, err
	}
	var vecText, raw string
	err = s.db.QueryRowContext(ctx, `SELECT embedding::text, metadata::text FROM ? WHERE id = ?`,
		bun.Ident(table), id).Scan(&vecText, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get %s: %w", id, err)
	}

	var vec []float32
	if err := json.Unmarshal([]byte(vecText), &vec); err != nil {
		return nil, fmt.Errorf("postgres: decode vector for %s: %w", id, err)
	}
	md, err := decodeMetadata(raw)
	if err != nil {
		return nil, err
	}
	return &StoredVector{ID: id, Vector: vec, Metadata: md}, nil
}

// DeleteByIDs removes rows by id.
func (s *PostgresStore) DeleteByIDs(ctx context.Context, name string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	table, err := tableName(name)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM ? WHERE id IN (?)`, bun.Ident(table), bun.In(ids)); err != nil {
		return fmt.Errorf("postgres: delete: %w", err)
	}
	return nil
}

// Stats counts rows and reports the registered dimension and metric.
func (s *PostgresStore) Stats(ctx context.Context, name string) (IndexStats, error) {
	table, err := tableName(name)
	if err != nil {
		return IndexStats{}, err
	}
	dim, metric, err := s.indexMeta(ctx, name)
	if err != nil {
		return IndexStats{}, err
	}
	var n uint64
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM ?`, bun.Ident(table)).Scan(&n); err != nil {
		return IndexStats{}, fmt.Errorf("postgres: count: %w", err)
	}
	return IndexStats{Name: name, TotalVectors: n, Dimension: dim, Metric: metric}, nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("postgres: close: %w", err)
	}
	return nil
}

func (s *PostgresStore) indexMeta(ctx context.Context, name string) (int, Metric, error) {
	var (
		dim    int
		metric string
	)
	err := s.db.QueryRowContext(ctx, `SELECT dimension, metric FROM ? WHERE name = ?`,
		bun.Ident(registryTable), name).Scan(&dim, &metric)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", fmt.Errorf("postgres: %q: %w", name, ErrIndexNotFound)
	}
	if err != nil {
		return 0, "", fmt.Errorf("postgres: index lookup: %w", err)
	}
	return dim, Metric(metric), nil
}

// tableName maps an index name onto its table.
func tableName(index string) (string, error) {
	if !indexNamePattern.MatchString(index) {
		return "", fmt.Errorf("postgres: invalid index name %q: use letters, digits and underscores", index)
	}
	return "docqa_idx_" + strings.ToLower(index), nil
}

func operatorClass(m Metric) (string, error) {
	switch m {
	case MetricCosine:
		return "vector_cosine_ops", nil
	case MetricL2:
		return "vector_l2_ops", nil
	case MetricInnerProduct:
		return "vector_ip_ops", nil
	default:
		return "", fmt.Errorf("postgres: unsupported metric %q", m)
	}
}

// distanceSQL returns the ordering operator and a higher-is-better score
// expression. The score expression takes the query vector as its placeholder.
func distanceSQL(m Metric) (op, score string) {
	switch m {
	case MetricL2:
		return "<->", "-(embedding <-> ?::vector)"
	case MetricInnerProduct:
		// <#> yields the negative inner product.
		return "<#>", "-(embedding <#> ?::vector)"
	default:
		return "<=>", "1 - (embedding <=> ?::vector)"
	}
}

// vectorLiteral renders v in pgvector's text input format.
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// decodeMetadata parses a JSONB payload, restoring whole numbers to int.
func decodeMetadata(raw string) (Metadata, error) {
	md := Metadata{}
	if raw == "" {
		return md, nil
	}
	if err := json.Unmarshal([]byte(raw), &md); err != nil {
		return nil, fmt.Errorf("postgres: decode metadata: %w", err)
	}
	for k, v := range md {
		if f, ok := v.(float64); ok && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			md[k] = int(f)
		}
	}
	return md, nil
}
