// Package postgres loads the star schema into PostgreSQL using COPY.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/agxdata/nyc311-weather-etl/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"
)

var columnTypes = map[domain.ColumnType]string{
	domain.TypeInt:    "BIGINT",
	domain.TypeFloat:  "DOUBLE PRECISION",
	domain.TypeString: "TEXT",
	domain.TypeDate:   "DATE",
}

type connection interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Sink implements pipeline.Sink.
type Sink struct {
	conn      connection
	chunkSize int
	logger    *slog.Logger
}

// Connect opens a connection pool for dsn.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// NewSink creates a Postgres sink copying at most chunkSize rows per COPY.
func NewSink(conn connection, chunkSize int, logger *slog.Logger) *Sink {
	return &Sink{conn: conn, chunkSize: max(chunkSize, 1), logger: logger}
}

// Load creates missing tables, skips dimension rows whose key already exists
// and copies everything else. Each table is loaded in its own transaction.
func (s *Sink) Load(ctx context.Context, tables []domain.Table) (domain.LoadStats, error) {
	stats := make(domain.LoadStats, len(tables))
	for _, t := range tables {
		n, err := s.loadTable(ctx, t)
		if err != nil {
			return stats, fmt.Errorf("load %s: %w", t.Name, err)
		}
		stats[t.Name] = n
	}
	return stats, nil
}

func (s *Sink) loadTable(ctx context.Context, t domain.Table) (int, error) {
	if _, err := s.conn.Exec(ctx, createTableSQL(t.Schema)); err != nil {
		return 0, fmt.Errorf("create table: %w", err)
	}

	if t.Kind == domain.Dimension {
		existing, err := s.existingKeys(ctx, t.Schema)
		if err != nil {
			return 0, err
		}
		t = t.WithoutKeys(existing)
	}
	if len(t.Rows) == 0 {
		return 0, nil
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}

	var copied int64
	for _, chunk := range lo.Chunk(t.Rows, s.chunkSize) {
		n, err := tx.CopyFrom(ctx, pgx.Identifier{t.Name}, t.ColumnNames(), pgx.CopyFromRows(chunk))
		if err != nil {
			_ = tx.Rollback(ctx)
			return 0, fmt.Errorf("copy: %w", err)
		}
		copied += n
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("table copied", "table", t.Name, "rows", copied)
	return int(copied), nil
}

func (s *Sink) existingKeys(ctx context.Context, schema domain.Schema) (map[int64]struct{}, error) {
	rows, err := s.conn.Query(ctx, fmt.Sprintf("SELECT %s FROM %s",
		pgx.Identifier{schema.PrimaryKey}.Sanitize(), pgx.Identifier{schema.Name}.Sanitize()))
	if err != nil {
		return nil, fmt.Errorf("read existing keys: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("read existing keys: %w", err)
	}
	return lo.SliceToMap(ids, func(id int64) (int64, struct{}) { return id, struct{}{} }), nil
}

func createTableSQL(s domain.Schema) string {
	defs := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		defs[i] = pgx.Identifier{c.Name}.Sanitize() + " " + columnTypes[c.Type]
		if c.Name == s.PrimaryKey {
			defs[i] += " PRIMARY KEY"
		}
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", pgx.Identifier{s.Name}.Sanitize(), strings.Join(defs, ", "))
}
