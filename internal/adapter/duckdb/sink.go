// Package duckdb loads the star schema into a local DuckDB warehouse file.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/agxdata/nyc311-weather-etl/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"

	_ "github.com/marcboeker/go-duckdb" // registers the "duckdb" driver
)

var columnTypes = map[domain.ColumnType]string{
	domain.TypeInt:    "BIGINT",
	domain.TypeFloat:  "DOUBLE",
	domain.TypeString: "VARCHAR",
	domain.TypeDate:   "DATE",
}

type connection interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

// Sink implements pipeline.Sink.
type Sink struct {
	conn      connection
	chunkSize int
	logger    *slog.Logger
}

// Open connects to the DuckDB file at path, creating it if needed.
func Open(path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb %s: %w", path, err)
	}
	return db, nil
}

// NewSink creates a DuckDB sink inserting at most chunkSize rows per statement.
func NewSink(db *sqlx.DB, chunkSize int, logger *slog.Logger) *Sink {
	return &Sink{conn: db, chunkSize: max(chunkSize, 1), logger: logger}
}

// Load creates missing tables, skips dimension rows whose key already exists
// and appends everything else.
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
	if _, err := s.conn.ExecContext(ctx, createTableSQL(t.Schema)); err != nil {
		return 0, fmt.Errorf("create table: %w", err)
	}

	if t.Kind == domain.Dimension {
		var ids []int64
		if err := s.conn.SelectContext(ctx, &ids, fmt.Sprintf("SELECT %s FROM %s", quote(t.PrimaryKey), quote(t.Name))); err != nil {
			return 0, fmt.Errorf("read existing keys: %w", err)
		}
		before := len(t.Rows)
		t = t.WithoutKeys(lo.SliceToMap(ids, func(id int64) (int64, struct{}) { return id, struct{}{} }))
		s.logger.Debug("dimension deduplicated", "table", t.Name, "existing", before-len(t.Rows))
	}
	if len(t.Rows) == 0 {
		return 0, nil
	}

	tx, err := s.conn.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	for _, chunk := range lo.Chunk(t.Rows, s.chunkSize) {
		if _, err := tx.ExecContext(ctx, insertSQL(t.Schema, len(chunk)), lo.Flatten(chunk)...); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(t.Rows), nil
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func createTableSQL(s domain.Schema) string {
	defs := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		defs[i] = quote(c.Name) + " " + columnTypes[c.Type]
		if c.Name == s.PrimaryKey {
			defs[i] += " PRIMARY KEY"
		}
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quote(s.Name), strings.Join(defs, ", "))
}

func insertSQL(s domain.Schema, rows int) string {
	row := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(s.Columns)), ", ") + ")"
	values := strings.TrimSuffix(strings.Repeat(row+", ", rows), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		quote(s.Name), strings.Join(lo.Map(s.ColumnNames(), func(c string, _ int) string { return quote(c) }), ", "), values)
}
