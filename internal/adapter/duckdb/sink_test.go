package duckdb

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/agxdata/nyc311-weather-etl/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var boroughSchema = domain.Schema{
	Name:       "dim_borough",
	Kind:       domain.Dimension,
	PrimaryKey: "borough_id",
	Columns: []domain.Column{
		{Name: "borough_id", Type: domain.TypeInt},
		{Name: "borough_name", Type: domain.TypeString},
	},
}

var countSchema = domain.Schema{
	Name: "fact_counts",
	Kind: domain.Fact,
	Columns: []domain.Column{
		{Name: "date", Type: domain.TypeDate},
		{Name: "total", Type: domain.TypeInt},
	},
}

func newMockSink(t *testing.T, chunkSize int) (*Sink, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return NewSink(sqlx.NewDb(mockDB, "sqlmock"), chunkSize, slog.New(slog.DiscardHandler)), mock
}

func TestCreateTableSQL(t *testing.T) {
	assert.Equal(t,
		`CREATE TABLE IF NOT EXISTS "dim_borough" ("borough_id" BIGINT PRIMARY KEY, "borough_name" VARCHAR)`,
		createTableSQL(boroughSchema))
	assert.Equal(t,
		`CREATE TABLE IF NOT EXISTS "fact_counts" ("date" DATE, "total" BIGINT)`,
		createTableSQL(countSchema))
}

func TestInsertSQL(t *testing.T) {
	assert.Equal(t,
		`INSERT INTO "fact_counts" ("date", "total") VALUES (?, ?), (?, ?), (?, ?)`,
		insertSQL(countSchema, 3))
}

func TestSink_Load_DeduplicatesDimensions(t *testing.T) {
	sink, mock := newMockSink(t, 100)

	mock.ExpectExec(createTableSQL(boroughSchema)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT "borough_id" FROM "dim_borough"`).
		WillReturnRows(sqlmock.NewRows([]string{"borough_id"}).AddRow(int64(1)))
	mock.ExpectBegin()
	mock.ExpectExec(insertSQL(boroughSchema, 2)).
		WithArgs(int64(2), "Brooklyn", int64(3), "Queens").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	stats, err := sink.Load(context.Background(), []domain.Table{{
		Schema: boroughSchema,
		Rows:   [][]any{{int64(1), "Manhattan"}, {int64(2), "Brooklyn"}, {int64(3), "Queens"}},
	}})
	require.NoError(t, err)
	assert.Equal(t, domain.LoadStats{"dim_borough": 2}, stats)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSink_Load_NothingNew(t *testing.T) {
	sink, mock := newMockSink(t, 100)

	mock.ExpectExec(createTableSQL(boroughSchema)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT "borough_id" FROM "dim_borough"`).
		WillReturnRows(sqlmock.NewRows([]string{"borough_id"}).AddRow(int64(1)))

	stats, err := sink.Load(context.Background(), []domain.Table{{
		Schema: boroughSchema,
		Rows:   [][]any{{int64(1), "Manhattan"}},
	}})
	require.NoError(t, err)
	assert.Equal(t, 0, stats["dim_borough"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSink_Load_ChunksFacts(t *testing.T) {
	sink, mock := newMockSink(t, 2)
	d1 := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 1)
	d3 := d1.AddDate(0, 0, 2)

	mock.ExpectExec(createTableSQL(countSchema)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec(insertSQL(countSchema, 2)).
		WithArgs(d1, int64(4), d2, nil).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(insertSQL(countSchema, 1)).
		WithArgs(d3, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	stats, err := sink.Load(context.Background(), []domain.Table{{
		Schema: countSchema,
		Rows:   [][]any{{d1, int64(4)}, {d2, nil}, {d3, int64(7)}},
	}})
	require.NoError(t, err)
	assert.Equal(t, 3, stats["fact_counts"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSink_Load_InsertErrorRollsBack(t *testing.T) {
	sink, mock := newMockSink(t, 10)

	mock.ExpectExec(createTableSQL(countSchema)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec(insertSQL(countSchema, 1)).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := sink.Load(context.Background(), []domain.Table{{
		Schema: countSchema,
		Rows:   [][]any{{time.Now(), int64(1)}},
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load fact_counts: insert: disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSink_Load_CreateTableError(t *testing.T) {
	sink, mock := newMockSink(t, 10)
	mock.ExpectExec(createTableSQL(countSchema)).WillReturnError(errors.New("read-only"))

	_, err := sink.Load(context.Background(), []domain.Table{{Schema: countSchema}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create table")
}
