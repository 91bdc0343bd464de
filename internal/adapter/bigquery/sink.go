// Package bigquery loads the star schema into a BigQuery dataset with load
// jobs. Rows are appended as newline-delimited JSON, one job per chunk, so
// freshly created tables are written without waiting out the streaming
// buffer's metadata delay.
package bigquery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"cloud.google.com/go/bigquery"
	"github.com/agxdata/nyc311-weather-etl/internal/domain"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

var fieldTypes = map[domain.ColumnType]bigquery.FieldType{
	domain.TypeInt:    bigquery.IntegerFieldType,
	domain.TypeFloat:  bigquery.FloatFieldType,
	domain.TypeString: bigquery.StringFieldType,
	domain.TypeDate:   bigquery.DateFieldType,
}

// NewClient creates a BigQuery client. Without a credentials file the
// application default credentials are used.
func NewClient(ctx context.Context, projectID, credentialsFile string) (*bigquery.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create bigquery client")
	}
	return client, nil
}

// Sink implements pipeline.Sink.
type Sink struct {
	client    *bigquery.Client
	dataset   string
	chunkSize int
	logger    *slog.Logger
}

// NewSink creates a sink writing to dataset, inserting at most chunkSize rows
// per request.
func NewSink(client *bigquery.Client, dataset string, chunkSize int, logger *slog.Logger) *Sink {
	return &Sink{client: client, dataset: dataset, chunkSize: max(chunkSize, 1), logger: logger}
}

// Load creates the dataset and tables when missing, skips dimension rows
// whose key already exists and appends everything else.
func (s *Sink) Load(ctx context.Context, tables []domain.Table) (domain.LoadStats, error) {
	ds := s.client.Dataset(s.dataset)
	if err := ensureDataset(ctx, ds); err != nil {
		return nil, err
	}

	stats := make(domain.LoadStats, len(tables))
	for _, t := range tables {
		n, err := s.loadTable(ctx, ds, t)
		if err != nil {
			return stats, errors.Wrapf(err, "load %s", t.Name)
		}
		stats[t.Name] = n
	}
	return stats, nil
}

func (s *Sink) loadTable(ctx context.Context, ds *bigquery.Dataset, t domain.Table) (int, error) {
	table := ds.Table(t.Name)
	schema := tableSchema(t.Schema)
	if err := ensureTable(ctx, table, schema); err != nil {
		return 0, err
	}

	if t.Kind == domain.Dimension {
		existing, err := s.existingKeys(ctx, t.Schema)
		if err != nil {
			return 0, err
		}
		t = t.WithoutKeys(existing)
	}

	for _, chunk := range lo.Chunk(t.Rows, s.chunkSize) {
		if err := appendRows(ctx, table, schema, domain.Table{Schema: t.Schema, Rows: chunk}); err != nil {
			return 0, err
		}
	}
	s.logger.Debug("table loaded", "table", t.Name, "rows", len(t.Rows))
	return len(t.Rows), nil
}

func appendRows(ctx context.Context, table *bigquery.Table, bq bigquery.Schema, chunk domain.Table) error {
	data, err := encodeRows(chunk)
	if err != nil {
		return err
	}
	src := bigquery.NewReaderSource(bytes.NewReader(data))
	src.SourceFormat = bigquery.JSON
	src.Schema = bq

	loader := table.LoaderFrom(src)
	loader.WriteDisposition = bigquery.WriteAppend
	job, err := loader.Run(ctx)
	if err != nil {
		return errors.Wrap(formatError(err), "start load job")
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return errors.Wrap(formatError(err), "wait for load job")
	}
	if err := status.Err(); err != nil {
		return errors.Wrapf(formatError(err), "load job %s", job.ID())
	}
	return nil
}

func (s *Sink) existingKeys(ctx context.Context, schema domain.Schema) (map[int64]struct{}, error) {
	q := s.client.Query(fmt.Sprintf("SELECT `%s` FROM `%s.%s.%s`", schema.PrimaryKey, s.client.Project(), s.dataset, schema.Name))
	it, err := q.Read(ctx)
	if err != nil {
		return nil, errors.Wrap(formatError(err), "read existing keys")
	}
	out := make(map[int64]struct{})
	for {
		var row []bigquery.Value
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "read existing keys")
		}
		if id, ok := row[0].(int64); ok {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func ensureDataset(ctx context.Context, ds *bigquery.Dataset) error {
	_, err := ds.Metadata(ctx)
	if err == nil {
		return nil
	}
	if !hasStatus(err, http.StatusNotFound) {
		return errors.Wrapf(formatError(err), "fetch dataset %s", ds.DatasetID)
	}
	if err := ds.Create(ctx, &bigquery.DatasetMetadata{}); err != nil && !hasStatus(err, http.StatusConflict) {
		return errors.Wrapf(formatError(err), "create dataset %s", ds.DatasetID)
	}
	return nil
}

func ensureTable(ctx context.Context, table *bigquery.Table, schema bigquery.Schema) error {
	_, err := table.Metadata(ctx)
	if err == nil {
		return nil
	}
	if !hasStatus(err, http.StatusNotFound) {
		return errors.Wrap(formatError(err), "fetch table metadata")
	}
	if err := table.Create(ctx, &bigquery.TableMetadata{Schema: schema}); err != nil && !hasStatus(err, http.StatusConflict) {
		return errors.Wrap(formatError(err), "create table")
	}
	return nil
}

func tableSchema(s domain.Schema) bigquery.Schema {
	out := make(bigquery.Schema, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = &bigquery.FieldSchema{
			Name:     c.Name,
			Type:     fieldTypes[c.Type],
			Required: c.Name == s.PrimaryKey,
		}
	}
	return out
}

// encodeRows renders the table as newline-delimited JSON objects keyed by
// column name.
func encodeRows(t domain.Table) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range t.Rows {
		if err := enc.Encode(t.Record(i)); err != nil {
			return nil, errors.Wrapf(err, "encode %s row %d", t.Name, i)
		}
	}
	return buf.Bytes(), nil
}

func hasStatus(err error, code int) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// formatError flattens a googleapi error into its message.
func formatError(err error) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	return errors.Errorf("bigquery api error %d: %s", apiErr.Code, apiErr.Message)
}
