//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/agxdata/nyc311-weather-etl/internal/adapter/kafka"
	"github.com/agxdata/nyc311-weather-etl/internal/adapter/openmeteo"
	"github.com/agxdata/nyc311-weather-etl/internal/adapter/socrata"
	"github.com/agxdata/nyc311-weather-etl/internal/adapter/state"
	"github.com/agxdata/nyc311-weather-etl/internal/domain"
	"github.com/agxdata/nyc311-weather-etl/internal/observability"
	"github.com/agxdata/nyc311-weather-etl/internal/pipeline"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
)

const topicPrefix = "test.nyc311."

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	ctr, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("nyc311-test"))
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err, "start kafka container")

	brokers, err := ctr.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	cconn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer cconn.Close()

	require.NoError(t, cconn.CreateTopics(kafkago.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1}))
}

// publishedRow is a message read back from a table topic.
type publishedRow struct {
	Key     string
	Record  map[string]any
	Headers map[string]string
}

func readRows(ctx context.Context, t *testing.T, broker, topic string, n int) []publishedRow {
	t.Helper()
	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       topic,
		GroupID:     fmt.Sprintf("test-%s-%d", topic, time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	defer consumer.Close()

	out := make([]publishedRow, 0, n)
	for len(out) < n {
		readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		msg, err := consumer.ReadMessage(readCtx)
		cancel()
		require.NoError(t, err, "read from %s", topic)

		headers := make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			headers[h.Key] = string(h.Value)
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal(msg.Value, &rec))
		out = append(out, publishedRow{Key: string(msg.Key), Record: rec, Headers: headers})
	}
	return out
}

// TestKafkaWriter verifies that a table round-trips through Kafka as one
// message per row.
func TestKafkaWriter(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, topicPrefix+domain.DimBorough)

	writer := kafka.NewWriter([]string{broker}, topicPrefix, 2, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	schema, _ := domain.SchemaFor(domain.DimBorough)
	table := domain.Table{Schema: schema, Rows: [][]any{
		{int64(1), domain.Manhattan}, {int64(2), domain.Brooklyn}, {int64(3), domain.Queens},
	}}
	stats, err := writer.Load(ctx, []domain.Table{table})
	require.NoError(t, err)
	assert.Equal(t, 3, stats[domain.DimBorough])

	rows := readRows(ctx, t, broker, topicPrefix+domain.DimBorough, 3)
	assert.Equal(t, "1", rows[0].Key)
	assert.Equal(t, domain.Manhattan, rows[0].Record["borough_name"])
	assert.Equal(t, "dimension", rows[0].Headers["kind"])
	_, err = time.Parse(time.RFC3339, rows[0].Headers["processed_at"])
	assert.NoError(t, err, "processed_at should be valid RFC3339")
}

func socrataServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("$offset") != "0" {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		_, _ = w.Write([]byte(`[
			{"unique_key":"66000001","created_date":"2025-09-26T10:00:00.000","closed_date":"2025-09-26T11:00:00.000","agency":"NYPD","complaint_type":"Noise - Residential","borough":"BROOKLYN","incident_zip":"11201"},
			{"unique_key":"66000002","created_date":"2025-09-27T08:00:00.000","agency":"NYPD","complaint_type":"Noise - Residential","borough":"BROOKLYN","incident_zip":"11201-1234"},
			{"unique_key":"66000003","created_date":"2025-09-27T09:00:00.000","complaint_type":"Street Condition"}
		]`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func openMeteoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"daily":{
			"time":["2025-09-26","2025-09-27"],
			"temperature_2m_max":[21.0,19.5],
			"temperature_2m_min":[14.0,12.5],
			"precipitation_sum":[0.0,4.8],
			"rain_sum":[0.0,4.8],
			"windspeed_10m_max":[12.0,24.0]
		}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// TestPipelineEndToEnd wires the full pipeline (HTTP sources, in-memory state,
// Kafka sink) and verifies the published star schema.
func TestPipelineEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	for _, s := range domain.TableSchemas {
		createTopic(t, broker, topicPrefix+s.Name)
	}

	blobs := state.NewFSBlobs(afero.NewMemMapFs(), "state")
	watermarks := state.NewWatermarkStore(blobs)
	require.NoError(t, watermarks.Save(ctx, pipeline.SourceWeather, time.Date(2025, 9, 25, 0, 0, 0, 0, time.UTC)))

	mappings := domain.NewMappingSet(
		map[string]map[string]string{
			"complaint_mapping":    {"Noise - Residential": "Noise"},
			"complaint_categories": {"Noise": "Quality of Life"},
			"borough_mapping":      {"BROOKLYN": "Brooklyn"},
		},
		map[string][]string{domain.RelevantComplaints: {"Noise - Residential"}},
	)
	normalizer, err := domain.NewNormalizer(mappings, domain.DefaultColumnMappings(domain.DefaultFuzzyCutoff), 100, discardLogger())
	require.NoError(t, err)
	merger, err := domain.NewMerger(domain.DefaultSCDColumns)
	require.NoError(t, err)

	writer := kafka.NewWriter([]string{broker}, topicPrefix, 100, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	metrics := observability.NewMetricsForTesting()
	fetcher := pipeline.NewFetcher(pipeline.FetchOptions{PageSize: 10, Concurrency: 2}, discardLogger(), metrics)
	p := pipeline.New(pipeline.Stages{
		Incidents:  socrata.NewClient(socrataServer(t).URL, "erm2-nwe9", "", discardLogger()),
		Weather:    openmeteo.NewClient(openMeteoServer(t).URL, discardLogger()),
		Watermarks: watermarks,
		Registry:   state.NewRegistryStore(blobs),
		Datasets:   state.NewDatasetStore(blobs),
		Merger:     merger,
		Normalizer: normalizer,
		Sink:       writer,
	}, fetcher, pipeline.Options{WeatherEndDate: time.Date(2025, 9, 27, 0, 0, 0, 0, time.UTC)}, discardLogger(), metrics)

	require.NoError(t, p.Run(ctx))
	require.NoError(t, p.CheckReadiness(ctx))

	facts := readRows(ctx, t, broker, topicPrefix+domain.FactIncidents, 2)
	byID := map[string]publishedRow{}
	for _, f := range facts {
		byID[f.Key] = f
		assert.Equal(t, "fact", f.Headers["kind"])
	}
	require.Contains(t, byID, "66000001")
	assert.InDelta(t, 3600, byID["66000001"].Record["time_to_resolve_seconds"], 0)
	assert.InDelta(t, 1, byID["66000001"].Record["is_resolved_same_day"], 0)
	require.Contains(t, byID, "66000002")
	assert.Nil(t, byID["66000002"].Record["closed_date_id"])

	weather := readRows(ctx, t, broker, topicPrefix+domain.FactWeather, 2*len(domain.BoroughCentroids))
	highWind := 0
	for _, w := range weather {
		if w.Record["high_wind_flag"] == float64(1) {
			highWind++
		}
	}
	assert.Equal(t, len(domain.BoroughCentroids), highWind, "24 km/h on 2025-09-27 in every borough")

	wm, ok, err := watermarks.Load(ctx, pipeline.SourceIncidents)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 9, 27, 9, 0, 0, 0, time.UTC), wm)
}
