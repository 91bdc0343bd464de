package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/agxdata/nyc311-weather-etl/internal/domain"
	"github.com/samber/lo"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer publishes warehouse rows, one JSON message per row, to a topic per
// table. It implements pipeline.Sink.
//
// Kafka cannot be queried for existing keys, so dimension rows are keyed by
// their primary key and deduplication is left to topic compaction.
type Writer struct {
	writer    *kafkago.Writer
	prefix    string
	chunkSize int
	logger    *slog.Logger
}

// NewWriter creates a producer for topics named prefix+table.
func NewWriter(brokers []string, prefix string, chunkSize int, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, prefix: prefix, chunkSize: max(chunkSize, 1), logger: logger}
}

// Topic returns the topic a table is published to.
func (w *Writer) Topic(table string) string {
	return w.prefix + table
}

// Load publishes every row of every table in chunks of chunkSize messages.
func (w *Writer) Load(ctx context.Context, tables []domain.Table) (domain.LoadStats, error) {
	stats := make(domain.LoadStats, len(tables))
	processedAt := domain.Now()
	for _, t := range tables {
		topic := w.Topic(t.Name)
		msgs := make([]kafkago.Message, len(t.Rows))
		for i := range t.Rows {
			msg, err := serializeToMessage(t, i, processedAt)
			if err != nil {
				return stats, err
			}
			msg.Topic = topic
			msgs[i] = msg
		}
		for _, chunk := range lo.Chunk(msgs, w.chunkSize) {
			if err := w.writer.WriteMessages(ctx, chunk...); err != nil {
				return stats, fmt.Errorf("publish %s: %w", t.Name, err)
			}
		}
		stats[t.Name] = len(msgs)
		w.logger.Debug("table published", "topic", topic, "messages", len(msgs))
	}
	return stats, nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals row i of a table into a Kafka message keyed by
// the primary key, or by the first column for facts.
func serializeToMessage(t domain.Table, i int, processedAt time.Time) (kafkago.Message, error) {
	data, err := json.Marshal(t.Record(i))
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize %s row %d: %w", t.Name, i, err)
	}
	key := 0
	if k := t.KeyIndex(); k >= 0 {
		key = k
	}
	var keyBytes []byte
	if v := t.Rows[i][key]; v != nil {
		keyBytes = fmt.Appendf(nil, "%v", v)
	}
	return kafkago.Message{
		Key:   keyBytes,
		Value: data,
		Headers: []kafkago.Header{
			{Key: "table", Value: []byte(t.Name)},
			{Key: "kind", Value: []byte(t.Kind.String())},
			{Key: "processed_at", Value: []byte(processedAt.Format(time.RFC3339))},
		},
	}, nil
}
