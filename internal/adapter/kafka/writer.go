package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/crime-data-etl/internal/config"
	"github.com/couchcryptid/crime-data-etl/internal/domain"
	"github.com/couchcryptid/crime-data-etl/internal/observability"
)

// publishBatchSize caps the number of messages handed to one WriteMessages call.
const publishBatchSize = 1000

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes clean rows to a Kafka topic, one JSON message per row.
// It implements pipeline.Publisher.
type Writer struct {
	writer  messageWriter
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewWriter creates a Kafka producer for the configured topic.
func NewWriter(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, clock: clockwork.NewRealClock(), logger: logger, metrics: metrics}
}

// Publish serializes every row of t and writes them in batches. Rows are
// keyed by keyColumn so updates to one record land on the same partition.
func (w *Writer) Publish(ctx context.Context, dataset, keyColumn string, t *domain.Table) error {
	if t.Len() == 0 {
		return nil
	}
	key, err := t.Column(keyColumn)
	if err != nil {
		return fmt.Errorf("publish key: %w", err)
	}

	publishedAt := w.clock.Now().UTC()
	msgs := make([]kafkago.Message, 0, min(t.Len(), publishBatchSize))
	for i := 0; i < t.Len(); i++ {
		msg, err := serializeToMessage(dataset, rowKey(key, i), t.Row(i), publishedAt)
		if err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		msgs = append(msgs, msg)
		if len(msgs) == publishBatchSize {
			if err := w.flush(ctx, dataset, msgs); err != nil {
				return err
			}
			msgs = msgs[:0]
		}
	}
	if err := w.flush(ctx, dataset, msgs); err != nil {
		return err
	}
	w.logger.Info("published records", "dataset", dataset, "rows", t.Len())
	return nil
}

func (w *Writer) flush(ctx context.Context, dataset string, msgs []kafkago.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write messages: %w", err)
	}
	w.metrics.RecordsPublished.WithLabelValues(dataset).Add(float64(len(msgs)))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

func rowKey(c *domain.Column, i int) string {
	v := c.Value(i)
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// serializeToMessage marshals one clean row into a Kafka message. Timestamps
// are RFC 3339 strings and geometries are GeoJSON objects.
func serializeToMessage(dataset, key string, row map[string]any, publishedAt time.Time) (kafkago.Message, error) {
	payload := make(map[string]any, len(row))
	for name, v := range row {
		switch x := v.(type) {
		case time.Time:
			payload[name] = x.Format(time.RFC3339)
		case orb.Geometry:
			payload[name] = geojson.NewGeometry(x)
		default:
			payload[name] = x
		}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize %s row: %w", dataset, err)
	}
	return kafkago.Message{
		Key:   []byte(key),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "dataset", Value: []byte(dataset)},
			{Key: "published_at", Value: []byte(publishedAt.Format(time.RFC3339))},
		},
	}, nil
}
