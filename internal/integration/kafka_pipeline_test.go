//go:build integration

package integration_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/crime-data-etl/internal/adapter/kafka"
	"github.com/couchcryptid/crime-data-etl/internal/adapter/parquet"
	"github.com/couchcryptid/crime-data-etl/internal/adapter/resource"
	"github.com/couchcryptid/crime-data-etl/internal/adapter/socrata"
	"github.com/couchcryptid/crime-data-etl/internal/config"
	"github.com/couchcryptid/crime-data-etl/internal/dataset"
	"github.com/couchcryptid/crime-data-etl/internal/domain"
	"github.com/couchcryptid/crime-data-etl/internal/observability"
	"github.com/couchcryptid/crime-data-etl/internal/pipeline"
)

const testTopic = "test-clean-crime"

const crimeExport = `ID,Case Number,Date,Block,IUCR,Primary Type,Description,Location Description,Arrest,Domestic,Beat,District,Ward,Community Area,FBI Code,X Coordinate,Y Coordinate,Year,Updated On,Latitude,Longitude,Location
1,JA000001,04/30/2023 10:00:00 PM,001XX N STATE ST,0820,THEFT,$500 AND UNDER,STREET,false,false,111,1,42,32,06,,,2023,05/01/2023 12:00:00 AM,41.88,-87.62,"(41.88, -87.62)"
`

const apiPage = "id,case_number,date,block,iucr,primary_type,description,location_description,arrest,domestic,beat,district,ward,community_area,fbi_code,x_coordinate,y_coordinate,year,updated_on,latitude,longitude,location\n" +
	"1,JA000001,2023-04-30T22:00:00.000,001XX N STATE ST,0820,THEFT,$500 AND UNDER,STREET,true,false,0111,001,42,32,06,,,2023,2023-05-02T10:00:00.000,41.88,-87.62,\n" +
	"2,JA000002,2023-05-02T23:15:00.000,001XX W 79TH ST,0486,BATTERY,DOMESTIC BATTERY SIMPLE,APARTMENT,false,true,0624,006,17,44,08B,,,2023,2023-05-03T01:00:00.000,,,\n"

type staticFetcher struct{ doc string }

func (f staticFetcher) Fetch(context.Context, string, string, string, resource.Format, bool) (*domain.Table, error) {
	return domain.ReadCSV(strings.NewReader(f.doc))
}

type staticQuery struct{ doc string }

func (q staticQuery) FetchAll(context.Context, socrata.Query) (*domain.Table, error) {
	return domain.ReadCSV(strings.NewReader(q.doc))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("crime-etl-test"))
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err, "start kafka container")

	brokers, err := container.Brokers(ctx)
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
	ctrl, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

// TestRefreshPublishesToKafka runs an incremental refresh against a real
// broker and reads the published rows back from the topic.
func TestRefreshPublishesToKafka(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testTopic)

	cfg := &config.Config{KafkaBrokers: []string{broker}, KafkaTopic: testTopic}
	metrics := observability.NewMetricsForTesting()
	writer := kafka.NewWriter(cfg, discardLogger(), metrics)
	defer writer.Close()

	updater := pipeline.NewIncrementalUpdater(staticQuery{doc: apiPage}, clockwork.NewRealClock(), discardLogger(), metrics)
	p := pipeline.New(t.TempDir(), staticFetcher{doc: crimeExport}, parquet.NewStore(discardLogger()), updater, writer, discardLogger(), metrics)

	res, err := p.Refresh(ctx, dataset.Crime, pipeline.RefreshOptions{Merge: true, Publish: true})
	require.NoError(t, err)
	require.Equal(t, 2, res.Updates.Len())
	assert.Equal(t, 2, res.Snapshot.Len())

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:   []string{broker},
		Topic:     testTopic,
		Partition: 0,
		MaxWait:   time.Second,
	})
	defer reader.Close()

	keys := make([]string, 0, 2)
	for range 2 {
		readCtx, readCancel := context.WithTimeout(ctx, 30*time.Second)
		msg, err := reader.ReadMessage(readCtx)
		readCancel()
		require.NoError(t, err, "read published record")

		keys = append(keys, string(msg.Key))
		headers := make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			headers[h.Key] = string(h.Value)
		}
		assert.Equal(t, "crime", headers["dataset"])
		assert.NotEmpty(t, headers["published_at"])

		var row map[string]any
		require.NoError(t, json.Unmarshal(msg.Value, &row))
		assert.Contains(t, row, "primary_type")
		assert.Contains(t, row, "updated_on")
	}
	assert.ElementsMatch(t, []string{"1", "2"}, keys)
}
