package observability

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_Format(t *testing.T) {
	var jsonBuf, textBuf bytes.Buffer
	newLogger(&jsonBuf, "info", "json").Info("fetched page", "dataset", "crime")
	newLogger(&textBuf, "info", "text").Info("fetched page", "dataset", "crime")

	assert.True(t, strings.HasPrefix(jsonBuf.String(), "{"))
	assert.Contains(t, jsonBuf.String(), `"dataset":"crime"`)
	assert.Contains(t, textBuf.String(), "dataset=crime")
}

func TestNewLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "text")
	logger.Info("dropped")
	logger.Warn("kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}

func TestNewMetrics_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.PagesFetched.WithLabelValues("crime").Add(3)

	assert.InDelta(t, 3, testutil.ToFloat64(m.PagesFetched.WithLabelValues("crime")), 0)
	assert.Panics(t, func() { NewMetrics(reg) }, "registering twice must fail")
}

func TestPush(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		path   string
		body   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, path, body = r.Method, r.URL.Path, string(data)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.RowsCleaned.WithLabelValues("crime").Add(42)

	require.NoError(t, Push(context.Background(), srv.URL, "crimeetl_update", reg))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/metrics/job/crimeetl_update", path)
	assert.NotEmpty(t, body)
}

func TestPush_Disabled(t *testing.T) {
	require.NoError(t, Push(context.Background(), "", "crimeetl_update", prometheus.NewRegistry()))
}

func TestPush_GatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := Push(context.Background(), srv.URL, "crimeetl_update", prometheus.NewRegistry())
	require.Error(t, err)
}
