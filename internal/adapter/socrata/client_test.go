package socrata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/crime-data-etl/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDataset = "crime"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(pageSize int) *Client {
	return NewClient(5*time.Second, "", pageSize, testLogger(), observability.NewMetricsForTesting())
}

// fakeAPI serves count queries with total and page queries with synthetic
// rows whose id is the absolute row number.
type fakeAPI struct {
	mu       sync.Mutex
	total    int
	pages    []Page
	orders   []string
	wheres   []string
	failFrom int // offset at which page requests start failing; <0 never
}

func (f *fakeAPI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f.mu.Lock()
		defer f.mu.Unlock()
		f.wheres = append(f.wheres, q.Get("$where"))

		if sel := q.Get("$select"); sel != "" {
			assert.Equal(t, "count(id)", sel)
			fmt.Fprintf(w, "\"count_id\"\n\"%d\"\n", f.total)
			return
		}

		limit, err := strconv.Atoi(q.Get("$limit"))
		require.NoError(t, err)
		offset, err := strconv.Atoi(q.Get("$offset"))
		require.NoError(t, err)
		f.pages = append(f.pages, Page{Offset: offset, Limit: limit})
		f.orders = append(f.orders, q.Get("$order"))

		if f.failFrom >= 0 && offset >= f.failFrom {
			http.Error(w, "query timeout", http.StatusInternalServerError)
			return
		}

		var b strings.Builder
		b.WriteString("\"id\",\"primary_type\"\n")
		for i := offset; i < offset+limit && i < f.total; i++ {
			fmt.Fprintf(&b, "\"%d\",\"THEFT\"\n", i)
		}
		_, _ = io.WriteString(w, b.String())
	}
}

func TestPages(t *testing.T) {
	tests := []struct {
		name     string
		total    int
		pageSize int
		want     []Page
	}{
		{"partial last page", 2500, 1000, []Page{{0, 1000}, {1000, 1000}, {2000, 500}}},
		{"exact multiple ends with empty page", 2000, 1000, []Page{{0, 1000}, {1000, 1000}, {2000, 0}}},
		{"empty result", 0, 1000, []Page{{0, 0}}},
		{"smaller than a page", 7, 1000, []Page{{0, 7}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Pages(tt.total, tt.pageSize))
		})
	}
}

func TestParseCount(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"quoted", "\"count_id\"\n\"2500\"\n", 2500},
		{"unquoted", "count_id\n42\n", 42},
		{"empty digits", "count_id\n\n", 0},
		{"no match", "count_id", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseCount(tt.body))
		})
	}
}

func TestFetchAll_PaginatesInOrder(t *testing.T) {
	api := &fakeAPI{total: 2500, failFrom: -1}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()

	c := newTestClient(1000)
	tbl, err := c.FetchAll(context.Background(), Query{Base: srv.URL, CountColumn: "id", Dataset: testDataset})
	require.NoError(t, err)

	assert.Equal(t, []Page{{0, 1000}, {1000, 1000}, {2000, 500}}, api.pages)
	assert.Equal(t, []string{"id", "id", "id"}, api.orders)

	require.Equal(t, 2500, tbl.Len())
	id, err := tbl.Column("id")
	require.NoError(t, err)
	assert.Equal(t, "0", id.Strings[0])
	assert.Equal(t, "999", id.Strings[999])
	assert.Equal(t, "1000", id.Strings[1000])
	assert.Equal(t, "2499", id.Strings[2499])
}

func TestFetchAll_EmptyResultKeepsColumns(t *testing.T) {
	api := &fakeAPI{total: 0, failFrom: -1}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()

	c := newTestClient(1000)
	tbl, err := c.FetchAll(context.Background(), Query{
		Base:        srv.URL,
		CountColumn: "id",
		Where:       "updated_on>'2023-05-01T00:00:00.000'",
		Dataset:     testDataset,
	})
	require.NoError(t, err)

	assert.Equal(t, 0, tbl.Len())
	assert.Equal(t, []string{"id", "primary_type"}, tbl.Names())
	assert.Equal(t, []Page{{0, 0}}, api.pages)
	for _, w := range api.wheres {
		assert.Equal(t, "updated_on>'2023-05-01T00:00:00.000'", w)
	}
}

func TestFetchAll_PageErrorAborts(t *testing.T) {
	api := &fakeAPI{total: 2500, failFrom: 1000}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()

	c := newTestClient(1000)
	tbl, err := c.FetchAll(context.Background(), Query{Base: srv.URL, CountColumn: "id", Dataset: testDataset})
	require.Error(t, err)
	assert.Nil(t, tbl)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusInternalServerError, fe.StatusCode)
	assert.Contains(t, fe.Body, "query timeout")
	assert.Len(t, api.pages, 2, "no pages are requested after a failure")
}

func TestCount_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	c := newTestClient(0)
	_, err := c.Count(context.Background(), Query{Base: srv.URL, CountColumn: "id"})

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusForbidden, fe.StatusCode)
}

func TestClient_SendsAppToken(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-App-Token")
		_, _ = io.WriteString(w, "count_id\n3\n")
	}))
	defer srv.Close()

	c := NewClient(time.Second, "app-token", 0, testLogger(), observability.NewMetricsForTesting())
	n, err := c.Count(context.Background(), Query{Base: srv.URL, CountColumn: "id"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "app-token", got)
}

func TestClient_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "count_id\n3\n")
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(0).Count(ctx, Query{Base: srv.URL, CountColumn: "id"})
	require.ErrorIs(t, err, context.Canceled)
}
