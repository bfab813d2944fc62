package socrata

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/crime-data-etl/internal/domain"
	"github.com/couchcryptid/crime-data-etl/internal/observability"
)

// DefaultPageSize is the number of rows requested per page.
const DefaultPageSize = 1000

// countRe extracts the scalar from a count query's CSV body once quotes are
// stripped: `count_id\n2500\n`.
var countRe = regexp.MustCompile(`\n(\d*)\n`)

// FetchError reports a non-200 response from the API.
type FetchError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("socrata API error: status %d: %s", e.StatusCode, e.Body)
}

// Query describes a filtered, counted result set on one resource endpoint.
type Query struct {
	// Base is the resource endpoint, e.g. https://data.cityofchicago.org/resource/ijzp-q8t2.csv.
	Base string
	// CountColumn is counted for the total and used as the $order key. It
	// must be unique per row for pagination to be stable.
	CountColumn string
	// Where is a SoQL $where clause. Empty means every row.
	Where string
	// Dataset labels logs and metrics.
	Dataset string
}

// Page is the cursor of one page request.
type Page struct {
	Offset int
	Limit  int
}

// Client walks Socrata resource endpoints in fixed-size pages.
type Client struct {
	httpClient *http.Client
	appToken   string
	pageSize   int
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewClient creates a Socrata client. A pageSize <= 0 uses DefaultPageSize.
func NewClient(timeout time.Duration, appToken string, pageSize int, logger *slog.Logger, metrics *observability.Metrics) *Client {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		appToken:   appToken,
		pageSize:   pageSize,
		logger:     logger,
		metrics:    metrics,
	}
}

// Pages plans the page cursors for a result set of total rows. The last page
// asks for total % pageSize rows, so when total is an exact multiple of the
// page size (including zero) the plan ends with a zero-limit page. That page
// returns only the header row, which keeps the column set of an empty result.
func Pages(total, pageSize int) []Page {
	n := total/pageSize + 1
	pages := make([]Page, n)
	for i := range pages {
		limit := pageSize
		if i == n-1 {
			limit = total % pageSize
		}
		pages[i] = Page{Offset: i * pageSize, Limit: limit}
	}
	return pages
}

// Count returns the number of rows matching q.
func (c *Client) Count(ctx context.Context, q Query) (int, error) {
	params := url.Values{"$select": {fmt.Sprintf("count(%s)", q.CountColumn)}}
	if q.Where != "" {
		params.Set("$where", q.Where)
	}

	body, err := c.get(ctx, q.Base+"?"+params.Encode())
	if err != nil {
		return 0, err
	}
	return parseCount(body), nil
}

// FetchPage returns one page of q ordered by q.CountColumn.
func (c *Client) FetchPage(ctx context.Context, q Query, page Page) (*domain.Table, error) {
	params := url.Values{
		"$limit":  {strconv.Itoa(page.Limit)},
		"$offset": {strconv.Itoa(page.Offset)},
		"$order":  {q.CountColumn},
	}
	if q.Where != "" {
		params.Set("$where", q.Where)
	}

	body, err := c.get(ctx, q.Base+"?"+params.Encode())
	if err != nil {
		return nil, err
	}
	t, err := domain.ReadCSV(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse page at offset %d: %w", page.Offset, err)
	}
	return t, nil
}

// FetchAll counts the rows matching q, fetches every page in order and
// concatenates them. Any failed request aborts the whole fetch.
func (c *Client) FetchAll(ctx context.Context, q Query) (*domain.Table, error) {
	total, err := c.Count(ctx, q)
	if err != nil {
		c.metrics.FetchErrors.WithLabelValues(q.Dataset).Inc()
		return nil, fmt.Errorf("count %s: %w", q.Dataset, err)
	}

	pages := Pages(total, c.pageSize)
	c.logger.Info("fetching pages",
		"dataset", q.Dataset,
		"total", total,
		"pages", len(pages),
		"where", q.Where,
	)

	tables := make([]*domain.Table, 0, len(pages))
	for _, page := range pages {
		t, err := c.FetchPage(ctx, q, page)
		if err != nil {
			c.metrics.FetchErrors.WithLabelValues(q.Dataset).Inc()
			return nil, fmt.Errorf("fetch %s offset %d: %w", q.Dataset, page.Offset, err)
		}
		c.metrics.PagesFetched.WithLabelValues(q.Dataset).Inc()
		c.logger.Debug("fetched page", "dataset", q.Dataset, "offset", page.Offset, "limit", page.Limit, "rows", t.Len())
		tables = append(tables, t)
	}

	out, err := domain.Concat(tables[0], tables[1:]...)
	if err != nil {
		return nil, fmt.Errorf("concat %s pages: %w", q.Dataset, err)
	}
	c.metrics.RowsFetched.WithLabelValues(q.Dataset).Add(float64(out.Len()))
	return out, nil
}

func (c *Client) get(ctx context.Context, fullURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if c.appToken != "" {
		req.Header.Set("X-App-Token", c.appToken)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("socrata request: %w", err)
	}
	defer resp.Body.Close()
	c.metrics.APIDuration.Observe(time.Since(start).Seconds())

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &FetchError{URL: fullURL, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return string(body), nil
}

// parseCount extracts the count from a count query body. A body without a
// digits-only line counts as zero.
func parseCount(body string) int {
	m := countRe.FindStringSubmatch(strings.ReplaceAll(body, `"`, ""))
	if len(m) != 2 {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}
