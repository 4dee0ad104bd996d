package commands

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zhangzqs/pagedlist-go"
	"github.com/zhangzqs/pagedlist-go/internal/appconfig"
)

func testConfig(endpoint string) *appconfig.Config {
	cfg := appconfig.Default()
	cfg.Paging = pagedlist.Config{PageSize: 5, PrefetchDistance: 5, InitialLoadSizeHint: 10}
	cfg.Remote.Endpoint = endpoint
	cfg.Remote.Retries = 0
	cfg.Remote.RetryWaitMin = time.Millisecond
	cfg.Remote.RetryWaitMax = time.Millisecond
	return cfg
}

func testScrollOptions(rows int) scrollOptions {
	return scrollOptions{rows: rows, wait: 5 * time.Second}
}

func TestScrollReadsToEnd(t *testing.T) {
	srv, reg := newFixtureServer(t, 25)
	cfg := testConfig(srv.URL + "/items")

	var out bytes.Buffer
	report, err := scroll(context.Background(), cfg, testScrollOptions(100), &out, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, 25, report.Rows)
	assert.True(t, report.Ended)
	assert.Equal(t, 25, report.Stored)
	assert.Equal(t, 25, report.Inserted)
	assert.Equal(t, 1, report.Generations)
	assert.Positive(t, report.Counters["pagedlist_dispatches_total"])
	assert.Equal(t, 25.0, report.Counters["pagedlist_items_loaded_total"])

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 25)
	assert.Equal(t, "     0       1  item-0001", lines[0])
	assert.Equal(t, "    24      25  item-0025", lines[24])

	served, err := gatherCounters(reg)
	require.NoError(t, err)
	// 10 + 5 + 5 + 5, then one empty page.
	assert.Equal(t, 5.0, served["pagedemo_fixture_requests_total"])
}

func TestScrollStopsAtRows(t *testing.T) {
	srv, _ := newFixtureServer(t, 100)

	var out bytes.Buffer
	report, err := scroll(context.Background(), testConfig(srv.URL+"/items"), testScrollOptions(12), &out, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 12, report.Rows)
	assert.False(t, report.Ended)
	assert.GreaterOrEqual(t, report.Stored, 12)
}

func TestScrollMergesShards(t *testing.T) {
	srv, _ := newFixtureServer(t, 20)
	cfg := testConfig(srv.URL + "/items")
	cfg.Remote.Shards = 3

	var out bytes.Buffer
	report, err := scroll(context.Background(), cfg, testScrollOptions(100), &out, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 20, report.Rows)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	for i, line := range lines {
		fields := strings.Fields(line)
		require.Len(t, fields, 3)
		assert.Equal(t, strconv.Itoa(i+1), fields[1])
	}
}

func TestScrollServesPersistedStore(t *testing.T) {
	srv, reg := newFixtureServer(t, 15)
	cfg := testConfig(srv.URL + "/items")
	cfg.Cache.Dir = t.TempDir()

	_, err := scroll(context.Background(), cfg, testScrollOptions(100), &bytes.Buffer{}, zerolog.Nop())
	require.NoError(t, err)
	first, err := gatherCounters(reg)
	require.NoError(t, err)

	var out bytes.Buffer
	report, err := scroll(context.Background(), cfg, testScrollOptions(100), &out, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 15, report.Rows)

	second, err := gatherCounters(reg)
	require.NoError(t, err)
	// Only the page after the stored items is fetched.
	assert.Equal(t, first["pagedemo_fixture_requests_total"]+1, second["pagedemo_fixture_requests_total"])
}

func TestScrollRefresh(t *testing.T) {
	srv, _ := newFixtureServer(t, 30)
	opts := testScrollOptions(20)
	opts.refresh = true

	report, err := scroll(context.Background(), testConfig(srv.URL+"/items"), opts, &bytes.Buffer{}, zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, report.Refreshed)
	assert.Equal(t, 2, report.Generations)
	assert.Equal(t, 10, report.Stored)
	assert.Equal(t, 1.0, report.Counters["pagedlist_detached_total"])
}

func TestScrollReportsFailure(t *testing.T) {
	srv, _ := newFixtureServer(t, 10)
	cfg := testConfig(srv.URL + "/items")
	// The fixture rejects this shard layout with 400.
	cfg.Remote.Endpoint = srv.URL + "/items?shards=0"

	_, err := scroll(context.Background(), cfg, testScrollOptions(5), &bytes.Buffer{}, zerolog.Nop())
	require.Error(t, err)
	assert.ErrorContains(t, err, "initial load failed")
}

func TestPrintSummary(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printSummary(&out, &scrollReport{
		Rows:        3,
		Ended:       true,
		Generations: 1,
		Counters:    map[string]float64{"pagedlist_pages_total": 2},
	}))

	text := out.String()
	assert.Contains(t, text, "rows read")
	assert.Contains(t, text, "pagedlist_pages_total")
	assert.Less(t, strings.Index(text, "events dropped"), strings.Index(text, "pagedlist_pages_total"))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(appconfig.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"message":"shown"`)
}

func fixtureRequests(t *testing.T, reg *prometheus.Registry) float64 {
	t.Helper()
	counters, err := gatherCounters(reg)
	require.NoError(t, err)
	return counters["pagedemo_fixture_requests_total"]
}

func TestBuildFetcherConvertsItems(t *testing.T) {
	srv, _ := newFixtureServer(t, 4)
	p, err := buildFetcher(testConfig(srv.URL+"/items").Remote, noop.NewTracerProvider(), zerolog.Nop())
	require.NoError(t, err)
	defer p.Close()

	page, err := p.fetcher.Fetch(context.Background(), "", 2)
	require.NoError(t, err)
	assert.Equal(t, []Item{{1, "item-0001"}, {2, "item-0002"}}, page.Items)
	assert.Equal(t, "2", page.Next)
	assert.Equal(t, "2", p.cursorOf(page.Items[1]))
}

func TestBuildFetcherCachesPages(t *testing.T) {
	srv, reg := newFixtureServer(t, 10)
	cfg := testConfig(srv.URL + "/items").Remote
	cfg.PageCacheTTL = time.Minute
	p, err := buildFetcher(cfg, noop.NewTracerProvider(), zerolog.Nop())
	require.NoError(t, err)
	defer p.Close()

	for range 3 {
		page, err := p.fetcher.Fetch(context.Background(), "", 5)
		require.NoError(t, err)
		assert.Len(t, page.Items, 5)
	}
	assert.Equal(t, 1.0, fixtureRequests(t, reg))
}

func TestBuildFetcherPrefetchesNextPage(t *testing.T) {
	srv, reg := newFixtureServer(t, 10)
	cfg := testConfig(srv.URL + "/items").Remote
	cfg.Prefetch = true
	p, err := buildFetcher(cfg, noop.NewTracerProvider(), zerolog.Nop())
	require.NoError(t, err)
	defer p.Close()

	page, err := p.fetcher.Fetch(context.Background(), "", 5)
	require.NoError(t, err)
	require.Equal(t, "5", page.Next)
	require.Eventually(t, func() bool { return fixtureRequests(t, reg) == 2 }, 2*time.Second, time.Millisecond)

	page, err = p.fetcher.Fetch(context.Background(), "5", 5)
	require.NoError(t, err)
	assert.Equal(t, 6, page.Items[0].ID)
	// The second page was already fetched; only the empty third page is
	// requested in the background.
	require.Eventually(t, func() bool { return fixtureRequests(t, reg) == 3 }, 2*time.Second, time.Millisecond)
}

func TestBuildFetcherRetriesWholeFetch(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL + "/items").Remote
	cfg.FetchRetries = 2
	p, err := buildFetcher(cfg, noop.NewTracerProvider(), zerolog.Nop())
	require.NoError(t, err)
	defer p.Close()

	_, err = p.fetcher.Fetch(context.Background(), "", 5)
	require.Error(t, err)
	// Retries is zero, so each fetch is a single request.
	assert.EqualValues(t, 3, calls.Load())
}

func TestScrollWithPrefetchAndPageCache(t *testing.T) {
	srv, _ := newFixtureServer(t, 25)
	cfg := testConfig(srv.URL + "/items")
	cfg.Remote.Prefetch = true
	cfg.Remote.PageCacheTTL = time.Minute

	var out bytes.Buffer
	report, err := scroll(context.Background(), cfg, testScrollOptions(100), &out, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 25, report.Rows)
	assert.True(t, report.Ended)
	assert.Equal(t, 25, report.Stored)
}
