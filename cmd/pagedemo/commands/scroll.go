package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/zhangzqs/pagedlist-go"
	"github.com/zhangzqs/pagedlist-go/badgerlist"
	"github.com/zhangzqs/pagedlist-go/cached"
	"github.com/zhangzqs/pagedlist-go/fetch"
	"github.com/zhangzqs/pagedlist-go/internal/appconfig"
	prommetrics "github.com/zhangzqs/pagedlist-go/metrics/prometheus"
	"github.com/zhangzqs/pagedlist-go/remote"
)

// errStalled is returned when no row arrives before the wait timeout.
var errStalled = errors.New("list stalled")

type scrollOptions struct {
	rows    int
	refresh bool
	// wait bounds how long a single row may take to load.
	wait time.Duration
}

var scrollOpts scrollOptions

var scrollCmd = &cobra.Command{
	Use:   "scroll",
	Short: "Page through the configured API like a list view",
	Long: `Scroll reads rows one at a time from a paged list. Pages are fetched from
remote.endpoint ahead of the scroll position and cached in the local store
(cache.dir, in memory when empty). Content younger than cache.stale_after is
served from the store without fetching.

Examples:
  pagedemo scroll --rows 100
  pagedemo scroll --rows 50 --refresh
  PAGEDEMO_REMOTE_SHARDS=3 pagedemo scroll`,
	RunE: runScroll,
}

func init() {
	scrollCmd.Flags().IntVarP(&scrollOpts.rows, "rows", "n", 50, "number of rows to read")
	scrollCmd.Flags().BoolVar(&scrollOpts.refresh, "refresh", false, "refresh the list from the first page after scrolling")
	scrollCmd.Flags().DurationVar(&scrollOpts.wait, "wait", 30*time.Second, "maximum time to wait for a row")
}

func runScroll(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := stderrLogger(cfg)

	report, err := scroll(cmd.Context(), cfg, scrollOpts, cmd.OutOrStdout(), logger)
	if err != nil {
		return err
	}
	return printSummary(cmd.OutOrStdout(), report)
}

// scrollReport summarizes a scroll run.
type scrollReport struct {
	Rows        int
	Ended       bool
	Refreshed   bool
	Generations int
	Stored      int
	Inserted    int
	Removed     int
	Dropped     uint64
	Counters    map[string]float64
}

func scroll(ctx context.Context, cfg *appconfig.Config, opts scrollOptions, out io.Writer, logger zerolog.Logger) (*scrollReport, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	looper := pagedlist.NewLooper()
	defer looper.Close()

	storeOpts := []badgerlist.Option{badgerlist.WithExecutor(looper), badgerlist.WithLogger(logger)}
	if cfg.Cache.Dir == "" {
		storeOpts = append(storeOpts, badgerlist.InMemory())
	}
	store, err := badgerlist.Open[Item](cfg.Cache.Dir, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	tp := newTracerProvider(logger)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	pipeline, err := buildFetcher(cfg.Remote, tp, logger)
	if err != nil {
		return nil, err
	}
	defer pipeline.Close()

	reg := prometheus.NewRegistry()
	factory := cached.New[string, Item](store, pipeline.fetcher, pipeline.cursorOf,
		cached.WithStaleAfter(cfg.Cache.StaleAfter),
		cached.WithLogger(logger),
	)
	go logEvents(ctx, factory.Events(), logger)

	ended := false
	pager := pagedlist.NewPagerBuilder[string, Item](store, factory, cfg.Paging).
		SetExecutor(looper).
		SetLogger(logger).
		SetMetrics(prommetrics.New(reg)).
		SetBoundaryCallback(pagedlist.BoundaryFuncs[Item]{
			ZeroItemsLoaded: func() { ended = true },
			ItemAtEndLoaded: func(Item) { ended = true },
		}).
		Build()
	defer pager.Close()

	report := &scrollReport{}
	differ := pagedlist.NewDiffer(pager.Current(), pagedlist.ListUpdateFuncs{
		Inserted: func(position, count int) {
			logger.Debug().Int("position", position).Int("count", count).Msg("rows inserted")
			report.Inserted += count
		},
		Removed: func(position, count int) {
			logger.Debug().Int("position", position).Int("count", count).Msg("rows removed")
			report.Removed += count
		},
	})
	defer differ.Close()
	stopObserving := pager.Observe(func(list *pagedlist.PagedList[string, Item]) {
		if differ.List() != list {
			differ.SetList(list)
		}
	})
	defer stopObserving()

	s := &scroller{
		ctx:     ctx,
		looper:  looper,
		differ:  differ,
		factory: factory,
		ended:   &ended,
		wait:    opts.wait,
	}

	for row := 0; row < opts.rows; row++ {
		item, ok, err := s.row(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		if !ok {
			report.Ended = true
			break
		}
		fmt.Fprintf(out, "%6d  %6d  %s\n", row, item.ID, item.Name)
		report.Rows++
	}

	if opts.refresh {
		// Let a page still in flight land first.
		err := s.until(func() bool {
			status, _ := factory.Helper().Status(cached.RequestAfter)
			return status != cached.StatusRunning
		})
		if err != nil {
			return nil, fmt.Errorf("refresh: %w", err)
		}

		first := pager.Current()
		ended = false
		pager.Refresh(pagedlist.Ptr(""))
		err = s.until(func() bool {
			status, _ := factory.Helper().Status(cached.RequestInitial)
			return pager.Current() != first && status == cached.StatusSucceeded
		})
		if err != nil {
			return nil, fmt.Errorf("refresh: %w", err)
		}
		report.Refreshed = true
		logger.Info().Int("items", pager.Current().Len()).Msg("list refreshed")
	}

	looper.RunPending()
	report.Generations = pager.Generations()
	report.Stored = store.Len()
	report.Dropped = factory.Dropped()
	report.Counters, err = gatherCounters(reg)
	if err != nil {
		return nil, err
	}
	return report, nil
}

// scroller reads rows on the looper's goroutine, running posted work while
// it waits for pages to arrive.
type scroller struct {
	ctx     context.Context
	looper  *pagedlist.Looper
	differ  *pagedlist.Differ[string, Item]
	factory *cached.Factory[string, Item]
	ended   *bool
	wait    time.Duration
}

// row returns the item at row. ok is false when the list ended before it.
func (s *scroller) row(row int) (item Item, ok bool, err error) {
	requested := false
	err = s.until(func() bool {
		if row < s.differ.ItemCount() {
			item, ok = s.differ.Item(row)
			return true
		}
		if *s.ended {
			return true
		}
		if !requested {
			s.differ.List().LoadAround(row)
			requested = true
		}
		return false
	})
	return item, ok, err
}

func (s *scroller) until(done func() bool) error {
	deadline := time.NewTimer(s.wait)
	defer deadline.Stop()
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()

	for {
		s.looper.RunPending()
		if done() {
			return nil
		}
		if err := s.failure(); err != nil {
			return err
		}
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()
		case <-deadline.C:
			return errStalled
		case <-tick.C:
		}
	}
}

func (s *scroller) failure() error {
	helper := s.factory.Helper()
	for _, kind := range []cached.RequestType{cached.RequestInitial, cached.RequestAfter} {
		if status, err := helper.Status(kind); status == cached.StatusFailed {
			return fmt.Errorf("%s load failed: %w", kind, err)
		}
	}
	return nil
}

func logEvents(ctx context.Context, events <-chan cached.StateEvent, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			e := logger.Debug()
			if ev.Status == cached.Failed {
				e = logger.Warn().Err(ev.Err)
			}
			e.Str("kind", ev.Kind.String()).Str("status", ev.Status.String()).Msg("load state")
		}
	}
}

// fetchPipeline is the decorated fetcher scroll pages from.
type fetchPipeline struct {
	fetcher fetch.Fetcher[string, Item]
	// cursorOf is nil with several shards, as merge cursors cannot be
	// derived from an item.
	cursorOf func(Item) string
	closers  []func()
}

// Close stops background fetches.
func (p *fetchPipeline) Close() {
	for _, c := range p.closers {
		c()
	}
}

// buildFetcher stacks the fetch decorators over the remote endpoint, from
// the network up: shard merge, conversion to Item, rate limit, retry, page
// cache, prefetch, logging and tracing. cfg.Retries retries one HTTP
// request; cfg.FetchRetries reruns the whole fetch, so a merged page whose
// shards failed one after another is retried as a unit.
func buildFetcher(cfg appconfig.RemoteConfig, tp trace.TracerProvider, logger zerolog.Logger) (*fetchPipeline, error) {
	open := func(endpoint string) (fetch.Fetcher[string, apiItem], error) {
		return remote.New[apiItem](endpoint, remote.ArrayDecoder(apiCursor),
			remote.WithQueryParams(cfg.CursorParam, cfg.LimitParam),
			remote.WithRetry(cfg.Retries, cfg.RetryWaitMin, cfg.RetryWaitMax),
			remote.WithLogger(logger),
		)
	}

	p := &fetchPipeline{cursorOf: itemCursor}
	var wire fetch.Fetcher[string, apiItem]
	if cfg.Shards <= 1 {
		r, err := open(cfg.Endpoint)
		if err != nil {
			return nil, err
		}
		wire = r
	} else {
		shards := make([]fetch.Fetcher[string, apiItem], cfg.Shards)
		for i := range cfg.Shards {
			endpoint, err := shardEndpoint(cfg.Endpoint, i, cfg.Shards)
			if err != nil {
				return nil, err
			}
			if shards[i], err = open(endpoint); err != nil {
				return nil, err
			}
		}
		wire = fetch.NewMergeFetcher(fetch.CompareBy(func(it apiItem) int { return it.ID }), shards...)
		p.cursorOf = nil
	}

	var source fetch.Fetcher[string, Item] = fetch.NewTransformFetcher(wire, apiItem.item)
	if cfg.RateLimit > 0 {
		source = fetch.NewRateLimitedFetcher(source, cfg.RateLimit, 0)
	}
	source = fetch.NewRetryFetcher(source, cfg.FetchRetries, cfg.RetryWaitMin)
	if cfg.PageCacheTTL > 0 {
		source = fetch.NewCachedFetcher(source, cfg.PageCacheTTL)
	}
	if cfg.Prefetch {
		prefetch := fetch.NewPrefetchFetcher(source)
		p.closers = append(p.closers, prefetch.Close)
		source = prefetch
	}
	source = fetch.NewLoggingFetcher(source, logger)
	p.fetcher = fetch.NewTracingFetcher(source, "remote", fetch.WithTracerProvider(tp))
	return p, nil
}

func shardEndpoint(endpoint string, shard, shards int) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("shard", strconv.Itoa(shard))
	q.Set("shards", strconv.Itoa(shards))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// gatherCounters sums every counter in reg by metric name.
func gatherCounters(reg *prometheus.Registry) (map[string]float64, error) {
	families, err := reg.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}
	counters := make(map[string]float64, len(families))
	for _, family := range families {
		for _, m := range family.GetMetric() {
			if c := m.GetCounter(); c != nil {
				counters[family.GetName()] += c.GetValue()
			}
		}
	}
	return counters, nil
}
