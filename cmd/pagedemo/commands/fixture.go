package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Item is the record kept in the local store.
type Item struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func itemCursor(it Item) string { return strconv.Itoa(it.ID) }

// apiItem is an Item as the fixture API serves it.
type apiItem struct {
	ID    int    `json:"id"`
	Login string `json:"login"`
}

func apiCursor(it apiItem) string { return strconv.Itoa(it.ID) }

func (it apiItem) item() Item { return Item{ID: it.ID, Name: it.Login} }

const (
	defaultPerPage = 30
	maxPerPage     = 100
)

// fixture serves items 1..total, GitHub style: ?since=<id>&per_page=<n>
// returns the items with a larger id. ?shard=i&shards=n restricts the
// listing to ids congruent to i modulo n.
type fixture struct {
	total    int
	logger   zerolog.Logger
	requests *prometheus.CounterVec
}

func newFixtureRouter(total int, reg *prometheus.Registry, logger zerolog.Logger) http.Handler {
	f := &fixture{
		total:  total,
		logger: logger,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pagedemo",
			Subsystem: "fixture",
			Name:      "requests_total",
			Help:      "Item page requests served",
		}, []string{"code"}),
	}
	reg.MustRegister(f.requests)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(f.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/items", f.listItems)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return r
}

func (f *fixture) listItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since, err := intParam(q.Get("since"), 0)
	if err != nil || since < 0 {
		f.badRequest(w, "since must be a non-negative integer")
		return
	}
	perPage, err := intParam(q.Get("per_page"), defaultPerPage)
	if err != nil || perPage < 1 {
		f.badRequest(w, "per_page must be a positive integer")
		return
	}
	perPage = min(perPage, maxPerPage)
	shards, err := intParam(q.Get("shards"), 1)
	if err != nil || shards < 1 {
		f.badRequest(w, "shards must be a positive integer")
		return
	}
	shard, err := intParam(q.Get("shard"), 0)
	if err != nil || shard < 0 || shard >= shards {
		f.badRequest(w, fmt.Sprintf("shard must be in [0, %d)", shards))
		return
	}

	items := make([]apiItem, 0, perPage)
	for id := since + 1; id <= f.total && len(items) < perPage; id++ {
		if id%shards != shard {
			continue
		}
		items = append(items, apiItem{ID: id, Login: fmt.Sprintf("item-%04d", id)})
	}

	f.requests.WithLabelValues(strconv.Itoa(http.StatusOK)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(items)
}

func (f *fixture) badRequest(w http.ResponseWriter, detail string) {
	f.requests.WithLabelValues(strconv.Itoa(http.StatusBadRequest)).Inc()
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"title":  "Bad Request",
		"status": http.StatusBadRequest,
		"detail": detail,
	})
}

func (f *fixture) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		f.logger.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("url", r.URL.String()).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("request served")
	})
}

func intParam(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
