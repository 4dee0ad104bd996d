// Package prometheus exports PagedList events as Prometheus counters.
package prometheus

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zhangzqs/pagedlist-go"
)

const namespace = "pagedlist"

// Metrics implements pagedlist.Metrics. All methods are nil-safe: calls on a
// nil *Metrics are no-ops.
type Metrics struct {
	dispatches  *prometheus.CounterVec
	pages       *prometheus.CounterVec
	itemsLoaded *prometheus.CounterVec
	boundaries  *prometheus.CounterVec
	detached    prometheus.Counter
}

var _ pagedlist.Metrics = (*Metrics)(nil)

// New creates the counters and registers them with reg. If reg is nil the
// counters are created but not registered. Counters already registered by an
// earlier call are reused, so several lists can share one registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Loads dispatched to data sources",
		}, []string{"direction"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_total",
			Help:      "Page results received from data sources",
		}, []string{"type"}),
		itemsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_loaded_total",
			Help:      "Items reported loaded by page results",
		}, []string{"type"}),
		boundaries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "boundary_callbacks_total",
			Help:      "Boundary callbacks fired",
		}, []string{"edge"}),
		detached: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detached_total",
			Help:      "Lists detached from their data source",
		}),
	}

	if reg != nil {
		m.dispatches = registerOrReuse(reg, m.dispatches).(*prometheus.CounterVec)
		m.pages = registerOrReuse(reg, m.pages).(*prometheus.CounterVec)
		m.itemsLoaded = registerOrReuse(reg, m.itemsLoaded).(*prometheus.CounterVec)
		m.boundaries = registerOrReuse(reg, m.boundaries).(*prometheus.CounterVec)
		m.detached = registerOrReuse(reg, m.detached).(prometheus.Counter)
	}
	return m
}

func registerOrReuse(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}

func (m *Metrics) ObserveDispatch(direction pagedlist.Direction) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(string(direction)).Inc()
}

// ObservePage counts the result. Invalid results count as pages but load no
// items.
func (m *Metrics) ObservePage(resultType pagedlist.ResultType, loadedCount int) {
	if m == nil {
		return
	}
	label := resultType.String()
	m.pages.WithLabelValues(label).Inc()
	if loadedCount > 0 {
		m.itemsLoaded.WithLabelValues(label).Add(float64(loadedCount))
	}
}

func (m *Metrics) ObserveBoundary(edge pagedlist.Edge) {
	if m == nil {
		return
	}
	m.boundaries.WithLabelValues(string(edge)).Inc()
}

func (m *Metrics) ObserveDetach() {
	if m == nil {
		return
	}
	m.detached.Inc()
}
