package stats

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatcore"

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	// RegisterMetric registers a gauge that moves both ways.
	RegisterMetric(name string)
	// RegisterCounter registers a metric that only goes up.
	RegisterCounter(name string)
}

// StatsUpdater keeps the registered gauges and counters on a private registry.
type StatsUpdater struct {
	registry *prometheus.Registry
	mu       sync.RWMutex
	gauges   map[string]prometheus.Gauge
	counters map[string]prometheus.Counter
}

// NewStatsUpdater creates a new stats updater and mounts its handler on mux.
func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := &StatsUpdater{
		registry: prometheus.NewRegistry(),
		gauges:   make(map[string]prometheus.Gauge),
		counters: make(map[string]prometheus.Counter),
	}
	su.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if mux != nil {
		mux.Handle("GET /metrics", su.Handler())
	}

	return su
}

func (su *StatsUpdater) Handler() http.Handler {
	return promhttp.HandlerFor(su.registry, promhttp.HandlerOpts{Registry: su.registry})
}

func (su *StatsUpdater) RegisterMetric(name string) {
	su.mu.Lock()
	defer su.mu.Unlock()

	if _, ok := su.gauges[name]; ok {
		return
	}

	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      "chatcore " + name,
	})
	su.registry.MustRegister(g)
	su.gauges[name] = g
}

func (su *StatsUpdater) RegisterCounter(name string) {
	su.mu.Lock()
	defer su.mu.Unlock()

	if _, ok := su.counters[name]; ok {
		return
	}

	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name + "_total",
		Help:      "chatcore " + name,
	})
	su.registry.MustRegister(c)
	su.counters[name] = c
}

func (su *StatsUpdater) Incr(name string) {
	su.mu.RLock()
	c, isCounter := su.counters[name]
	g, isGauge := su.gauges[name]
	su.mu.RUnlock()

	switch {
	case isCounter:
		c.Inc()
	case isGauge:
		g.Inc()
	default:
		panic("metric not found: " + name)
	}
}

// Decr panics for counters and unknown names.
func (su *StatsUpdater) Decr(name string) {
	su.mu.RLock()
	g, ok := su.gauges[name]
	su.mu.RUnlock()

	if !ok {
		panic("gauge not found: " + name)
	}
	g.Dec()
}
