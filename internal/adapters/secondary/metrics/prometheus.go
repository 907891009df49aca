package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector regroupe les métriques Prometheus du service.
// Chaque instance possède son propre registre (pas de conflit en test).
type Collector struct {
	registry *prometheus.Registry

	// Cache
	CacheHits    *prometheus.CounterVec
	CacheMisses  *prometheus.CounterVec
	StoreErrors  *prometheus.CounterVec
	Invalidation *prometheus.CounterVec

	// HTTP
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		}, []string{"view"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		}, []string{"view"}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_store_errors_total",
			Help:      "Cache store failures absorbed by the coordinator",
		}, []string{"operation"}),
		Invalidation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_invalidated_keys_total",
			Help:      "Keys deleted by change events",
		}, []string{"table"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	registry.MustRegister(
		c.CacheHits,
		c.CacheMisses,
		c.StoreErrors,
		c.Invalidation,
		c.HTTPRequests,
		c.HTTPDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// --- ports.CacheMetrics ---

func (c *Collector) Hit(view string)  { c.CacheHits.WithLabelValues(view).Inc() }
func (c *Collector) Miss(view string) { c.CacheMisses.WithLabelValues(view).Inc() }

func (c *Collector) StoreError(op string) { c.StoreErrors.WithLabelValues(op).Inc() }

func (c *Collector) Invalidated(table string, keys int) {
	c.Invalidation.WithLabelValues(table).Add(float64(keys))
}

// ObserveHTTP enregistre une requête terminée
func (c *Collector) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler expose /metrics
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
