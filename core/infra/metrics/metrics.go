package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Staleness captures counters for the staleness evaluation pipeline.
type Staleness interface {
	IncEvaluation(result string)
	IncCacheHit()
	IncCacheMiss()
	IncInvalidation(scope string)
	ObserveEvaluation(durationSeconds float64)
}

// Gateway captures request metrics for the HTTP gateway.
type Gateway interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// Noop implements Staleness without emitting anything.
type Noop struct{}

func (Noop) IncEvaluation(string)      {}
func (Noop) IncCacheHit()              {}
func (Noop) IncCacheMiss()             {}
func (Noop) IncInvalidation(string)    {}
func (Noop) ObserveEvaluation(float64) {}

// Prom implements Staleness backed by Prometheus collectors.
type Prom struct {
	evaluations   *prometheus.CounterVec
	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter
	invalidations *prometheus.CounterVec
	evalDuration  prometheus.Histogram
}

// NewProm registers the collectors with the default registry.
func NewProm(namespace string) *Prom {
	return NewPromOn(prometheus.DefaultRegisterer, namespace)
}

// NewPromOn registers the collectors with an explicit registerer, so multiple
// instances and tests do not collide on the process-wide default.
func NewPromOn(reg prometheus.Registerer, namespace string) *Prom {
	p := &Prom{
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_evaluations_total",
			Help:      "Staleness evaluations by result",
		}, []string{"result"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_cache_hits_total",
			Help:      "Stale result cache hits",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_cache_misses_total",
			Help:      "Stale result cache misses",
		}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_cache_invalidations_total",
			Help:      "Stale result cache invalidations by scope",
		}, []string{"scope"}),
		evalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stale_evaluation_duration_seconds",
			Help:      "Staleness evaluation latency",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(p.evaluations, p.cacheHits, p.cacheMisses, p.invalidations, p.evalDuration)
	return p
}

func (p *Prom) IncEvaluation(result string) {
	p.evaluations.WithLabelValues(result).Inc()
}

func (p *Prom) IncCacheHit() {
	p.cacheHits.Inc()
}

func (p *Prom) IncCacheMiss() {
	p.cacheMisses.Inc()
}

func (p *Prom) IncInvalidation(scope string) {
	p.invalidations.WithLabelValues(scope).Inc()
}

func (p *Prom) ObserveEvaluation(durationSeconds float64) {
	p.evalDuration.Observe(durationSeconds)
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// --- Gateway metrics ---

type gatewayProm struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewGatewayProm registers gateway collectors with the default registry.
func NewGatewayProm(namespace string) Gateway {
	return NewGatewayPromOn(prometheus.DefaultRegisterer, namespace)
}

// NewGatewayPromOn registers gateway collectors with an explicit registerer.
func NewGatewayPromOn(reg prometheus.Registerer, namespace string) Gateway {
	g := &gatewayProm{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(g.requests, g.latency)
	return g
}

func (g *gatewayProm) ObserveRequest(method, route, status string, durationSeconds float64) {
	g.requests.WithLabelValues(method, route, status).Inc()
	g.latency.WithLabelValues(method, route).Observe(durationSeconds)
}
