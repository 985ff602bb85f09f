package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CacheRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ghctx_cache_requests_total",
		Help: "Cache lookups by namespace and outcome (hit, miss, failed)",
	}, []string{"namespace", "outcome"})
	CacheWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ghctx_cache_writes_total",
		Help: "Cache writes by namespace and outcome (stored, failed, skipped)",
	}, []string{"namespace", "outcome"})
	StoreErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ghctx_cache_store_errors_total",
		Help: "Backing store errors by operation",
	}, []string{"op"})
	OpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ghctx_cache_op_duration_seconds",
		Help:    "Backing store operation latency",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"op"})
	InvalidatedKeys = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ghctx_cache_invalidated_keys_total",
		Help: "Keys removed by repository cache clears",
	})
	SourceFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ghctx_source_fetch_total",
		Help: "Calls to the source host and the file selector by kind and result",
	}, []string{"kind", "result"})
)

func init() {
	prometheus.MustRegister(
		CacheRequests,
		CacheWrites,
		StoreErrors,
		OpDuration,
		InvalidatedKeys,
		SourceFetches,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
