package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tomevault_requests_total",
		Help: "The total number of HTTP requests handled",
	}, []string{"method", "status"})

	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tomevault_latency_bucket",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	LogRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tomevault_log_records_total",
		Help: "Request log records by dispatch outcome",
	}, []string{"outcome"})

	LogQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tomevault_log_queue_depth",
		Help: "Records currently buffered in the async log queue",
	})

	GeoLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tomevault_geo_lookups_total",
		Help: "GeoIP lookups by result (hit, miss, error, local)",
	}, []string{"result"})
)
