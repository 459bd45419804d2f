// Package observability holds the service's Prometheus collectors. Collectors are
// package level so any layer can record into them; Init attaches them to a registry.
package observability

import (
	"errors"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	ingestionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestion_total",
			Help: "Ingestion transactions by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	ingestionDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingestion_duration_seconds",
			Help:    "Wall time of ingestion transactions, commit included.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"op"},
	)

	consolidationFragments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consolidation_fragments_total",
			Help: "Polygon part fragments written or removed by consolidation.",
		},
		[]string{"kind"},
	)

	aggregationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aggregation_duration_seconds",
			Help:    "Time to compute an aggregation from storage.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
	)

	cacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Aggregation cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	cacheOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Cache backend operations by result.",
		},
		[]string{"op", "result"},
	)

	redisOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Latency of Redis operations.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Partition change events handed to the producer.",
		},
		[]string{"outcome"},
	)

	kafkaConsumerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_errors_total",
			Help: "Invalidation consumer errors by kind.",
		},
		[]string{"kind"},
	)
)

var initMu sync.Mutex

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds,
		ingestionTotal, ingestionDurationSeconds, consolidationFragments,
		aggregationDurationSeconds,
		cacheResults, cacheOps, redisOpDuration,
		eventsPublished, kafkaConsumerErrors,
	}
}

// Init registers the collectors on reg. Registering twice on the same registry is a no-op.
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil {
		return
	}
	initMu.Lock()
	defer initMu.Unlock()
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveIngestion(op string, err error, durationSeconds float64) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	ingestionTotal.WithLabelValues(op, outcome).Inc()
	ingestionDurationSeconds.WithLabelValues(op).Observe(durationSeconds)
}

func AddConsolidationFragments(inserted, deleted int) {
	consolidationFragments.WithLabelValues("inserted").Add(float64(inserted))
	consolidationFragments.WithLabelValues("deleted").Add(float64(deleted))
}

func ObserveAggregation(durationSeconds float64) {
	aggregationDurationSeconds.Observe(durationSeconds)
}

func IncCacheHit()   { cacheResults.WithLabelValues("hit").Inc() }
func IncCacheMiss()  { cacheResults.WithLabelValues("miss").Inc() }
func IncCacheError() { cacheResults.WithLabelValues("error").Inc() }

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	cacheOps.WithLabelValues(op, result).Inc()
	redisOpDuration.WithLabelValues(op).Observe(durationSeconds)
}

func IncEventPublished(outcome string) {
	eventsPublished.WithLabelValues(outcome).Inc()
}

func IncKafkaConsumerError(kind string) {
	kafkaConsumerErrors.WithLabelValues(kind).Inc()
}

// Counter accessors let other packages assert on deltas.

func CacheOpCounter(op, result string) prometheus.Counter {
	return cacheOps.WithLabelValues(op, result)
}

func CacheResultCounter(outcome string) prometheus.Counter {
	return cacheResults.WithLabelValues(outcome)
}

func EventsPublishedCounter(outcome string) prometheus.Counter {
	return eventsPublished.WithLabelValues(outcome)
}

func KafkaConsumerErrorCounter(kind string) prometheus.Counter {
	return kafkaConsumerErrors.WithLabelValues(kind)
}

func ConsolidationFragmentsCounter(kind string) prometheus.Counter {
	return consolidationFragments.WithLabelValues(kind)
}
