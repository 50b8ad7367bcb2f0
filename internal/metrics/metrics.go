package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheTier identifies which cache layer an operation touched.
type CacheTier string

const (
	// CacheTierLocal is the in-process LRU tier.
	CacheTierLocal CacheTier = "local"
	// CacheTierValkey is the distributed second tier.
	CacheTierValkey CacheTier = "valkey"
)

// CacheOperation identifies the cache method being instrumented.
type CacheOperation string

const (
	// CacheOperationLookup records response cache lookup calls.
	CacheOperationLookup CacheOperation = "lookup"
	// CacheOperationStore records response cache store attempts.
	CacheOperationStore CacheOperation = "store"
)

// CacheOutcome captures the result of a cache operation.
type CacheOutcome string

const (
	// CacheOutcomeHit indicates the lookup reused a cached answer.
	CacheOutcomeHit CacheOutcome = "hit"
	// CacheOutcomeMiss indicates no cached answer was present.
	CacheOutcomeMiss CacheOutcome = "miss"
	// CacheOutcomeStored indicates the entry was persisted.
	CacheOutcomeStored CacheOutcome = "stored"
	// CacheOutcomeError indicates the operation failed; for the valkey tier
	// this is an expected degradation, never a request failure.
	CacheOutcomeError CacheOutcome = "error"
)

// Recorder publishes Prometheus metrics for chat pipeline activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	chatRequests *prometheus.CounterVec
	chatLatency  *prometheus.HistogramVec

	cacheOperations *prometheus.CounterVec
	cacheLatency    *prometheus.HistogramVec

	verdicts *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a dedicated
// registry is created so multiple recorders can coexist without conflicting with
// the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	chatRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "concierge",
		Subsystem: "chat",
		Name:      "requests_total",
		Help:      "Total chat questions processed by the answer pipeline.",
	}, []string{"outcome", "from_cache"})

	chatLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "concierge",
		Subsystem: "chat",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for completed chat requests.",
		Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"outcome"})

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "concierge",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Response cache operations executed per tier.",
	}, []string{"tier", "operation", "result"})

	cacheLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "concierge",
		Subsystem: "cache",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for response cache operations.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 2},
	}, []string{"tier", "operation", "result"})

	verdicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "concierge",
		Subsystem: "guard",
		Name:      "verdicts_total",
		Help:      "Fallback classifier verdicts by reason.",
	}, []string{"verdict", "reason"})

	reg.MustRegister(chatRequests, chatLatency, cacheOperations, cacheLatency, verdicts)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:        reg,
		handler:         handler,
		chatRequests:    chatRequests,
		chatLatency:     chatLatency,
		cacheOperations: cacheOperations,
		cacheLatency:    cacheLatency,
		verdicts:        verdicts,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveChat records the outcome and latency for a completed chat request.
func (r *Recorder) ObserveChat(outcome string, fromCache bool, duration time.Duration) {
	if r == nil {
		return
	}
	outcomeLabel := normalizeLabel(outcome)
	cacheLabel := "false"
	if fromCache {
		cacheLabel = "true"
	}
	r.chatRequests.WithLabelValues(outcomeLabel, cacheLabel).Inc()
	r.chatLatency.WithLabelValues(outcomeLabel).Observe(duration.Seconds())
}

// ObserveCacheLookup records the result of a cache lookup against one tier.
func (r *Recorder) ObserveCacheLookup(tier CacheTier, result CacheOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	if result == "" {
		result = CacheOutcomeMiss
	}
	r.observeCache(tier, CacheOperationLookup, result, duration)
}

// ObserveCacheStore records the result of a cache store attempt against one tier.
func (r *Recorder) ObserveCacheStore(tier CacheTier, result CacheOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	if result == "" {
		result = CacheOutcomeError
	}
	r.observeCache(tier, CacheOperationStore, result, duration)
}

// ObserveVerdict records a fallback classifier decision.
func (r *Recorder) ObserveVerdict(verdict, reason string) {
	if r == nil {
		return
	}
	r.verdicts.WithLabelValues(normalizeLabel(verdict), normalizeLabel(reason)).Inc()
}

func (r *Recorder) observeCache(tier CacheTier, operation CacheOperation, result CacheOutcome, duration time.Duration) {
	tierLabel := normalizeLabel(string(tier))
	opLabel := string(operation)
	if opLabel == "" {
		opLabel = string(CacheOperationLookup)
	}
	resLabel := normalizeLabel(string(result))
	r.cacheOperations.WithLabelValues(tierLabel, opLabel, resLabel).Inc()
	r.cacheLatency.WithLabelValues(tierLabel, opLabel, resLabel).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
