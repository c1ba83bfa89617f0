package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"riskengine/internal/logger"
)

// Collectors shared across the engine. Registered on the default registry
// so the optional /metrics listener picks them up without extra wiring.
var (
	EvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "riskengine",
		Name:      "evaluations_total",
		Help:      "Completed evaluations by resulting tier.",
	}, []string{"tier"})

	RuleHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "riskengine",
		Name:      "rule_hits_total",
		Help:      "Rule predicate matches by rule category.",
	}, []string{"category"})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "riskengine",
		Name:      "cache_hits_total",
		Help:      "Compliance cache lookups served from a live entry.",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "riskengine",
		Name:      "cache_misses_total",
		Help:      "Compliance cache lookups that invoked the compute function.",
	})

	CacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskengine",
		Name:      "cache_entries",
		Help:      "Live compliance cache entries after the last sweep.",
	})

	RetryAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "riskengine",
		Name:      "retry_attempts_total",
		Help:      "Backoff sleeps performed before re-invoking an operation.",
	})

	AlertsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "riskengine",
		Name:      "alerts_sent_total",
		Help:      "Alerts delivered to the notification collaborator.",
	})

	AlertsSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "riskengine",
		Name:      "alerts_suppressed_total",
		Help:      "Alerts suppressed by the dedupe cool-down window.",
	})

	DeadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "riskengine",
		Name:      "dead_lettered_total",
		Help:      "Events routed to the dead-letter sink by failing stage.",
	}, []string{"stage"})

	DegradedEvaluations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "riskengine",
		Name:      "degraded_evaluations_total",
		Help:      "Evaluations that proceeded without a velocity signal.",
	})
)

// Serve exposes /metrics on addr in a background goroutine.
func Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("Metrics listener failed: %v", err)
		}
	}()
	logger.Infof("Metrics listening on %s", addr)
}
