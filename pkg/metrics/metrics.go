// Package metrics exposes the backplane's Prometheus instrumentation.
// Every subsystem records through the package-level Record* functions
// rather than holding its own collector references, so a single
// /metrics endpoint (see server.go) always reflects the whole process.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PDP

	PDPDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pdp_decisions_total",
		Help: "Total PDP evaluate() decisions by outcome.",
	}, []string{"decision"})

	PDPEvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pdp_evaluation_duration_seconds",
		Help:    "Duration of PDP evaluate() calls.",
		Buckets: prometheus.DefBuckets,
	})

	RateLimitExceededTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rate_limit_exceeded_total",
		Help: "Total requests denied by the rate limiter, by endpoint.",
	}, []string{"endpoint"})

	ContentViolationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "content_violations_total",
		Help: "Total content scan violations by severity.",
	}, []string{"severity"})

	// Hydration

	HydrationRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hydration_runs_total",
		Help: "Total hydration runs by terminal status.",
	}, []string{"status"})

	HydrationRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hydration_run_duration_seconds",
		Help:    "Duration of a full hydrate_workspace invocation.",
		Buckets: prometheus.DefBuckets,
	})

	HydrationFilesProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hydration_files_processed_total",
		Help: "Total files processed by action (skip, new, update, delete).",
	}, []string{"action"})

	HydrationAlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hydration_alerts_total",
		Help: "Total hydration alerts raised by category.",
	}, []string{"category", "severity"})

	// ULE

	ULELinksCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ule_links_created_total",
		Help: "Total links created by pack and link type.",
	}, []string{"pack", "link_type"})

	ULEEntitiesExtractedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ule_entities_extracted_total",
		Help: "Total entities extracted by pack and entity type.",
	}, []string{"pack", "entity_type"})

	// Regression guard

	RegressionChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "regression_checks_total",
		Help: "Total regression checks by component and outcome.",
	}, []string{"component", "passed"})

	RegressionPromotionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "regression_promotions_total",
		Help: "Total component promotions.",
	}, []string{"component"})
)

// RecordPDPDecision increments the decision counter and observes the
// evaluation's wall-clock duration.
func RecordPDPDecision(decision string, duration time.Duration) {
	PDPDecisionsTotal.WithLabelValues(decision).Inc()
	PDPEvaluationDuration.Observe(duration.Seconds())
}

// RecordRateLimitExceeded increments the rate-limit-denied counter.
func RecordRateLimitExceeded(endpoint string) {
	RateLimitExceededTotal.WithLabelValues(endpoint).Inc()
}

// RecordContentViolation increments the content-scan violation counter.
func RecordContentViolation(severity string) {
	ContentViolationsTotal.WithLabelValues(severity).Inc()
}

// RecordHydrationRun increments the run counter and observes duration.
func RecordHydrationRun(status string, duration time.Duration) {
	HydrationRunsTotal.WithLabelValues(status).Inc()
	HydrationRunDuration.Observe(duration.Seconds())
}

// RecordHydrationFile increments the per-item action counter.
func RecordHydrationFile(action string) {
	HydrationFilesProcessedTotal.WithLabelValues(action).Inc()
}

// RecordHydrationAlert increments the alert counter.
func RecordHydrationAlert(category, severity string) {
	HydrationAlertsTotal.WithLabelValues(category, severity).Inc()
}

// RecordULELink increments the link-creation counter.
func RecordULELink(pack, linkType string) {
	ULELinksCreatedTotal.WithLabelValues(pack, linkType).Inc()
}

// RecordULEEntity increments the entity-extraction counter.
func RecordULEEntity(pack, entityType string) {
	ULEEntitiesExtractedTotal.WithLabelValues(pack, entityType).Inc()
}

// RecordRegressionCheck increments the regression-check counter.
func RecordRegressionCheck(component string, passed bool) {
	RegressionChecksTotal.WithLabelValues(component, boolLabel(passed)).Inc()
}

// RecordRegressionPromotion increments the promotion counter.
func RecordRegressionPromotion(component string) {
	RegressionPromotionsTotal.WithLabelValues(component).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
