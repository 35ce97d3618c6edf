package services

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	metricsOnce sync.Once

	JobsResumed        = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pipeline_job_resumes_total", Help: "Job resume invocations by job type and trigger"}, []string{"type", "source"})
	OCRHandlesPolled   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pipeline_ocr_polls_total", Help: "OCR handle polls by result"}, []string{"result"})
	ReconcileOutcomes  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pipeline_reconcile_outcomes_total", Help: "Stale job reconciliation outcomes"}, []string{"outcome"})
	AssessmentStrategy = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "assessment_strategy_total", Help: "Assessments by strategy used"}, []string{"strategy"})
	BreakerOpen        = prometheus.NewGauge(prometheus.GaugeOpts{Name: "assessment_breaker_open", Help: "1 while the AI circuit breaker is open"})
)

// MetricsHandler exposes the pipeline metrics with a singleton registry.
func MetricsHandler() http.Handler {
	metricsOnce.Do(func() {
		prometheus.MustRegister(
			JobsResumed,
			OCRHandlesPolled,
			ReconcileOutcomes,
			AssessmentStrategy,
			BreakerOpen,
		)
	})
	return promhttp.Handler()
}
