package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Метрики Conveyor. Регистрируются в default registry при импорте пакета.
var (
	ExecutionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_executions_started_total",
		Help: "Executions created, by pipeline and trigger source.",
	}, []string{"pipeline", "source"})

	ExecutionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_executions_finished_total",
		Help: "Executions that reached a terminal status.",
	}, []string{"pipeline", "status"})

	StageInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_stage_invocations_total",
		Help: "Stage invocations by result (started, skipped, completed, error).",
	}, []string{"stage", "result"})

	StagePolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_stage_polls_total",
		Help: "Poll checks by outcome (pending, complete, failed, error).",
	}, []string{"stage", "outcome"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "conveyor_stage_duration_seconds",
		Help:    "Time from stage invoke to stage completion.",
		Buckets: []float64{1, 10, 30, 60, 300, 900, 1800, 3600, 7200, 14400},
	}, []string{"stage"})

	SchedulerTriggers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_scheduler_triggers_total",
		Help: "Executions created by the scheduler.",
	}, []string{"pipeline", "result"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_http_requests_total",
		Help: "API requests by method and status code.",
	}, []string{"method", "code"})

	HTTPLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "conveyor_http_request_duration_seconds",
		Help:    "API request latency.",
		Buckets: prometheus.DefBuckets,
	})
)

// ObserveStageDuration записывает длительность стадии, если начало известно.
func ObserveStageDuration(stage string, started, finished time.Time) {
	if started.IsZero() || finished.Before(started) {
		return
	}
	StageDuration.WithLabelValues(stage).Observe(finished.Sub(started).Seconds())
}

// MetricsHandler возвращает handler для /metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
