package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/tally/internal/billingerror"
	"gorm.io/gorm"
)

const (
	JobReasonDeadlineExceeded     = "deadline_exceeded"
	JobReasonSerializationFailure = "serialization_failure"
	JobReasonUniqueViolation      = "unique_violation"
	JobReasonBusinessRule         = "business_rule"
	JobReasonDB                   = "db"
	JobReasonUnknown              = "unknown"
)

// SchedulerMetrics are exported through the Prometheus registry served on /metrics.
type SchedulerMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobTimeouts    *prometheus.CounterVec
	jobErrors      *prometheus.CounterVec
	batchProcessed *prometheus.CounterVec
	runLoopLag     prometheus.Histogram
}

func NewSchedulerMetrics(cfg Config) *SchedulerMetrics {
	return newSchedulerMetrics(prometheus.DefaultRegisterer, cfg)
}

func newSchedulerMetrics(registerer prometheus.Registerer, cfg Config) *SchedulerMetrics {
	service := strings.TrimSpace(cfg.ServiceName)
	if service == "" {
		service = "tally"
	}
	env := strings.TrimSpace(cfg.Environment)
	if env == "" {
		env = "unknown"
	}
	constLabels := prometheus.Labels{"service": service, "env": env}

	m := &SchedulerMetrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "tally_scheduler_job_runs_total",
			Help:        "Scheduler job runs by name.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "tally_scheduler_job_duration_seconds",
			Help:        "Scheduler job latency.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "tally_scheduler_job_timeouts_total",
			Help:        "Scheduler jobs that hit their deadline.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "tally_scheduler_job_errors_total",
			Help:        "Scheduler job errors by low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
		batchProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "tally_scheduler_batch_processed_total",
			Help:        "Items handled by scheduler jobs.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		runLoopLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "tally_scheduler_runloop_lag_seconds",
			Help:        "Delay between the scheduled tick and the start of a run.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			ConstLabels: constLabels,
		}),
	}

	registerer.MustRegister(m.jobRuns, m.jobDuration, m.jobTimeouts, m.jobErrors, m.batchProcessed, m.runLoopLag)
	return m
}

func (m *SchedulerMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *SchedulerMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyJobError(err)).Inc()
}

func (m *SchedulerMetrics) AddBatchProcessed(job string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.batchProcessed.WithLabelValues(job).Add(float64(count))
}

func (m *SchedulerMetrics) ObserveRunLoopLag(d time.Duration) {
	if m == nil {
		return
	}
	m.runLoopLag.Observe(max(d, 0).Seconds())
}

// ClassifyJobError maps a job failure to a metric reason label.
func ClassifyJobError(err error) string {
	if err == nil {
		return JobReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return JobReasonDeadlineExceeded
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001":
			return JobReasonSerializationFailure
		case "23505":
			return JobReasonUniqueViolation
		}
		return JobReasonDB
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return JobReasonUniqueViolation
	}
	if _, ok := billingerror.KindOf(err); ok {
		return JobReasonBusinessRule
	}
	return JobReasonUnknown
}
