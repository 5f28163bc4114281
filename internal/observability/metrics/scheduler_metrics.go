package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/quotaguard/pkg/db"
)

const (
	SchedulerJobReasonDeadlineExceeded     = "deadline_exceeded"
	SchedulerJobReasonDBLockTimeout        = "db_lock_timeout"
	SchedulerJobReasonSerializationFailure = "serialization_failure"
	SchedulerJobReasonUniqueViolation      = "unique_violation"
	SchedulerJobReasonStoreUnavailable     = "store_unavailable"
	SchedulerJobReasonUnknown              = "unknown"

	SchedulerBatchDeferredReasonCancelled = "cancelled"
	SchedulerBatchDeferredReasonLockHeld  = "lock_held"
)

const (
	SweepOutcomeUnblocked         = "unblocked"
	SweepOutcomeUnblockFailed     = "unblock_failed"
	SweepOutcomeProtectionCleared = "protection_cleared"
	SweepOutcomeProtectionFailed  = "protection_failed"
	SweepOutcomeNotProcessed      = "not_processed"
)

const (
	LockResourceBlockingState = "blocking_state"
	LockResourceSweep         = "sweep"
)

// SchedulerMetrics captures reset sweep health signals.
type SchedulerMetrics struct {
	jobRuns          *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	jobTimeouts      *prometheus.CounterVec
	jobErrors        *prometheus.CounterVec
	batchProcessed   *prometheus.CounterVec
	batchDeferred    *prometheus.CounterVec
	runLoopLag       prometheus.Observer
	sweepOutcomes    *prometheus.CounterVec
	dbLockWait       *prometheus.HistogramVec
	outcomeCounters  map[string]prometheus.Counter
	lockWaitObserver map[string]prometheus.Observer
}

var (
	schedulerMetricsOnce sync.Once
	schedulerMetrics     *SchedulerMetrics
)

// Scheduler returns the singleton scheduler metrics registry.
func Scheduler() *SchedulerMetrics {
	return SchedulerWithConfig(Config{})
}

// SchedulerWithConfig returns the singleton scheduler metrics registry using config labels.
func SchedulerWithConfig(cfg Config) *SchedulerMetrics {
	schedulerMetricsOnce.Do(func() {
		schedulerMetrics = newSchedulerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return schedulerMetrics
}

// ResetSchedulerMetricsForTest resets the scheduler metrics singleton for tests.
func ResetSchedulerMetricsForTest() {
	schedulerMetricsOnce = sync.Once{}
	schedulerMetrics = nil
}

func newSchedulerMetrics(registerer prometheus.Registerer, cfg Config) *SchedulerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := constLabelsFor(cfg)

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "quotaguard_scheduler_job_runs_total",
		Help:        "Scheduler job runs by name.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "quotaguard_scheduler_job_duration_seconds",
		Help:        "Scheduler job latency.",
		Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300, 600},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "quotaguard_scheduler_job_timeouts_total",
		Help:        "Scheduler jobs that ran out of their time budget.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "quotaguard_scheduler_job_errors_total",
		Help:        "Scheduler job errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	batchProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "quotaguard_scheduler_batch_processed_total",
		Help:        "Scheduler items processed by job and resource.",
		ConstLabels: constLabels,
	}, []string{"job", "resource"})
	batchDeferred := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "quotaguard_scheduler_batch_deferred_total",
		Help:        "Scheduler batch deferrals by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "quotaguard_scheduler_runloop_lag_seconds",
		Help:        "Scheduler run loop lag beyond the planned reset time.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	})
	sweepOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "quotaguard_scheduler_sweep_identities_total",
		Help:        "Identities handled by the reset sweep, by outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	dbLockWait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "quotaguard_scheduler_lock_wait_seconds",
		Help:        "Time spent acquiring row or sweep locks.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		ConstLabels: constLabels,
	}, []string{"resource"})

	jobRuns = registerOrReuse(registerer, jobRuns).(*prometheus.CounterVec)
	jobDuration = registerOrReuse(registerer, jobDuration).(*prometheus.HistogramVec)
	jobTimeouts = registerOrReuse(registerer, jobTimeouts).(*prometheus.CounterVec)
	jobErrors = registerOrReuse(registerer, jobErrors).(*prometheus.CounterVec)
	batchProcessed = registerOrReuse(registerer, batchProcessed).(*prometheus.CounterVec)
	batchDeferred = registerOrReuse(registerer, batchDeferred).(*prometheus.CounterVec)
	runLoopLag = registerOrReuse(registerer, runLoopLag).(prometheus.Histogram)
	sweepOutcomes = registerOrReuse(registerer, sweepOutcomes).(*prometheus.CounterVec)
	dbLockWait = registerOrReuse(registerer, dbLockWait).(*prometheus.HistogramVec)

	outcomeCounters := map[string]prometheus.Counter{}
	for _, outcome := range []string{
		SweepOutcomeUnblocked,
		SweepOutcomeUnblockFailed,
		SweepOutcomeProtectionCleared,
		SweepOutcomeProtectionFailed,
		SweepOutcomeNotProcessed,
	} {
		outcomeCounters[outcome] = sweepOutcomes.WithLabelValues(outcome)
	}

	lockWaitObserver := map[string]prometheus.Observer{
		LockResourceBlockingState: dbLockWait.WithLabelValues(LockResourceBlockingState),
		LockResourceSweep:         dbLockWait.WithLabelValues(LockResourceSweep),
	}

	return &SchedulerMetrics{
		jobRuns:          jobRuns,
		jobDuration:      jobDuration,
		jobTimeouts:      jobTimeouts,
		jobErrors:        jobErrors,
		batchProcessed:   batchProcessed,
		batchDeferred:    batchDeferred,
		runLoopLag:       runLoopLag,
		sweepOutcomes:    sweepOutcomes,
		dbLockWait:       dbLockWait,
		outcomeCounters:  outcomeCounters,
		lockWaitObserver: lockWaitObserver,
	}
}

// IncJobRun increments the run counter for a scheduler job.
func (m *SchedulerMetrics) IncJobRun(job string) {
	if m == nil || m.jobRuns == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

// ObserveJobDuration records scheduler job latency in seconds.
func (m *SchedulerMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil || m.jobDuration == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// IncJobTimeout increments the timeout counter for the scheduler job.
func (m *SchedulerMetrics) IncJobTimeout(job string) {
	if m == nil || m.jobTimeouts == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError increments the scheduler job error counter with classification.
func (m *SchedulerMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil || m.jobErrors == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifySchedulerJobReason(err)).Inc()
}

// AddBatchProcessed increments the processed counter for a resource by count.
func (m *SchedulerMetrics) AddBatchProcessed(job, resource string, count int) {
	if m == nil || count <= 0 || m.batchProcessed == nil {
		return
	}
	m.batchProcessed.WithLabelValues(job, resource).Add(float64(count))
}

// IncBatchDeferred increments the batch deferred counter for a job and reason.
func (m *SchedulerMetrics) IncBatchDeferred(job, reason string) {
	if m == nil || m.batchDeferred == nil {
		return
	}
	m.batchDeferred.WithLabelValues(job, reason).Inc()
}

// ObserveRunLoopLag records lag between the planned reset and the actual run start.
func (m *SchedulerMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil || m.runLoopLag == nil {
		return
	}
	m.runLoopLag.Observe(max(duration, 0).Seconds())
}

// AddSweepOutcome counts identities per sweep outcome.
func (m *SchedulerMetrics) AddSweepOutcome(outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	if counter, ok := m.outcomeCounters[outcome]; ok {
		counter.Add(float64(count))
		return
	}
	m.sweepOutcomes.WithLabelValues(normalizeLabel(outcome)).Add(float64(count))
}

// ObserveDBLockWait records lock acquisition time.
func (m *SchedulerMetrics) ObserveDBLockWait(resource string, duration time.Duration) {
	if m == nil {
		return
	}
	if observer, ok := m.lockWaitObserver[resource]; ok {
		observer.Observe(duration.Seconds())
		return
	}
	m.dbLockWait.WithLabelValues(resource).Observe(duration.Seconds())
}

// ClassifySchedulerJobReason maps scheduler job errors to low-cardinality reasons.
func ClassifySchedulerJobReason(err error) string {
	if err == nil {
		return SchedulerJobReasonUnknown
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return SchedulerJobReasonDeadlineExceeded
	case db.IsLockTimeoutErr(err):
		return SchedulerJobReasonDBLockTimeout
	case db.IsSerializationErr(err) || errors.Is(err, db.ErrSerializationFailure):
		return SchedulerJobReasonSerializationFailure
	case db.IsDuplicateKeyErr(err):
		return SchedulerJobReasonUniqueViolation
	case errors.Is(err, db.ErrStoreUnavailable) || db.IsUnavailableErr(err):
		return SchedulerJobReasonStoreUnavailable
	default:
		return SchedulerJobReasonUnknown
	}
}

// IsSchedulerErrorRetryable reports whether the next tick may succeed where this one failed.
func IsSchedulerErrorRetryable(err error) bool {
	switch ClassifySchedulerJobReason(err) {
	case SchedulerJobReasonDeadlineExceeded,
		SchedulerJobReasonDBLockTimeout,
		SchedulerJobReasonSerializationFailure,
		SchedulerJobReasonStoreUnavailable:
		return true
	default:
		return false
	}
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}
