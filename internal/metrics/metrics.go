package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	RunsEnqueued    prometheus.Counter
	RunConflicts    prometheus.Counter
	RunsDispatched  prometheus.Counter
	RunsFinalized   *prometheus.CounterVec
	RunsCanceled    prometheus.Counter
	MessagesScanned prometheus.Counter
	ItemsDiscovered prometheus.Counter
	JobsClaimed     prometheus.Counter
	ClaimsLost      prometheus.Counter
	JobOutcomes     *prometheus.CounterVec
	StaleRequeued   prometheus.Counter
	ParseDuration   prometheus.Histogram
	SliceDuration   prometheus.Histogram
}

// NewMetrics creates the metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in production.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "resume_import_runs_enqueued_total",
			Help: "Total number of import runs enqueued",
		}),
		RunConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "resume_import_run_conflicts_total",
			Help: "Total number of enqueue attempts rejected because a run was already active",
		}),
		RunsDispatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "resume_import_runs_dispatched_total",
			Help: "Total number of runs promoted from enqueued to running",
		}),
		RunsFinalized: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "resume_import_runs_finalized_total",
			Help: "Total number of runs finalized, by terminal status",
		}, []string{"status"}),
		RunsCanceled: factory.NewCounter(prometheus.CounterOpts{
			Name: "resume_import_runs_canceled_total",
			Help: "Total number of runs canceled",
		}),
		MessagesScanned: factory.NewCounter(prometheus.CounterOpts{
			Name: "resume_import_messages_scanned_total",
			Help: "Total number of mailbox messages walked by scans",
		}),
		ItemsDiscovered: factory.NewCounter(prometheus.CounterOpts{
			Name: "resume_import_items_discovered_total",
			Help: "Total number of resume attachments discovered",
		}),
		JobsClaimed: factory.NewCounter(prometheus.CounterOpts{
			Name: "resume_import_ai_jobs_claimed_total",
			Help: "Total number of AI jobs claimed by workers",
		}),
		ClaimsLost: factory.NewCounter(prometheus.CounterOpts{
			Name: "resume_import_ai_job_claims_lost_total",
			Help: "Total number of claim attempts lost to another worker",
		}),
		JobOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "resume_import_ai_job_outcomes_total",
			Help: "Total number of AI job outcomes, by outcome",
		}, []string{"outcome"}),
		StaleRequeued: factory.NewCounter(prometheus.CounterOpts{
			Name: "resume_import_ai_jobs_stale_requeued_total",
			Help: "Total number of abandoned processing jobs released for retry",
		}),
		ParseDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "resume_import_parse_duration_seconds",
			Help:    "Time spent in the resume parser per attempt",
			Buckets: prometheus.DefBuckets,
		}),
		SliceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "resume_import_worker_slice_duration_seconds",
			Help:    "Time spent per worker slice",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
