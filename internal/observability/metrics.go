package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	transitionDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	syncBatchBuckets          = []float64{1, 5, 10, 25, 50, 100, 250}
)

// Metrics holds all Prometheus metric instruments for the case engine.
type Metrics struct {
	// Transition metrics
	StageCompletionsTotal  *prometheus.CounterVec
	CaseFinalizationsTotal *prometheus.CounterVec
	CaseRejectionsTotal    *prometheus.CounterVec
	TransitionDuration     *prometheus.HistogramVec

	// Ledger metrics
	LedgerRebuildsTotal    prometheus.Counter
	SequenceRepairsTotal   prometheus.Counter
	LedgerSyncChangesTotal *prometheus.CounterVec

	// Workflow sync metrics
	SyncRunsTotal    *prometheus.CounterVec
	CasesSyncedTotal *prometheus.CounterVec
	SyncBatchSize    prometheus.Histogram

	// Store metrics
	DocumentWriteFallbacksTotal prometheus.Counter

	// System metrics
	DefinitionsLoaded         prometheus.Gauge
	NotificationsDroppedTotal prometheus.Counter
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// Transitions
		StageCompletionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseflow_stage_completions_total",
			Help: "Total number of stage completions.",
		}, []string{"workflow_id", "mode"}),
		CaseFinalizationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseflow_case_finalizations_total",
			Help: "Total number of cases reaching a terminal status.",
		}, []string{"workflow_id", "final_status"}),
		CaseRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseflow_case_rejections_total",
			Help: "Total number of case rejections and terminations.",
		}, []string{"workflow_id", "outcome"}),
		TransitionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "caseflow_transition_duration_seconds",
			Help:    "Stage transition duration in seconds, persistence included.",
			Buckets: transitionDurationBuckets,
		}, []string{"operation"}),

		// Ledger
		LedgerRebuildsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "caseflow_ledger_rebuilds_total",
			Help: "Total ledgers rebuilt after a document decode failure.",
		}),
		SequenceRepairsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "caseflow_sequence_repairs_total",
			Help: "Total ledgers whose stage order sequence was repaired.",
		}),
		LedgerSyncChangesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseflow_ledger_sync_changes_total",
			Help: "Total ledgers structurally changed by definition sync.",
		}, []string{"workflow_id"}),

		// Workflow sync
		SyncRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseflow_sync_runs_total",
			Help: "Total workflow synchronization runs.",
		}, []string{"status"}),
		CasesSyncedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caseflow_cases_synced_total",
			Help: "Total cases processed by workflow synchronization.",
		}, []string{"result"}),
		SyncBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "caseflow_sync_batch_size",
			Help:    "Number of cases processed per workflow sync run.",
			Buckets: syncBatchBuckets,
		}),

		// Store
		DocumentWriteFallbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "caseflow_document_write_fallbacks_total",
			Help: "Total progress document writes that used the literal-substitution fallback.",
		}),

		// System
		DefinitionsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "caseflow_definitions_loaded",
			Help: "Number of loaded workflow templates.",
		}),
		NotificationsDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "caseflow_notifications_dropped_total",
			Help: "Total stage-completed notifications dropped on a full queue.",
		}),
	}

	reg.MustRegister(
		// Transitions
		m.StageCompletionsTotal,
		m.CaseFinalizationsTotal,
		m.CaseRejectionsTotal,
		m.TransitionDuration,
		// Ledger
		m.LedgerRebuildsTotal,
		m.SequenceRepairsTotal,
		m.LedgerSyncChangesTotal,
		// Workflow sync
		m.SyncRunsTotal,
		m.CasesSyncedTotal,
		m.SyncBatchSize,
		// Store
		m.DocumentWriteFallbacksTotal,
		// System
		m.DefinitionsLoaded,
		m.NotificationsDroppedTotal,
	)

	return m
}

// --- Recording helpers ---

// RecordStageCompletion records a stage completion with the completion-rate
// mode that was authoritative for it.
func (m *Metrics) RecordStageCompletion(workflowID, mode string) {
	m.StageCompletionsTotal.WithLabelValues(workflowID, mode).Inc()
}

// RecordCaseFinalization records a case reaching a terminal status.
func (m *Metrics) RecordCaseFinalization(workflowID, finalStatus string) {
	m.CaseFinalizationsTotal.WithLabelValues(workflowID, finalStatus).Inc()
}

// RecordCaseRejection records a reject or terminate outcome.
func (m *Metrics) RecordCaseRejection(workflowID, outcome string) {
	m.CaseRejectionsTotal.WithLabelValues(workflowID, outcome).Inc()
}

// RecordTransitionDuration records how long a transition operation took.
func (m *Metrics) RecordTransitionDuration(operation string, duration time.Duration) {
	m.TransitionDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordLedgerRebuild records a ledger rebuilt after decode failure.
func (m *Metrics) RecordLedgerRebuild() {
	m.LedgerRebuildsTotal.Inc()
}

// RecordSequenceRepair records a repaired stage order sequence.
func (m *Metrics) RecordSequenceRepair() {
	m.SequenceRepairsTotal.Inc()
}

// RecordLedgerSyncChange records a ledger structurally changed by sync.
func (m *Metrics) RecordLedgerSyncChange(workflowID string) {
	m.LedgerSyncChangesTotal.WithLabelValues(workflowID).Inc()
}

// RecordSyncRun records a workflow synchronization run.
func (m *Metrics) RecordSyncRun(status string, batchSize int) {
	m.SyncRunsTotal.WithLabelValues(status).Inc()
	m.SyncBatchSize.Observe(float64(batchSize))
}

// RecordCaseSynced records one case processed by workflow sync.
func (m *Metrics) RecordCaseSynced(result string) {
	m.CasesSyncedTotal.WithLabelValues(result).Inc()
}

// RecordDocumentWriteFallback records a fallback document write.
func (m *Metrics) RecordDocumentWriteFallback() {
	m.DocumentWriteFallbacksTotal.Inc()
}

// RecordNotificationDropped records a dropped stage-completed notification.
func (m *Metrics) RecordNotificationDropped() {
	m.NotificationsDroppedTotal.Inc()
}

// SetDefinitionsLoaded sets the number of loaded workflow templates.
func (m *Metrics) SetDefinitionsLoaded(count float64) {
	m.DefinitionsLoaded.Set(count)
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
