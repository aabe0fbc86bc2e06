package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := InitMetrics(reg)
	return m, reg
}

func TestInitMetrics_registersAllMetrics(t *testing.T) {
	m, reg := newTestMetrics(t)
	if m == nil {
		t.Fatal("InitMetrics returned nil")
	}

	expected := []string{
		"caseflow_stage_completions_total",
		"caseflow_case_finalizations_total",
		"caseflow_case_rejections_total",
		"caseflow_transition_duration_seconds",
		"caseflow_ledger_rebuilds_total",
		"caseflow_sequence_repairs_total",
		"caseflow_ledger_sync_changes_total",
		"caseflow_sync_runs_total",
		"caseflow_cases_synced_total",
		"caseflow_sync_batch_size",
		"caseflow_document_write_fallbacks_total",
		"caseflow_definitions_loaded",
		"caseflow_notifications_dropped_total",
	}

	// Record a value for each metric so they appear in Gather.
	m.RecordStageCompletion("wf-1", "by_stage_order")
	m.RecordCaseFinalization("wf-1", "Completed")
	m.RecordCaseRejection("wf-1", "rejected")
	m.RecordTransitionDuration("complete_current_stage", time.Millisecond)
	m.RecordLedgerRebuild()
	m.RecordSequenceRepair()
	m.RecordLedgerSyncChange("wf-1")
	m.RecordSyncRun("success", 10)
	m.RecordCaseSynced("updated")
	m.RecordDocumentWriteFallback()
	m.SetDefinitionsLoaded(3)
	m.RecordNotificationDropped()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestRecordStageCompletion(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordStageCompletion("onboarding", "by_stage_order")
	m.RecordStageCompletion("onboarding", "by_stage_order")
	m.RecordStageCompletion("onboarding", "by_completed_count")

	val := testutil.ToFloat64(m.StageCompletionsTotal.WithLabelValues("onboarding", "by_stage_order"))
	if val != 2 {
		t.Errorf("by_stage_order completions = %v, want 2", val)
	}
	val = testutil.ToFloat64(m.StageCompletionsTotal.WithLabelValues("onboarding", "by_completed_count"))
	if val != 1 {
		t.Errorf("by_completed_count completions = %v, want 1", val)
	}
}

func TestRecordCaseFinalization(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordCaseFinalization("onboarding", "Completed")
	m.RecordCaseFinalization("onboarding", "ForceCompleted")

	completed := testutil.ToFloat64(m.CaseFinalizationsTotal.WithLabelValues("onboarding", "Completed"))
	if completed != 1 {
		t.Errorf("Completed count = %v, want 1", completed)
	}
	forced := testutil.ToFloat64(m.CaseFinalizationsTotal.WithLabelValues("onboarding", "ForceCompleted"))
	if forced != 1 {
		t.Errorf("ForceCompleted count = %v, want 1", forced)
	}
}

func TestRecordCaseRejection(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordCaseRejection("onboarding", "rejected")
	m.RecordCaseRejection("onboarding", "terminated")
	m.RecordCaseRejection("onboarding", "terminated")

	rejected := testutil.ToFloat64(m.CaseRejectionsTotal.WithLabelValues("onboarding", "rejected"))
	if rejected != 1 {
		t.Errorf("rejected count = %v, want 1", rejected)
	}
	terminated := testutil.ToFloat64(m.CaseRejectionsTotal.WithLabelValues("onboarding", "terminated"))
	if terminated != 2 {
		t.Errorf("terminated count = %v, want 2", terminated)
	}
}

func TestRecordTransitionDuration(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordTransitionDuration("complete_stage", 50*time.Millisecond)

	count := testutil.CollectAndCount(m.TransitionDuration)
	if count == 0 {
		t.Error("expected transition duration histogram to have observations")
	}
}

func TestRecordLedgerCounters(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordLedgerRebuild()
	m.RecordLedgerRebuild()
	m.RecordSequenceRepair()
	m.RecordLedgerSyncChange("onboarding")

	rebuilds := testutil.ToFloat64(m.LedgerRebuildsTotal)
	if rebuilds != 2 {
		t.Errorf("ledger rebuilds = %v, want 2", rebuilds)
	}
	repairs := testutil.ToFloat64(m.SequenceRepairsTotal)
	if repairs != 1 {
		t.Errorf("sequence repairs = %v, want 1", repairs)
	}
	changes := testutil.ToFloat64(m.LedgerSyncChangesTotal.WithLabelValues("onboarding"))
	if changes != 1 {
		t.Errorf("sync changes = %v, want 1", changes)
	}
}

func TestRecordSyncRun(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordSyncRun("success", 25)
	m.RecordSyncRun("partial_failure", 10)

	success := testutil.ToFloat64(m.SyncRunsTotal.WithLabelValues("success"))
	if success != 1 {
		t.Errorf("success runs = %v, want 1", success)
	}
	partial := testutil.ToFloat64(m.SyncRunsTotal.WithLabelValues("partial_failure"))
	if partial != 1 {
		t.Errorf("partial_failure runs = %v, want 1", partial)
	}
	count := testutil.CollectAndCount(m.SyncBatchSize)
	if count == 0 {
		t.Error("expected sync batch size histogram to have observations")
	}
}

func TestRecordCaseSynced(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordCaseSynced("updated")
	m.RecordCaseSynced("unchanged")
	m.RecordCaseSynced("unchanged")
	m.RecordCaseSynced("failed")

	unchanged := testutil.ToFloat64(m.CasesSyncedTotal.WithLabelValues("unchanged"))
	if unchanged != 2 {
		t.Errorf("unchanged count = %v, want 2", unchanged)
	}
	failed := testutil.ToFloat64(m.CasesSyncedTotal.WithLabelValues("failed"))
	if failed != 1 {
		t.Errorf("failed count = %v, want 1", failed)
	}
}

func TestRecordDocumentWriteFallback(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordDocumentWriteFallback()
	val := testutil.ToFloat64(m.DocumentWriteFallbacksTotal)
	if val != 1 {
		t.Errorf("fallbacks = %v, want 1", val)
	}
}

func TestSetDefinitionsLoaded(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.SetDefinitionsLoaded(5)
	val := testutil.ToFloat64(m.DefinitionsLoaded)
	if val != 5 {
		t.Errorf("definitions loaded = %v, want 5", val)
	}

	m.SetDefinitionsLoaded(10)
	val = testutil.ToFloat64(m.DefinitionsLoaded)
	if val != 10 {
		t.Errorf("definitions loaded = %v, want 10", val)
	}
}

func TestRecordNotificationDropped(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordNotificationDropped()
	m.RecordNotificationDropped()
	val := testutil.ToFloat64(m.NotificationsDroppedTotal)
	if val != 2 {
		t.Errorf("dropped notifications = %v, want 2", val)
	}
}

func TestHandler_servesMetrics(t *testing.T) {
	handler := Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	// Prometheus handler should return at least go runtime metrics.
	if !strings.Contains(body, "go_") {
		t.Error("metrics response should contain go runtime metrics")
	}
}

func TestHistogramBuckets(t *testing.T) {
	if len(transitionDurationBuckets) != 9 {
		t.Errorf("transitionDurationBuckets length = %d, want 9", len(transitionDurationBuckets))
	}
	if len(syncBatchBuckets) != 7 {
		t.Errorf("syncBatchBuckets length = %d, want 7", len(syncBatchBuckets))
	}

	// Verify buckets are sorted ascending.
	for i := 1; i < len(transitionDurationBuckets); i++ {
		if transitionDurationBuckets[i] <= transitionDurationBuckets[i-1] {
			t.Errorf("transitionDurationBuckets not sorted at index %d", i)
		}
	}
}
