package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/caseflow-io/caseflow/internal/config"
	"github.com/caseflow-io/caseflow/model"
)

func syncEnabled() config.SyncConfig {
	return config.SyncConfig{Enabled: true, MaxBatchSize: 100}
}

func TestSyncWorkflow_reconcilesOpenCases(t *testing.T) {
	f := newFixture(t, WithSyncOptions(syncEnabled()))
	ctx := context.Background()

	a := f.createCase(t)
	b := f.createCase(t)

	// The workflow gains a stage after both cases started.
	defs := append(testStages(), model.StageDefinition{
		ID: "stage-activation", Name: "Activation", Order: 4,
	})
	f.source.SetStages(testWorkflow, defs)

	report, err := f.engine.SyncWorkflow(ctx, testTenant, testWorkflow)
	if err != nil {
		t.Fatalf("SyncWorkflow() error = %v", err)
	}
	if report.Total != 2 || report.Updated != 2 || report.Failed != 0 {
		t.Errorf("report = %+v, want total 2, updated 2, failed 0", report)
	}

	for _, id := range []string{a.ID, b.ID} {
		doc := f.store.RawDocument(id)
		if !strings.Contains(string(doc), "stage-activation") {
			t.Errorf("case %s ledger missing the added stage", id)
		}
	}
}

func TestSyncWorkflow_unchangedCasesAreCounted(t *testing.T) {
	f := newFixture(t, WithSyncOptions(syncEnabled()))
	f.createCase(t)

	report, err := f.engine.SyncWorkflow(context.Background(), testTenant, testWorkflow)
	if err != nil {
		t.Fatalf("SyncWorkflow() error = %v", err)
	}
	if report.Updated != 0 || report.Unchanged != 1 {
		t.Errorf("report = %+v, want updated 0, unchanged 1", report)
	}
}

func TestSyncWorkflow_skipsClosedCases(t *testing.T) {
	f := newFixture(t, WithSyncOptions(syncEnabled()))
	ctx := context.Background()

	c := f.createCase(t)
	if _, err := f.engine.Cancel(ctx, testTenant, c.ID, "dropped"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	before := f.store.RawDocument(c.ID)

	f.source.SetStages(testWorkflow, append(testStages(), model.StageDefinition{
		ID: "stage-extra", Name: "Extra", Order: 4,
	}))

	report, err := f.engine.SyncWorkflow(ctx, testTenant, testWorkflow)
	if err != nil {
		t.Fatalf("SyncWorkflow() error = %v", err)
	}
	if report.Updated != 0 {
		t.Errorf("report.Updated = %d, want 0 for a closed case", report.Updated)
	}
	after := f.store.RawDocument(c.ID)
	if string(before) != string(after) {
		t.Error("closed case ledger was rewritten by the sync pass")
	}
}

func TestSyncWorkflow_disabledIsNoOp(t *testing.T) {
	f := newFixture(t, WithSyncOptions(config.SyncConfig{Enabled: false}))
	f.createCase(t)

	report, err := f.engine.SyncWorkflow(context.Background(), testTenant, testWorkflow)
	if err != nil {
		t.Fatalf("SyncWorkflow() error = %v", err)
	}
	if report.Total != 0 {
		t.Errorf("report.Total = %d, want 0 when sync is disabled", report.Total)
	}
}

func TestSyncWorkflow_emergencyModeRewritesUnchanged(t *testing.T) {
	cfg := syncEnabled()
	cfg.EmergencyMode = true
	f := newFixture(t, WithSyncOptions(cfg))
	f.createCase(t)

	report, err := f.engine.SyncWorkflow(context.Background(), testTenant, testWorkflow)
	if err != nil {
		t.Fatalf("SyncWorkflow() error = %v", err)
	}
	if report.Updated != 1 {
		t.Errorf("report.Updated = %d, want 1 in emergency mode", report.Updated)
	}
}

func TestSyncWorkflow_honorsBatchLimit(t *testing.T) {
	cfg := syncEnabled()
	cfg.MaxBatchSize = 2
	f := newFixture(t, WithSyncOptions(cfg))

	for i := 0; i < 5; i++ {
		f.createCase(t)
	}
	f.source.SetStages(testWorkflow, append(testStages(), model.StageDefinition{
		ID: "stage-extra", Name: "Extra", Order: 4,
	}))

	report, err := f.engine.SyncWorkflow(context.Background(), testTenant, testWorkflow)
	if err != nil {
		t.Fatalf("SyncWorkflow() error = %v", err)
	}
	if report.Total != 2 {
		t.Errorf("report.Total = %d, want 2 (batch limit)", report.Total)
	}
}

func TestSyncWorkflow_unknownWorkflow(t *testing.T) {
	f := newFixture(t, WithSyncOptions(syncEnabled()))

	_, err := f.engine.SyncWorkflow(context.Background(), testTenant, "wf-missing")
	if got := errCode(t, err); got != model.ErrNotFound {
		t.Errorf("error code = %q, want %q", got, model.ErrNotFound)
	}
}

func TestChannelNotifier_dropsWhenFull(t *testing.T) {
	dropped := 0
	n := NewChannelNotifier(1, nil, func() { dropped++ })

	n.StageCompleted(model.StageCompletedEvent{EventID: "1"})
	n.StageCompleted(model.StageCompletedEvent{EventID: "2"})

	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
	event := <-n.Events()
	if event.EventID != "1" {
		t.Errorf("delivered EventID = %q, want the first event", event.EventID)
	}
}
