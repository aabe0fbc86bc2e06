package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/caseflow-io/caseflow/internal/observability"
	"github.com/caseflow-io/caseflow/internal/progress"
	"github.com/caseflow-io/caseflow/model"
)

// SyncReport summarizes one background synchronization pass over a workflow.
type SyncReport struct {
	WorkflowID string `json:"workflow_id"`
	Total      int    `json:"total"`
	Updated    int    `json:"updated"`
	Unchanged  int    `json:"unchanged"`
	Failed     int    `json:"failed"`
}

// SyncWorkflow reconciles every open case of a workflow against the
// workflow's current stage definitions. It runs after a workflow edit so
// in-flight cases pick up added, removed, or reordered stages without
// waiting for their next read. Per-case failures are logged and counted;
// the pass continues to the end.
//
// In emergency mode the ledger is re-encoded and written even when the
// reconciliation found nothing to change, repairing documents corrupted by
// out-of-band writes.
func (e *Engine) SyncWorkflow(ctx context.Context, tenantID, workflowID string) (_ SyncReport, err error) {
	ctx, span := observability.StartSpan(ctx, "engine.sync_workflow",
		observability.AttrTenantID.String(tenantID),
		observability.AttrWorkflowID.String(workflowID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	report := SyncReport{WorkflowID: workflowID}

	if !e.syncCfg.Enabled {
		e.logger.Debug("workflow sync disabled, skipping",
			zap.String("workflow_id", workflowID),
		)
		return report, nil
	}

	// 1. Resolve the authoritative stage order once for the whole batch.
	defs, err := e.stages.GetOrderedStages(ctx, workflowID)
	if err != nil {
		return report, err
	}

	// 2. Collect the batch.
	cases, err := e.store.ListByWorkflow(ctx, tenantID, workflowID, e.syncCfg.MaxBatchSize)
	if err != nil {
		return report, err
	}
	report.Total = len(cases)

	// 3. Reconcile each case independently.
	for i := range cases {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
		}

		c := cases[i]
		if isClosedForSync(c.Status) {
			report.Unchanged++
			continue
		}

		entries, ok := progress.DecodeLedger(c.ProgressDocument, e.logger)
		if !ok && e.metrics != nil {
			e.metrics.RecordLedgerRebuild()
		}
		synced, changed := e.sync.Sync(c.ID, entries, defs, e.now())
		if !changed && !e.syncCfg.EmergencyMode {
			report.Unchanged++
			if e.metrics != nil {
				e.metrics.RecordCaseSynced("unchanged")
			}
			continue
		}

		doc, err := progress.EncodeLedger(synced)
		if err != nil {
			report.Failed++
			if e.metrics != nil {
				e.metrics.RecordCaseSynced("failed")
			}
			e.logger.Error("encoding reconciled ledger failed",
				zap.String("case_id", c.ID),
				zap.String("workflow_id", workflowID),
				zap.Error(err),
			)
			continue
		}

		c.StagesProgress = synced
		c.UpdatedAt = e.now()
		if err := e.store.UpdateCase(ctx, c, doc); err != nil {
			report.Failed++
			if e.metrics != nil {
				e.metrics.RecordCaseSynced("failed")
			}
			e.logger.Error("persisting reconciled ledger failed",
				zap.String("case_id", c.ID),
				zap.String("workflow_id", workflowID),
				zap.Error(err),
			)
			continue
		}

		report.Updated++
		if e.metrics != nil {
			e.metrics.RecordCaseSynced("updated")
			e.metrics.RecordLedgerSyncChange(workflowID)
		}
		if e.syncCfg.DetailedLogging {
			e.logger.Info("case ledger reconciled",
				zap.String("case_id", c.ID),
				zap.String("workflow_id", workflowID),
				zap.Int("entries", len(synced)),
			)
		}
	}

	// 4. Record the pass.
	status := "success"
	if report.Failed > 0 {
		status = "partial_failure"
	}
	if e.metrics != nil {
		e.metrics.RecordSyncRun(status, report.Total)
	}
	e.logger.Info("workflow sync pass finished",
		zap.String("workflow_id", workflowID),
		zap.String("tenant_id", tenantID),
		zap.Int("total", report.Total),
		zap.Int("updated", report.Updated),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// isClosedForSync reports whether a case is closed to background
// reconciliation. Closed cases keep their ledger frozen as written.
func isClosedForSync(status string) bool {
	switch status {
	case model.CaseStatusCompleted, model.CaseStatusCancelled,
		model.CaseStatusRejected, model.CaseStatusTerminated,
		model.CaseStatusAborted, model.CaseStatusForceCompleted:
		return true
	}
	return false
}
