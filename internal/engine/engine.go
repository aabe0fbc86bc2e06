// Package engine drives cases through the ordered stages of their workflow:
// creating the stage ledger, completing stages sequentially or out of order,
// rejecting and terminating cases, and finalizing them when the last stage
// completes.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caseflow-io/caseflow/internal/config"
	"github.com/caseflow-io/caseflow/internal/observability"
	"github.com/caseflow-io/caseflow/internal/progress"
	"github.com/caseflow-io/caseflow/internal/store"
	"github.com/caseflow-io/caseflow/model"
)

// Engine manages the lifecycle of cases.
type Engine struct {
	store    store.CaseStore
	stages   store.StageDefinitionSource
	sync     *progress.Synchronizer
	notifier Notifier
	metrics  *observability.Metrics
	logger   *zap.Logger
	guard    *initGuard
	syncCfg  config.SyncConfig

	// now is swapped in tests for deterministic timestamps.
	now func() time.Time
}

// Option configures optional Engine collaborators.
type Option func(*Engine)

// WithNotifier sets the stage-completed event sink.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithMetrics sets the metrics instruments.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithSyncOptions sets the background synchronization policy.
func WithSyncOptions(cfg config.SyncConfig) Option {
	return func(e *Engine) { e.syncCfg = cfg }
}

// NewEngine creates a new case engine.
func NewEngine(cs store.CaseStore, src store.StageDefinitionSource, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		store:    cs,
		stages:   src,
		sync:     progress.NewSynchronizer(logger),
		notifier: NopNotifier{},
		logger:   logger,
		guard:    newInitGuard(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateCase creates a new case with a fresh ledger built from the
// workflow's current stage definitions. The first stage starts in progress
// and current; the case itself stays inactive until started.
func (e *Engine) CreateCase(ctx context.Context, c model.Case) (model.Case, error) {
	// 1. Validate identity fields.
	if c.TenantID == "" || c.WorkflowID == "" {
		return model.Case{}, model.NewInvalidArgumentError("tenant_id and workflow_id are required")
	}

	// 2. Resolve the workflow's ordered stages.
	defs, err := e.stages.GetOrderedStages(ctx, c.WorkflowID)
	if err != nil {
		return model.Case{}, err
	}
	if len(defs) == 0 {
		return model.Case{}, model.NewBusinessRuleViolationError(
			fmt.Sprintf("workflow %q has no stages", c.WorkflowID),
		)
	}

	// 3. Build the initial ledger.
	now := e.now()
	entries := e.sync.Build(defs, now)

	// 4. Fill case defaults and the stage pointer.
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = model.CaseStatusInactive
	}
	c.CurrentStageID = defs[0].ID
	c.CurrentStageOrder = 1
	c.CompletionRate = 0
	c.Notes = model.TruncateNotes(c.Notes, model.MaxCaseNotesLen)
	c.CreatedAt = now
	c.UpdatedAt = now

	// 5. Persist case and document together.
	doc, err := progress.EncodeLedger(entries)
	if err != nil {
		return model.Case{}, model.NewPersistenceFailureError(
			fmt.Sprintf("encoding ledger for case %q: %v", c.ID, err),
		)
	}
	if err := e.store.Create(ctx, c, doc); err != nil {
		return model.Case{}, err
	}

	c.StagesProgress = entries
	c.ProgressDocument = doc

	e.logger.Info("case created",
		zap.String("case_id", c.ID),
		zap.String("workflow_id", c.WorkflowID),
		zap.Int("stages", len(entries)),
	)
	return c, nil
}

// GetProgress returns a case with its ledger reconciled against the current
// stage definitions and enriched with configuration-derived fields. A ledger
// that changed structurally is persisted, guarded so concurrent reads of the
// same case initialize it at most once.
func (e *Engine) GetProgress(ctx context.Context, tenantID, caseID string) (_ model.Case, err error) {
	ctx, span := observability.StartSpan(ctx, "engine.get_progress",
		observability.AttrTenantID.String(tenantID),
		observability.AttrCaseID.String(caseID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	c, defs, err := e.loadSynced(ctx, tenantID, caseID)
	if err != nil {
		return model.Case{}, err
	}
	progress.Enrich(c.StagesProgress, defs)
	return c, nil
}

// CompleteCurrentStage completes the stage the case pointer references and
// advances the pointer to the next incomplete stage. Completion percentage
// uses the stage-order algorithm, matching strictly sequential progression.
func (e *Engine) CompleteCurrentStage(ctx context.Context, tenantID, caseID, notes string) (_ model.Case, err error) {
	started := e.now()
	ctx, span := observability.StartSpan(ctx, "engine.complete_current_stage",
		observability.AttrTenantID.String(tenantID),
		observability.AttrCaseID.String(caseID),
		observability.AttrCompletionMode.String(string(progress.ModeByStageOrder)),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	// 1. Load and reconcile.
	c, _, err := e.loadSynced(ctx, tenantID, caseID)
	if err != nil {
		return model.Case{}, err
	}

	// 2. Verify the case still accepts transitions.
	if err = transitionAllowed(c); err != nil {
		return model.Case{}, err
	}

	// 3. Locate the current entry.
	idx := currentEntryIndex(c)
	if idx < 0 {
		return model.Case{}, model.NewBusinessRuleViolationError(
			fmt.Sprintf("case %q has no current stage to complete", caseID),
		)
	}

	octx := e.operator(ctx)
	now := e.now()
	entries := c.StagesProgress

	// 4. Re-completion is a graceful no-op that only annotates the entry.
	if entries[idx].IsCompleted {
		e.recordRecompletion(&entries[idx], octx, notes, now)
		c.CompletionRate = progress.CompletionRate(progress.ModeByStageOrder, entries)
		if err := e.persist(ctx, &c, entries, octx, now); err != nil {
			return model.Case{}, err
		}
		return c, nil
	}

	// 5. Mark the entry completed.
	e.markCompleted(&entries[idx], octx, notes, now)

	// 6. Advance the pointer forward-only to the next incomplete stage.
	nextIdx := nextIncompleteAfter(entries, entries[idx].StageOrder)
	isFinal := nextIdx < 0
	if isFinal {
		e.finalize(&c, entries, now)
	} else {
		e.advancePointer(&c, entries, nextIdx, now)
		c.CompletionRate = progress.CompletionRate(progress.ModeByStageOrder, entries)
	}

	// 7. Mirror display statuses and persist.
	mirrorDisplayStatus(entries)
	if err := e.persist(ctx, &c, entries, octx, now); err != nil {
		return model.Case{}, err
	}

	// 8. Record and notify.
	e.recordCompletion(c, entries[idx].StageID, nextStageID(entries, nextIdx), isFinal, octx, progress.ModeByStageOrder, started)
	return c, nil
}

// CompleteStage completes a specific stage regardless of its position. The
// pointer only advances when the entry it references is itself completed.
// Completion percentage uses the completed-count algorithm, which tolerates
// out-of-order progression.
func (e *Engine) CompleteStage(ctx context.Context, tenantID, caseID, stageID, notes string) (_ model.Case, err error) {
	started := e.now()
	ctx, span := observability.StartSpan(ctx, "engine.complete_stage",
		observability.AttrTenantID.String(tenantID),
		observability.AttrCaseID.String(caseID),
		observability.AttrStageID.String(stageID),
		observability.AttrCompletionMode.String(string(progress.ModeByCompletedCount)),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	// 1. Validate the target.
	if stageID == "" {
		return model.Case{}, model.NewInvalidArgumentError("stage_id is required")
	}

	// 2. Load and reconcile.
	c, _, err := e.loadSynced(ctx, tenantID, caseID)
	if err != nil {
		return model.Case{}, err
	}

	// 3. Verify the case still accepts transitions.
	if err := transitionAllowed(c); err != nil {
		return model.Case{}, err
	}

	// 4. Locate the target entry.
	entries := c.StagesProgress
	idx := -1
	for i := range entries {
		if entries[i].StageID == stageID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return model.Case{}, model.NewNotFoundError(
			fmt.Sprintf("stage %q not found in ledger of case %q", stageID, caseID),
		)
	}

	octx := e.operator(ctx)
	now := e.now()

	// 5. Re-completion is a graceful no-op that only annotates the entry.
	if entries[idx].IsCompleted {
		e.recordRecompletion(&entries[idx], octx, notes, now)
		c.CompletionRate = progress.CompletionRate(progress.ModeByCompletedCount, entries)
		if err := e.persist(ctx, &c, entries, octx, now); err != nil {
			return model.Case{}, err
		}
		return c, nil
	}

	// 6. Mark the entry completed and append the case-level audit note.
	e.markCompleted(&entries[idx], octx, notes, now)
	stamp := fmt.Sprintf("[Stage Completed] %s", stageID)
	if notes != "" {
		stamp += ": " + notes
	}
	c.Notes = model.TruncateNotes(appendNote(c.Notes, stamp), model.MaxCaseNotesLen)

	// 7. Advance the pointer only when its own entry is now completed, and
	// never backwards.
	nextIdx := -1
	if ptr := pointerEntryIndex(entries, c.CurrentStageID); ptr < 0 || entries[ptr].IsCompleted {
		order := 0
		if ptr >= 0 {
			order = entries[ptr].StageOrder
		}
		nextIdx = nextIncompleteAfter(entries, order)
	}

	// 8. Finalize when every entry is completed.
	if allCompleted(entries) {
		e.finalize(&c, entries, now)
		nextIdx = -1
	} else {
		if nextIdx >= 0 {
			e.advancePointer(&c, entries, nextIdx, now)
		}
		c.CompletionRate = progress.CompletionRate(progress.ModeByCompletedCount, entries)
	}

	// 9. Mirror display statuses and persist.
	mirrorDisplayStatus(entries)
	if err := e.persist(ctx, &c, entries, octx, now); err != nil {
		return model.Case{}, err
	}

	// 10. Record and notify.
	e.recordCompletion(c, stageID, nextStageID(entries, nextIdx), allCompleted(entries), octx, progress.ModeByCompletedCount, started)
	return c, nil
}

// RejectCase rejects a case: every pending or in-progress ledger entry is
// stamped rejected, completed history is left untouched, and the case enters
// the terminal Rejected status.
func (e *Engine) RejectCase(ctx context.Context, tenantID, caseID, reason string) (model.Case, error) {
	return e.closeCase(ctx, tenantID, caseID, reason, closeModeReject)
}

// TerminateCase terminates a case the same way RejectCase rejects one, with
// termination stamps and the Terminated status.
func (e *Engine) TerminateCase(ctx context.Context, tenantID, caseID, reason string) (model.Case, error) {
	return e.closeCase(ctx, tenantID, caseID, reason, closeModeTerminate)
}

type closeMode int

const (
	closeModeReject closeMode = iota
	closeModeTerminate
)

func (e *Engine) closeCase(ctx context.Context, tenantID, caseID, reason string, mode closeMode) (_ model.Case, err error) {
	spanName := "engine.reject_case"
	if mode == closeModeTerminate {
		spanName = "engine.terminate_case"
	}
	ctx, span := observability.StartSpan(ctx, spanName,
		observability.AttrTenantID.String(tenantID),
		observability.AttrCaseID.String(caseID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	if reason == "" {
		return model.Case{}, model.NewInvalidArgumentError("reason is required")
	}

	c, _, err := e.loadSynced(ctx, tenantID, caseID)
	if err != nil {
		return model.Case{}, err
	}
	if err := transitionAllowed(c); err != nil {
		return model.Case{}, err
	}

	octx := e.operator(ctx)
	now := e.now()
	entries := c.StagesProgress
	reason = model.TruncateNotes(reason, model.MaxStageNotesLen)

	for i := range entries {
		entries[i].IsCurrent = false
		if entries[i].IsCompleted {
			continue
		}
		t := now
		switch mode {
		case closeModeReject:
			entries[i].Status = model.StageStatusRejected
			entries[i].RejectionReason = reason
			entries[i].RejectedBy = octx.Actor()
			entries[i].RejectionTime = &t
		case closeModeTerminate:
			entries[i].Status = model.StageStatusTerminated
			entries[i].TerminatedBy = octx.Actor()
			entries[i].TerminationTime = &t
		}
		entries[i].LastUpdatedTime = &t
		entries[i].LastUpdatedBy = octx.Actor()
	}

	outcome := "rejected"
	c.Status = model.CaseStatusRejected
	if mode == closeModeTerminate {
		outcome = "terminated"
		c.Status = model.CaseStatusTerminated
	}
	c.CurrentStageID = ""
	c.CurrentStageOrder = 0
	t := now
	c.ActualEndDate = &t
	c.Notes = model.TruncateNotes(appendNote(c.Notes, fmt.Sprintf("[%s %s by %s] %s",
		c.Status, now.Format(time.RFC3339), octx.Actor(), reason)), model.MaxCaseNotesLen)

	if err := e.persist(ctx, &c, entries, octx, now); err != nil {
		return model.Case{}, err
	}

	if e.metrics != nil {
		e.metrics.RecordCaseRejection(c.WorkflowID, outcome)
	}
	e.logger.Info("case closed",
		zap.String("case_id", c.ID),
		zap.String("workflow_id", c.WorkflowID),
		zap.String("outcome", outcome),
	)
	return c, nil
}

// --- shared internals ---

// loadSynced loads a case, decodes its ledger, and reconciles it with the
// workflow's current stage definitions. A structural change is persisted
// under the initialization guard; when another goroutine holds the guard the
// reconciled view is returned without persisting.
func (e *Engine) loadSynced(ctx context.Context, tenantID, caseID string) (model.Case, []model.StageDefinition, error) {
	c, err := e.store.Get(ctx, tenantID, caseID)
	if err != nil {
		return model.Case{}, nil, err
	}

	defs, err := e.stages.GetOrderedStages(ctx, c.WorkflowID)
	if err != nil {
		return model.Case{}, nil, err
	}

	entries, ok := progress.DecodeLedger(c.ProgressDocument, e.logger)
	if !ok {
		// The document was present but unparseable: the ledger is being
		// rebuilt from definitions.
		if e.metrics != nil {
			e.metrics.RecordLedgerRebuild()
		}
	}

	// Repair drifted positions before reconciling, so entries written by
	// older producers with gapped orders line up with the definition ranks.
	repaired := e.sync.FixOrderSequence(entries)
	if repaired {
		if e.metrics != nil {
			e.metrics.RecordSequenceRepair()
		}
		e.logger.Warn("repaired stage order sequence",
			zap.String("case_id", caseID),
		)
	}

	synced, changed := e.sync.Sync(caseID, entries, defs, e.now())
	c.StagesProgress = synced
	// A drift-only repair is persisted too, otherwise every read of the
	// case would repair and warn again.
	if !changed && !repaired {
		return c, defs, nil
	}

	if changed && e.metrics != nil {
		e.metrics.RecordLedgerSyncChange(c.WorkflowID)
	}

	if hasInitToken(ctx) || !e.guard.tryEnter(caseID) {
		// Another initialization is underway; serve the reconciled view
		// without writing.
		return c, defs, nil
	}
	defer e.guard.leave(caseID)
	ctx = withInitToken(ctx)

	doc, err := progress.EncodeLedger(synced)
	if err != nil {
		e.logger.Error("encoding reconciled ledger failed",
			zap.String("case_id", caseID),
			zap.Error(err),
		)
		return c, defs, nil
	}
	c.UpdatedAt = e.now()
	if err := e.store.UpdateCase(ctx, c, doc); err != nil {
		e.logger.Warn("persisting reconciled ledger failed",
			zap.String("case_id", caseID),
			zap.Error(err),
		)
		return c, defs, nil
	}
	c.ProgressDocument = doc
	return c, defs, nil
}

// persist encodes the ledger and writes it with the case scalars.
func (e *Engine) persist(ctx context.Context, c *model.Case, entries []model.StageProgress, octx *model.OperatorContext, now time.Time) error {
	doc, err := progress.EncodeLedger(entries)
	if err != nil {
		return model.NewPersistenceFailureError(
			fmt.Sprintf("encoding ledger for case %q: %v", c.ID, err),
		)
	}
	c.StagesProgress = entries
	c.UpdatedAt = now
	c.UpdatedBy = octx.Actor()
	if err := e.store.UpdateCase(ctx, *c, doc); err != nil {
		return err
	}
	c.ProgressDocument = doc
	return nil
}

// markCompleted stamps a ledger entry completed. A missing start time is
// backfilled so duration reporting never sees an open interval.
func (e *Engine) markCompleted(entry *model.StageProgress, octx *model.OperatorContext, notes string, now time.Time) {
	t := now
	entry.Status = model.StageStatusCompleted
	entry.IsCompleted = true
	entry.IsCurrent = false
	if entry.StartTime == nil {
		entry.StartTime = &t
	}
	entry.CompletionTime = &t
	entry.CompletedBy = octx.Actor()
	if notes != "" {
		entry.Notes = model.TruncateNotes(appendNote(entry.Notes, notes), model.MaxStageNotesLen)
	}
	entry.LastUpdatedTime = &t
	entry.LastUpdatedBy = octx.Actor()
}

// recordRecompletion annotates an already-completed entry without moving any
// completion timestamp backwards.
func (e *Engine) recordRecompletion(entry *model.StageProgress, octx *model.OperatorContext, notes string, now time.Time) {
	stamp := fmt.Sprintf("[Re-completed %s by %s]", now.Format(time.RFC3339), octx.Actor())
	if notes != "" {
		stamp += " " + notes
	}
	entry.Notes = model.TruncateNotes(appendNote(entry.Notes, stamp), model.MaxStageNotesLen)
	t := now
	entry.LastUpdatedTime = &t
	entry.LastUpdatedBy = octx.Actor()
	e.logger.Info("stage re-completion recorded",
		zap.String("stage_id", entry.StageID),
		zap.String("actor", octx.Actor()),
	)
}

// advancePointer moves the case pointer onto the entry at nextIdx.
func (e *Engine) advancePointer(c *model.Case, entries []model.StageProgress, nextIdx int, now time.Time) {
	for i := range entries {
		entries[i].IsCurrent = false
	}
	next := &entries[nextIdx]
	next.IsCurrent = true
	next.Status = model.StageStatusInProgress
	if next.StartTime == nil {
		t := now
		next.StartTime = &t
	}
	c.CurrentStageID = next.StageID
	c.CurrentStageOrder = next.StageOrder
	if c.Status == model.CaseStatusActive {
		c.Status = model.CaseStatusInProgress
	}
	e.logger.Debug("stage pointer advanced",
		zap.String("case_id", c.ID),
		zap.String("stage_id", next.StageID),
		zap.Int("stage_order", next.StageOrder),
	)
}

// finalize transitions a case into the terminal Completed state.
func (e *Engine) finalize(c *model.Case, entries []model.StageProgress, now time.Time) {
	for i := range entries {
		entries[i].IsCurrent = false
	}
	c.Status = model.CaseStatusCompleted
	c.CompletionRate = 100
	c.CurrentStageID = ""
	c.CurrentStageOrder = 0
	t := now
	c.ActualEndDate = &t
	if e.metrics != nil {
		e.metrics.RecordCaseFinalization(c.WorkflowID, c.Status)
	}
	e.logger.Info("case finalized",
		zap.String("case_id", c.ID),
		zap.String("workflow_id", c.WorkflowID),
	)
}

// recordCompletion emits metrics and the stage-completed notification.
func (e *Engine) recordCompletion(c model.Case, stageID string, nextID *string, isFinal bool, octx *model.OperatorContext, mode progress.CompletionMode, started time.Time) {
	if e.metrics != nil {
		e.metrics.RecordStageCompletion(c.WorkflowID, string(mode))
		e.metrics.RecordTransitionDuration("complete_stage", e.now().Sub(started))
	}
	e.notifier.StageCompleted(model.StageCompletedEvent{
		EventID:          uuid.New().String(),
		CaseID:           c.ID,
		TenantID:         c.TenantID,
		WorkflowID:       c.WorkflowID,
		CompletedStageID: stageID,
		NextStageID:      nextID,
		CompletionRate:   c.CompletionRate,
		IsFinalStage:     isFinal,
		CompletedBy:      octx.Actor(),
		OccurredAt:       e.now(),
	})
	e.logger.Info("stage completed",
		zap.String("case_id", c.ID),
		zap.String("stage_id", stageID),
		zap.Float64("completion_rate", c.CompletionRate),
		zap.Bool("final", isFinal),
	)
}

// operator resolves the acting identity, defaulting to the system actor.
func (e *Engine) operator(ctx context.Context) *model.OperatorContext {
	if octx := model.OperatorContextFrom(ctx); octx != nil {
		return octx
	}
	return model.SystemOperator
}

// transitionAllowed rejects stage transitions on cases whose status permits
// none.
func transitionAllowed(c model.Case) error {
	switch {
	case model.IsTerminal(c.Status),
		c.Status == model.CaseStatusTerminated,
		c.Status == model.CaseStatusAborted,
		c.Status == model.CaseStatusForceCompleted:
		return model.NewBusinessRuleViolationError(
			fmt.Sprintf("case %q is %s and accepts no stage transitions", c.ID, c.Status),
		)
	}
	return nil
}

// currentEntryIndex finds the ledger entry the pointer references: the
// current-flagged entry, the pointer's stage, or the first incomplete entry.
func currentEntryIndex(c model.Case) int {
	entries := c.StagesProgress
	for i := range entries {
		if entries[i].IsCurrent {
			return i
		}
	}
	if c.CurrentStageID != "" {
		for i := range entries {
			if entries[i].StageID == c.CurrentStageID {
				return i
			}
		}
	}
	for i := range entries {
		if !entries[i].IsCompleted {
			return i
		}
	}
	return -1
}

// pointerEntryIndex finds the entry the scalar pointer references.
func pointerEntryIndex(entries []model.StageProgress, currentStageID string) int {
	for i := range entries {
		if entries[i].StageID == currentStageID {
			return i
		}
	}
	return -1
}

// nextIncompleteAfter returns the index of the first incomplete entry with a
// position strictly after the given order, or -1. Advancement never moves
// backwards.
func nextIncompleteAfter(entries []model.StageProgress, order int) int {
	best := -1
	for i := range entries {
		if entries[i].IsCompleted || entries[i].StageOrder <= order {
			continue
		}
		if best < 0 || entries[i].StageOrder < entries[best].StageOrder {
			best = i
		}
	}
	return best
}

func allCompleted(entries []model.StageProgress) bool {
	for i := range entries {
		if !entries[i].IsCompleted {
			return false
		}
	}
	return len(entries) > 0
}

// nextStageID converts a ledger index into the event's next-stage pointer.
func nextStageID(entries []model.StageProgress, idx int) *string {
	if idx < 0 || idx >= len(entries) {
		return nil
	}
	id := entries[idx].StageID
	return &id
}

// mirrorDisplayStatus recomputes the display status of every entry from its
// flags. Rejected and terminated stamps are preserved.
func mirrorDisplayStatus(entries []model.StageProgress) {
	for i := range entries {
		switch entries[i].Status {
		case model.StageStatusRejected, model.StageStatusTerminated:
			continue
		}
		switch {
		case entries[i].IsCompleted:
			entries[i].Status = model.StageStatusCompleted
		case entries[i].IsCurrent:
			entries[i].Status = model.StageStatusInProgress
		default:
			entries[i].Status = model.StageStatusPending
		}
	}
}

// appendNote joins note fragments on a newline.
func appendNote(existing, addition string) string {
	if existing == "" {
		return addition
	}
	return existing + "\n" + addition
}
