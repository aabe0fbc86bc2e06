package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/caseflow-io/caseflow/model"
)

// Case lifecycle operations. These move the case between scalar statuses
// without touching the stage ledger, so every write goes through the
// document-preserving store path: the stored ledger bytes survive the update
// unchanged.

// Start activates an inactive case and stamps its start date.
func (e *Engine) Start(ctx context.Context, tenantID, caseID string) (model.Case, error) {
	return e.setStatus(ctx, tenantID, caseID, "start", "",
		[]string{model.CaseStatusInactive},
		func(c *model.Case, now time.Time) {
			c.Status = model.CaseStatusActive
			if c.StartDate == nil {
				t := now
				c.StartDate = &t
			}
		})
}

// Pause suspends an active or in-progress case.
func (e *Engine) Pause(ctx context.Context, tenantID, caseID, reason string) (model.Case, error) {
	return e.setStatus(ctx, tenantID, caseID, "pause", reason,
		[]string{model.CaseStatusActive, model.CaseStatusInProgress},
		func(c *model.Case, now time.Time) {
			c.Status = model.CaseStatusPaused
		})
}

// Resume returns a paused case to in-progress.
func (e *Engine) Resume(ctx context.Context, tenantID, caseID string) (model.Case, error) {
	return e.setStatus(ctx, tenantID, caseID, "resume", "",
		[]string{model.CaseStatusPaused},
		func(c *model.Case, now time.Time) {
			c.Status = model.CaseStatusInProgress
		})
}

// Cancel moves a non-terminal case into the terminal Cancelled status.
func (e *Engine) Cancel(ctx context.Context, tenantID, caseID, reason string) (model.Case, error) {
	if reason == "" {
		return model.Case{}, model.NewInvalidArgumentError("reason is required")
	}
	return e.setStatus(ctx, tenantID, caseID, "cancel", reason, nil,
		func(c *model.Case, now time.Time) {
			c.Status = model.CaseStatusCancelled
			t := now
			c.ActualEndDate = &t
		})
}

// ForceComplete closes a non-terminal case administratively without running
// its remaining stages.
func (e *Engine) ForceComplete(ctx context.Context, tenantID, caseID, reason string) (model.Case, error) {
	return e.setStatus(ctx, tenantID, caseID, "force_complete", reason, nil,
		func(c *model.Case, now time.Time) {
			c.Status = model.CaseStatusForceCompleted
			t := now
			c.ActualEndDate = &t
		})
}

// Abort halts a non-terminal case. Unlike Cancel it is reversible via
// Restart.
func (e *Engine) Abort(ctx context.Context, tenantID, caseID, reason string) (model.Case, error) {
	return e.setStatus(ctx, tenantID, caseID, "abort", reason, nil,
		func(c *model.Case, now time.Time) {
			c.Status = model.CaseStatusAborted
		})
}

// Restart reopens a paused, cancelled, aborted or force-completed case.
func (e *Engine) Restart(ctx context.Context, tenantID, caseID string) (model.Case, error) {
	return e.setStatus(ctx, tenantID, caseID, "restart", "",
		[]string{
			model.CaseStatusPaused,
			model.CaseStatusCancelled,
			model.CaseStatusAborted,
			model.CaseStatusForceCompleted,
		},
		func(c *model.Case, now time.Time) {
			c.Status = model.CaseStatusInProgress
			c.ActualEndDate = nil
		})
}

// Reactivate reopens a rejected or terminated case for another attempt.
func (e *Engine) Reactivate(ctx context.Context, tenantID, caseID string) (model.Case, error) {
	return e.setStatus(ctx, tenantID, caseID, "reactivate", "",
		[]string{model.CaseStatusRejected, model.CaseStatusTerminated},
		func(c *model.Case, now time.Time) {
			c.Status = model.CaseStatusInProgress
			c.ActualEndDate = nil
		})
}

// setStatus applies a scalar status transition. An empty allowed set admits
// every non-terminal status except Aborted and ForceCompleted.
func (e *Engine) setStatus(ctx context.Context, tenantID, caseID, operation, reason string, allowed []string, apply func(*model.Case, time.Time)) (model.Case, error) {
	started := e.now()

	c, err := e.store.Get(ctx, tenantID, caseID)
	if err != nil {
		return model.Case{}, err
	}

	if len(allowed) == 0 {
		if err := transitionAllowed(c); err != nil {
			return model.Case{}, err
		}
	} else if !statusIn(c.Status, allowed) {
		return model.Case{}, model.NewBusinessRuleViolationError(
			fmt.Sprintf("case %q is %s; %s requires one of %v", caseID, c.Status, operation, allowed),
		)
	}

	octx := e.operator(ctx)
	now := e.now()
	from := c.Status

	apply(&c, now)
	if reason != "" {
		c.Notes = model.TruncateNotes(appendNote(c.Notes, fmt.Sprintf("[%s by %s] %s",
			c.Status, octx.Actor(), reason)), model.MaxCaseNotesLen)
	}
	c.UpdatedAt = now
	c.UpdatedBy = octx.Actor()

	if err := e.store.UpdateScalarsPreserveDocument(ctx, c); err != nil {
		return model.Case{}, err
	}

	if e.metrics != nil {
		e.metrics.RecordTransitionDuration(operation, e.now().Sub(started))
		if model.IsTerminal(c.Status) || c.Status == model.CaseStatusForceCompleted {
			e.metrics.RecordCaseFinalization(c.WorkflowID, c.Status)
		}
	}
	e.logger.Info("case status changed",
		zap.String("case_id", c.ID),
		zap.String("from", from),
		zap.String("to", c.Status),
		zap.String("actor", octx.Actor()),
	)
	return c, nil
}

func statusIn(status string, allowed []string) bool {
	for _, s := range allowed {
		if s == status {
			return true
		}
	}
	return false
}
