package model

import (
	"context"
	"errors"
	"fmt"
)

// OperatorContext carries the identity of the actor performing a case
// operation. It is immutable after construction and safe for concurrent
// reads.
type OperatorContext struct {
	SubjectID   string
	DisplayName string
	Email       string
	TenantID    string
}

// Validate checks that all mandatory fields are present.
// SubjectID and TenantID must be non-empty.
func (oc *OperatorContext) Validate() error {
	var errs []error
	if oc.SubjectID == "" {
		errs = append(errs, fmt.Errorf("SubjectID is required"))
	}
	if oc.TenantID == "" {
		errs = append(errs, fmt.Errorf("TenantID is required"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Actor returns the name recorded in completed-by and updated-by fields:
// the display name when set, otherwise the subject id.
func (oc *OperatorContext) Actor() string {
	if oc.DisplayName != "" {
		return oc.DisplayName
	}
	return oc.SubjectID
}

type contextKey struct{}

// WithOperatorContext attaches an OperatorContext to the given context.
func WithOperatorContext(ctx context.Context, octx *OperatorContext) context.Context {
	return context.WithValue(ctx, contextKey{}, octx)
}

// OperatorContextFrom extracts the OperatorContext from the context, or
// returns nil if not present.
func OperatorContextFrom(ctx context.Context) *OperatorContext {
	octx, _ := ctx.Value(contextKey{}).(*OperatorContext)
	return octx
}

// SystemOperator is the actor recorded for transitions applied by the
// system itself (batch synchronization, auto-advance).
var SystemOperator = &OperatorContext{SubjectID: "system", DisplayName: "System", TenantID: "system"}
