// Package store persists cases and serves stage definitions. The PostgreSQL
// implementation carries the document-column write strategy; the in-memory
// implementation backs tests.
package store

import (
	"context"

	"github.com/caseflow-io/caseflow/model"
)

// CaseStore persists cases. The stage ledger travels as an explicit
// serialized document so callers control exactly which bytes reach the
// document column.
type CaseStore interface {
	// Create persists a new case with its initial ledger document.
	Create(ctx context.Context, c model.Case, doc []byte) error

	// Get retrieves a case by ID, scoped to a tenant. The returned case
	// carries the raw stored ledger in ProgressDocument. Returns NOT_FOUND
	// if the case doesn't exist or belongs to a different tenant.
	Get(ctx context.Context, tenantID, caseID string) (model.Case, error)

	// ListByWorkflow returns cases of a workflow for a tenant, oldest
	// first. A limit of 0 means no limit.
	ListByWorkflow(ctx context.Context, tenantID, workflowID string, limit int) ([]model.Case, error)

	// UpdateCase writes the case's scalar fields and the given ledger
	// document as one logical update. Last write wins.
	UpdateCase(ctx context.Context, c model.Case, doc []byte) error

	// UpdateScalarsPreserveDocument writes the case's scalar fields and
	// re-asserts the document bytes carried in c.ProgressDocument, leaving
	// the stored ledger byte-for-byte unchanged even if the in-memory copy
	// was mutated during the request.
	UpdateScalarsPreserveDocument(ctx context.Context, c model.Case) error

	// SoftDelete marks a case invalid. The ledger document is retained
	// untouched.
	SoftDelete(ctx context.Context, tenantID, caseID string) error
}

// StageDefinitionSource returns the ordered stage definitions of a workflow.
// Implementations must return stages in position order; positions in the
// returned slice are 1-based and contiguous even when storage has gaps.
type StageDefinitionSource interface {
	GetOrderedStages(ctx context.Context, workflowID string) ([]model.StageDefinition, error)
}
