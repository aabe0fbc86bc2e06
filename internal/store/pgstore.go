package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/caseflow-io/caseflow/model"
)

// PgCaseStore is a PostgreSQL-backed CaseStore using pgx/v5. The ledger
// lives in a jsonb column next to the scalar case fields, which needs an
// explicit cast on write and a literal-substitution fallback when the cast
// path fails on a type mismatch.
type PgCaseStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger

	// onFallback is invoked whenever a document write falls back to
	// literal substitution; nil means log-only.
	onFallback func()
}

// NewPgCaseStore creates a new PostgreSQL case store.
func NewPgCaseStore(pool *pgxpool.Pool, logger *zap.Logger) *PgCaseStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PgCaseStore{pool: pool, logger: logger}
}

const caseColumns = `id, tenant_id, workflow_id, name, current_stage_id, current_stage_order,
       status, completion_rate, notes, priority,
       start_date, estimated_end_date, actual_end_date,
       stages_progress_json, created_at, updated_at, updated_by`

// Create inserts a new case with its initial ledger document.
func (s *PgCaseStore) Create(ctx context.Context, c model.Case, doc []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cases (
			id, tenant_id, workflow_id, name, current_stage_id, current_stage_order,
			status, completion_rate, notes, priority,
			start_date, estimated_end_date, actual_end_date,
			stages_progress_json, is_valid, created_at, updated_at, updated_by
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13,
			$14::jsonb, TRUE, $15, $16, $17
		)`,
		c.ID, c.TenantID, c.WorkflowID, c.Name, c.CurrentStageID, c.CurrentStageOrder,
		c.Status, c.CompletionRate, c.Notes, c.Priority,
		c.StartDate, c.EstimatedEndDate, c.ActualEndDate,
		string(doc), c.CreatedAt, c.UpdatedAt, c.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

// Get retrieves a case by ID, scoped to tenant. The raw stored ledger is
// returned in ProgressDocument; decoding is the caller's concern.
func (s *PgCaseStore) Get(ctx context.Context, tenantID, caseID string) (model.Case, error) {
	var c model.Case
	var doc []byte

	err := s.pool.QueryRow(ctx, `
		SELECT `+caseColumns+`
		FROM cases
		WHERE id = $1 AND tenant_id = $2 AND is_valid`,
		caseID, tenantID,
	).Scan(
		&c.ID, &c.TenantID, &c.WorkflowID, &c.Name, &c.CurrentStageID, &c.CurrentStageOrder,
		&c.Status, &c.CompletionRate, &c.Notes, &c.Priority,
		&c.StartDate, &c.EstimatedEndDate, &c.ActualEndDate,
		&doc, &c.CreatedAt, &c.UpdatedAt, &c.UpdatedBy,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Case{}, model.NewNotFoundError(
			fmt.Sprintf("case %q not found", caseID),
		)
	}
	if err != nil {
		return model.Case{}, fmt.Errorf("query case: %w", err)
	}

	c.ProgressDocument = doc
	return c, nil
}

// ListByWorkflow returns cases of a workflow for a tenant, oldest first.
func (s *PgCaseStore) ListByWorkflow(ctx context.Context, tenantID, workflowID string, limit int) ([]model.Case, error) {
	query := `SELECT ` + caseColumns + `
	          FROM cases
	          WHERE tenant_id = $1 AND workflow_id = $2 AND is_valid
	          ORDER BY created_at ASC`
	args := []any{tenantID, workflowID}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cases: %w", err)
	}
	defer rows.Close()

	var cases []model.Case
	for rows.Next() {
		var c model.Case
		var doc []byte
		if err := rows.Scan(
			&c.ID, &c.TenantID, &c.WorkflowID, &c.Name, &c.CurrentStageID, &c.CurrentStageOrder,
			&c.Status, &c.CompletionRate, &c.Notes, &c.Priority,
			&c.StartDate, &c.EstimatedEndDate, &c.ActualEndDate,
			&doc, &c.CreatedAt, &c.UpdatedAt, &c.UpdatedBy,
		); err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		c.ProgressDocument = doc
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// UpdateCase writes the scalar fields, then the ledger document. The two
// statements are a single logical update with last-write-wins semantics.
func (s *PgCaseStore) UpdateCase(ctx context.Context, c model.Case, doc []byte) error {
	if err := s.updateScalars(ctx, c); err != nil {
		return err
	}
	return s.updateDocument(ctx, c.ID, c.TenantID, doc)
}

// UpdateScalarsPreserveDocument writes the scalar fields and re-asserts the
// document bytes read at load time, so operations that must not touch the
// ledger leave the stored column byte-for-byte unchanged.
func (s *PgCaseStore) UpdateScalarsPreserveDocument(ctx context.Context, c model.Case) error {
	if err := s.updateScalars(ctx, c); err != nil {
		return err
	}
	if c.ProgressDocument == nil {
		return nil
	}
	return s.updateDocument(ctx, c.ID, c.TenantID, c.ProgressDocument)
}

// SoftDelete marks a case invalid, retaining the ledger document untouched.
func (s *PgCaseStore) SoftDelete(ctx context.Context, tenantID, caseID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE cases SET is_valid = FALSE, updated_at = $1
		WHERE id = $2 AND tenant_id = $3 AND is_valid`,
		time.Now().UTC(), caseID, tenantID,
	)
	if err != nil {
		return fmt.Errorf("soft delete case: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(
			fmt.Sprintf("case %q not found", caseID),
		)
	}
	return nil
}

// SetWriteFallbackHook registers a callback invoked on every fallback
// document write.
func (s *PgCaseStore) SetWriteFallbackHook(fn func()) {
	s.onFallback = fn
}

// HealthCheck verifies database connectivity.
func (s *PgCaseStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PgCaseStore) updateScalars(ctx context.Context, c model.Case) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE cases SET
			name = $1,
			current_stage_id = $2,
			current_stage_order = $3,
			status = $4,
			completion_rate = $5,
			notes = $6,
			priority = $7,
			start_date = $8,
			estimated_end_date = $9,
			actual_end_date = $10,
			updated_at = $11,
			updated_by = $12
		WHERE id = $13 AND tenant_id = $14 AND is_valid`,
		c.Name, c.CurrentStageID, c.CurrentStageOrder,
		c.Status, c.CompletionRate, c.Notes, c.Priority,
		c.StartDate, c.EstimatedEndDate, c.ActualEndDate,
		time.Now().UTC(), c.UpdatedBy,
		c.ID, c.TenantID,
	)
	if err != nil {
		return fmt.Errorf("update case scalars: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(
			fmt.Sprintf("case %q not found", c.ID),
		)
	}
	return nil
}

// updateDocument writes the ledger into the jsonb column. The primary path
// binds the payload with an explicit jsonb cast; when the driver surfaces a
// type mismatch it retries once with the payload inlined as an escaped
// literal. Both strategies failing raises PERSISTENCE_FAILURE.
func (s *PgCaseStore) updateDocument(ctx context.Context, caseID, tenantID string, doc []byte) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE cases SET stages_progress_json = $1::jsonb, updated_at = $2
		WHERE id = $3 AND tenant_id = $4`,
		string(doc), time.Now().UTC(), caseID, tenantID,
	)
	if err == nil {
		return nil
	}
	if !isTypeMismatch(err) {
		return fmt.Errorf("update progress document: %w", err)
	}

	s.logger.Warn("progress document write fell back to literal substitution",
		zap.String("case_id", caseID),
		zap.Error(err),
	)
	if s.onFallback != nil {
		s.onFallback()
	}

	stmt := fmt.Sprintf(`
		UPDATE cases SET stages_progress_json = '%s'::jsonb, updated_at = $1
		WHERE id = $2 AND tenant_id = $3`,
		escapeLiteral(string(doc)),
	)
	if _, ferr := s.pool.Exec(ctx, stmt, time.Now().UTC(), caseID, tenantID); ferr != nil {
		return model.NewPersistenceFailureError(
			fmt.Sprintf("progress document write for case %q failed on both strategies: %v (fallback: %v)", caseID, err, ferr),
		)
	}
	return nil
}

// Type-mismatch SQLSTATEs that trigger the fallback write: datatype
// mismatch, invalid text representation, undefined function.
var typeMismatchCodes = map[string]bool{
	"42804": true,
	"22P02": true,
	"42883": true,
}

func isTypeMismatch(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if typeMismatchCodes[pgErr.Code] {
			return true
		}
		return strings.Contains(pgErr.Message, "jsonb")
	}
	return false
}

// escapeLiteral doubles single quotes for inline SQL string literals.
func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
