package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caseflow-io/caseflow/model"
)

// PgStageSource serves stage definitions from the stages table. Stored
// order values may have gaps (stages get deleted); the returned slice is
// always re-ranked to the contiguous run 1..N.
type PgStageSource struct {
	pool *pgxpool.Pool
}

// NewPgStageSource creates a new PostgreSQL stage-definition source.
func NewPgStageSource(pool *pgxpool.Pool) *PgStageSource {
	return &PgStageSource{pool: pool}
}

// GetOrderedStages returns the workflow's stages in position order with
// contiguous 1-based positions.
func (s *PgStageSource) GetOrderedStages(ctx context.Context, workflowID string) ([]model.StageDefinition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, workflow_id, name, description, stage_order,
		       estimated_days, visible_in_portal, components_json
		FROM stages
		WHERE workflow_id = $1 AND is_valid
		ORDER BY stage_order ASC, created_at ASC`,
		workflowID,
	)
	if err != nil {
		return nil, fmt.Errorf("query stages: %w", err)
	}
	defer rows.Close()

	var defs []model.StageDefinition
	for rows.Next() {
		var def model.StageDefinition
		if err := rows.Scan(
			&def.ID, &def.WorkflowID, &def.Name, &def.Description, &def.Order,
			&def.EstimatedDays, &def.VisibleInPortal, &def.ComponentsJSON,
		); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range defs {
		defs[i].Order = i + 1
	}
	return defs, nil
}
