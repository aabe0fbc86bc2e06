package model

import "time"

// StageCompletedEvent is the notification payload emitted after a stage
// completes. It is handed to the external event-publishing subsystem with
// at-most-once enqueue semantics; delivery is not observed by the core.
type StageCompletedEvent struct {
	EventID          string    `json:"event_id"`
	CaseID           string    `json:"case_id"`
	TenantID         string    `json:"tenant_id"`
	WorkflowID       string    `json:"workflow_id"`
	CompletedStageID string    `json:"completed_stage_id"`
	NextStageID      *string   `json:"next_stage_id"`
	CompletionRate   float64   `json:"completion_rate"`
	IsFinalStage     bool      `json:"is_final_stage"`
	CompletedBy      string    `json:"completed_by"`
	OccurredAt       time.Time `json:"occurred_at"`
}
