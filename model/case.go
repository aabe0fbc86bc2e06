package model

import "time"

// Case lifecycle status constants.
const (
	CaseStatusInactive       = "Inactive"
	CaseStatusActive         = "Active"
	CaseStatusInProgress     = "InProgress"
	CaseStatusPaused         = "Paused"
	CaseStatusCompleted      = "Completed"
	CaseStatusForceCompleted = "ForceCompleted"
	CaseStatusCancelled      = "Cancelled"
	CaseStatusRejected       = "Rejected"
	CaseStatusTerminated     = "Terminated"
	CaseStatusAborted        = "Aborted"
)

// Stage ledger entry status constants.
const (
	StageStatusPending    = "Pending"
	StageStatusInProgress = "InProgress"
	StageStatusCompleted  = "Completed"
	StageStatusRejected   = "Rejected"
	StageStatusTerminated = "Terminated"
)

// Free-text note bounds, enforced on write.
const (
	MaxCaseNotesLen  = 1000
	MaxStageNotesLen = 500
)

// Case is one business case progressing through the ordered stages of a
// workflow. The stage ledger is embedded: it is owned exclusively by the
// case and serialized into a single document column alongside the scalar
// fields.
type Case struct {
	ID                string     `json:"id"`
	TenantID          string     `json:"tenant_id"`
	WorkflowID        string     `json:"workflow_id"`
	Name              string     `json:"name"`
	CurrentStageID    string     `json:"current_stage_id"`
	CurrentStageOrder int        `json:"current_stage_order"`
	Status            string     `json:"status"`
	CompletionRate    float64    `json:"completion_rate"`
	Notes             string     `json:"notes,omitempty"`
	Priority          string     `json:"priority,omitempty"`
	StartDate         *time.Time `json:"start_date,omitempty"`
	EstimatedEndDate  *time.Time `json:"estimated_end_date,omitempty"`
	ActualEndDate     *time.Time `json:"actual_end_date,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	UpdatedBy         string     `json:"updated_by,omitempty"`

	// ProgressDocument holds the raw serialized ledger exactly as stored.
	// The store populates it on read and callers that must leave the
	// stored document untouched re-assert these bytes on write.
	ProgressDocument []byte `json:"-"`

	// StagesProgress is the decoded working copy of the ledger. It is
	// never serialized implicitly; callers encode it explicitly when a
	// ledger mutation must be persisted.
	StagesProgress []StageProgress `json:"-"`
}

// StageProgress is one ledger entry: the progress record for a single stage
// of the case's workflow. Field names in the serialized form are matched
// case-insensitively on decode to tolerate documents written by older
// producers.
//
// Fields tagged `json:"-"` are derived from the current stage definitions at
// read time and must never be written back into the stored document.
type StageProgress struct {
	StageID        string     `json:"stageId"`
	StageOrder     int        `json:"stageOrder"`
	Status         string     `json:"status"`
	IsCompleted    bool       `json:"isCompleted"`
	IsCurrent      bool       `json:"isCurrent"`
	StartTime      *time.Time `json:"startTime,omitempty"`
	CompletionTime *time.Time `json:"completionTime,omitempty"`
	CompletedBy    string     `json:"completedBy,omitempty"`
	Notes          string     `json:"notes,omitempty"`

	RejectionReason string     `json:"rejectionReason,omitempty"`
	RejectedBy      string     `json:"rejectedBy,omitempty"`
	RejectionTime   *time.Time `json:"rejectionTime,omitempty"`
	TerminatedBy    string     `json:"terminatedBy,omitempty"`
	TerminationTime *time.Time `json:"terminationTime,omitempty"`

	// Per-case overrides of the definition-level estimates.
	CustomEstimatedDays *float64   `json:"customEstimatedDays,omitempty"`
	CustomEndTime       *time.Time `json:"customEndTime,omitempty"`

	LastUpdatedTime *time.Time `json:"lastUpdatedTime,omitempty"`
	LastUpdatedBy   string     `json:"lastUpdatedBy,omitempty"`

	// Configuration-derived fields, joined in from the stage definitions.
	StageName       string  `json:"-"`
	Description     string  `json:"-"`
	EstimatedDays   float64 `json:"-"`
	VisibleInPortal bool    `json:"-"`
	ComponentsJSON  string  `json:"-"`
}

// StageDefinition is the workflow template's description of one stage,
// independent of any case.
type StageDefinition struct {
	ID              string  `yaml:"id" json:"id"`
	WorkflowID      string  `yaml:"-" json:"workflow_id"`
	Name            string  `yaml:"name" json:"name"`
	Description     string  `yaml:"description" json:"description,omitempty"`
	Order           int     `yaml:"order" json:"order"`
	EstimatedDays   float64 `yaml:"estimated_days" json:"estimated_days,omitempty"`
	VisibleInPortal bool    `yaml:"visible_in_portal" json:"visible_in_portal"`
	ComponentsJSON  string  `yaml:"components_json" json:"components_json,omitempty"`
}

// IsTerminal reports whether a case status permits no further stage
// transitions.
func IsTerminal(status string) bool {
	switch status {
	case CaseStatusCompleted, CaseStatusCancelled, CaseStatusRejected:
		return true
	}
	return false
}

// TruncateNotes bounds a free-text note to max characters.
func TruncateNotes(notes string, max int) string {
	if len(notes) <= max {
		return notes
	}
	return notes[:max]
}
