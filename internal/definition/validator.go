package definition

import (
	"fmt"

	"github.com/caseflow-io/caseflow/model"
)

// VError describes a single validation error in a workflow template.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator validates workflow templates structurally.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks all templates.
func (v *Validator) Validate(templates []model.WorkflowTemplate) []VError {
	var errs []VError

	workflowIDs := make(map[string]bool)
	for i, tpl := range templates {
		prefix := fmt.Sprintf("templates[%d]", i)
		if tpl.ID != "" && workflowIDs[tpl.ID] {
			errs = append(errs, VError{
				Path:    prefix + ".id",
				Code:    "DUPLICATE_ID",
				Message: fmt.Sprintf("workflow id %q declared more than once", tpl.ID),
			})
		}
		workflowIDs[tpl.ID] = true
		errs = append(errs, v.validateWorkflow(prefix, tpl)...)
	}
	return errs
}

func (v *Validator) validateWorkflow(prefix string, tpl model.WorkflowTemplate) []VError {
	var errs []VError

	if tpl.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	}
	if tpl.Name == "" {
		errs = append(errs, VError{Path: prefix + ".name", Code: "REQUIRED", Message: "name is required"})
	}
	if tpl.Version == "" {
		errs = append(errs, VError{Path: prefix + ".version", Code: "REQUIRED", Message: "version is required"})
	}
	if len(tpl.Stages) == 0 {
		errs = append(errs, VError{Path: prefix + ".stages", Code: "REQUIRED", Message: "at least one stage is required"})
	}

	stageIDs := make(map[string]bool)
	for i, s := range tpl.Stages {
		sp := fmt.Sprintf("%s.stages[%d]", prefix, i)
		if s.ID == "" {
			errs = append(errs, VError{Path: sp + ".id", Code: "REQUIRED", Message: "stage id is required"})
		} else if stageIDs[s.ID] {
			errs = append(errs, VError{
				Path:    sp + ".id",
				Code:    "DUPLICATE_ID",
				Message: fmt.Sprintf("stage id %q declared more than once", s.ID),
			})
		}
		stageIDs[s.ID] = true

		if s.Name == "" {
			errs = append(errs, VError{Path: sp + ".name", Code: "REQUIRED", Message: "stage name is required"})
		}
		if s.Order <= 0 {
			errs = append(errs, VError{Path: sp + ".order", Code: "RANGE", Message: "stage order must be positive"})
		}
		if s.EstimatedDays < 0 {
			errs = append(errs, VError{Path: sp + ".estimated_days", Code: "RANGE", Message: "estimated_days must not be negative"})
		}
	}

	return errs
}
