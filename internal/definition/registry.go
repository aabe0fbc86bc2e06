package definition

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/caseflow-io/caseflow/model"
)

// snapshot is an immutable collection of all templates indexed by workflow ID.
type snapshot struct {
	workflows map[string]model.WorkflowTemplate
	checksum  string
}

// Registry is a read-optimized, thread-safe store of all loaded workflow
// templates. It uses atomic pointer swap for lock-free concurrent reads.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from the given templates.
func NewRegistry(templates []model.WorkflowTemplate) *Registry {
	r := &Registry{}
	r.Replace(templates)
	return r
}

// Replace atomically swaps the registry contents with a new snapshot built
// from the given templates.
func (r *Registry) Replace(templates []model.WorkflowTemplate) {
	s := &snapshot{
		workflows: make(map[string]model.WorkflowTemplate, len(templates)),
	}

	var checksumParts []string

	for _, tpl := range templates {
		s.workflows[tpl.ID] = tpl
		checksumParts = append(checksumParts, tpl.Checksum)
	}

	sort.Strings(checksumParts)
	combined := strings.Join(checksumParts, ":")
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(combined)))

	r.snap.Store(s)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// GetWorkflow returns the workflow template with the given ID.
func (r *Registry) GetWorkflow(workflowID string) (model.WorkflowTemplate, bool) {
	w, ok := r.current().workflows[workflowID]
	return w, ok
}

// GetOrderedStages returns the stage definitions for a workflow, sorted by
// declared order and re-ranked to a contiguous 1..N sequence. It satisfies
// the engine's stage definition source.
func (r *Registry) GetOrderedStages(_ context.Context, workflowID string) ([]model.StageDefinition, error) {
	tpl, ok := r.current().workflows[workflowID]
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("workflow %q not found", workflowID))
	}

	stages := make([]model.StageDefinition, len(tpl.Stages))
	copy(stages, tpl.Stages)
	sort.SliceStable(stages, func(i, j int) bool {
		return stages[i].Order < stages[j].Order
	})
	for i := range stages {
		stages[i].Order = i + 1
	}
	return stages, nil
}

// AllWorkflows returns all loaded workflow templates.
func (r *Registry) AllWorkflows() []model.WorkflowTemplate {
	s := r.current()
	templates := make([]model.WorkflowTemplate, 0, len(s.workflows))
	for _, w := range s.workflows {
		templates = append(templates, w)
	}
	return templates
}

// Len returns the number of loaded workflow templates.
func (r *Registry) Len() int {
	return len(r.current().workflows)
}

// Checksum returns the combined checksum of all loaded templates.
func (r *Registry) Checksum() string {
	return r.current().checksum
}
