package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/caseflow-io/caseflow/model"
)

// MemoryCaseStore is an in-memory CaseStore for testing. Document bytes are
// copied on every read and write so callers observe the same byte-level
// isolation the PostgreSQL store provides.
type MemoryCaseStore struct {
	mu      sync.RWMutex
	cases   map[string]model.Case // key: case ID
	docs    map[string][]byte     // key: case ID
	deleted map[string]bool
}

// NewMemoryCaseStore creates a new in-memory case store.
func NewMemoryCaseStore() *MemoryCaseStore {
	return &MemoryCaseStore{
		cases:   make(map[string]model.Case),
		docs:    make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

// Create persists a new case with its initial ledger document.
func (s *MemoryCaseStore) Create(_ context.Context, c model.Case, doc []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cases[c.ID]; exists {
		return model.NewConflictError(
			fmt.Sprintf("case %q already exists", c.ID),
		)
	}

	c.ProgressDocument = nil
	c.StagesProgress = nil
	s.cases[c.ID] = c
	s.docs[c.ID] = cloneBytes(doc)
	return nil
}

// Get retrieves a case by ID, scoped to tenant.
func (s *MemoryCaseStore) Get(_ context.Context, tenantID, caseID string) (model.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.cases[caseID]
	if !exists || c.TenantID != tenantID || s.deleted[caseID] {
		return model.Case{}, model.NewNotFoundError(
			fmt.Sprintf("case %q not found", caseID),
		)
	}
	c.ProgressDocument = cloneBytes(s.docs[caseID])
	return c, nil
}

// ListByWorkflow returns cases of a workflow for a tenant, oldest first.
func (s *MemoryCaseStore) ListByWorkflow(_ context.Context, tenantID, workflowID string, limit int) ([]model.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Case
	for id, c := range s.cases {
		if c.TenantID != tenantID || c.WorkflowID != workflowID || s.deleted[id] {
			continue
		}
		c.ProgressDocument = cloneBytes(s.docs[id])
		result = append(result, c)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

// UpdateCase writes the scalar fields and the ledger document.
func (s *MemoryCaseStore) UpdateCase(_ context.Context, c model.Case, doc []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkExists(c.ID, c.TenantID); err != nil {
		return err
	}

	c.UpdatedAt = time.Now().UTC()
	c.ProgressDocument = nil
	c.StagesProgress = nil
	s.cases[c.ID] = c
	s.docs[c.ID] = cloneBytes(doc)
	return nil
}

// UpdateScalarsPreserveDocument writes the scalar fields and re-asserts the
// document bytes carried on the case.
func (s *MemoryCaseStore) UpdateScalarsPreserveDocument(_ context.Context, c model.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkExists(c.ID, c.TenantID); err != nil {
		return err
	}

	doc := c.ProgressDocument
	c.UpdatedAt = time.Now().UTC()
	c.ProgressDocument = nil
	c.StagesProgress = nil
	s.cases[c.ID] = c
	if doc != nil {
		s.docs[c.ID] = cloneBytes(doc)
	}
	return nil
}

// SoftDelete marks a case invalid, retaining its ledger document untouched.
func (s *MemoryCaseStore) SoftDelete(_ context.Context, tenantID, caseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkExists(caseID, tenantID); err != nil {
		return err
	}
	s.deleted[caseID] = true
	return nil
}

// Len returns the total number of live cases. For testing.
func (s *MemoryCaseStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for id := range s.cases {
		if !s.deleted[id] {
			n++
		}
	}
	return n
}

// RawDocument returns the stored document bytes for a case. For testing.
func (s *MemoryCaseStore) RawDocument(caseID string) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneBytes(s.docs[caseID])
}

func (s *MemoryCaseStore) checkExists(caseID, tenantID string) error {
	c, exists := s.cases[caseID]
	if !exists || c.TenantID != tenantID || s.deleted[caseID] {
		return model.NewNotFoundError(
			fmt.Sprintf("case %q not found", caseID),
		)
	}
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// StaticStageSource is a StageDefinitionSource backed by a fixed map. For
// testing and for file-backed deployments that resolve through the
// definition registry.
type StaticStageSource struct {
	mu     sync.RWMutex
	stages map[string][]model.StageDefinition
}

// NewStaticStageSource creates a StaticStageSource.
func NewStaticStageSource() *StaticStageSource {
	return &StaticStageSource{stages: make(map[string][]model.StageDefinition)}
}

// SetStages replaces the stage list for a workflow.
func (s *StaticStageSource) SetStages(workflowID string, defs []model.StageDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages[workflowID] = defs
}

// GetOrderedStages returns the workflow's stages re-ranked 1..N.
func (s *StaticStageSource) GetOrderedStages(_ context.Context, workflowID string) ([]model.StageDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	defs, ok := s.stages[workflowID]
	if !ok {
		return nil, model.NewNotFoundError(
			fmt.Sprintf("workflow %q not found", workflowID),
		)
	}

	out := make([]model.StageDefinition, len(defs))
	copy(out, defs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	for i := range out {
		out[i].Order = i + 1
	}
	return out, nil
}
