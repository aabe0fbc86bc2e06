package definition

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/caseflow-io/caseflow/model"
)

func testTemplates() []model.WorkflowTemplate {
	return []model.WorkflowTemplate{
		{
			ID:       "onboarding",
			Name:     "Customer Onboarding",
			Version:  "1.0.0",
			Checksum: "abc123",
			Stages: []model.StageDefinition{
				{ID: "stage-a", Name: "Application", Order: 1},
				{ID: "stage-b", Name: "Review", Order: 2},
				{ID: "stage-c", Name: "Approval", Order: 3},
			},
		},
		{
			ID:       "offboarding",
			Name:     "Customer Offboarding",
			Version:  "1.0.0",
			Checksum: "def456",
			Stages: []model.StageDefinition{
				{ID: "stage-x", Name: "Notice", Order: 10},
				{ID: "stage-y", Name: "Settlement", Order: 30},
			},
		},
	}
}

func TestRegistry_GetWorkflow(t *testing.T) {
	r := NewRegistry(testTemplates())

	w, ok := r.GetWorkflow("onboarding")
	if !ok {
		t.Fatal("GetWorkflow(onboarding) not found")
	}
	if w.Name != "Customer Onboarding" {
		t.Errorf("Name = %q, want Customer Onboarding", w.Name)
	}

	_, ok = r.GetWorkflow("unknown")
	if ok {
		t.Error("GetWorkflow(unknown) should return false")
	}
}

func TestRegistry_GetOrderedStages(t *testing.T) {
	r := NewRegistry(testTemplates())

	stages, err := r.GetOrderedStages(context.Background(), "onboarding")
	if err != nil {
		t.Fatalf("GetOrderedStages() error = %v", err)
	}
	if len(stages) != 3 {
		t.Fatalf("stages = %d, want 3", len(stages))
	}
	for i, s := range stages {
		if s.Order != i+1 {
			t.Errorf("stages[%d].Order = %d, want %d", i, s.Order, i+1)
		}
	}
	if stages[0].ID != "stage-a" {
		t.Errorf("stages[0].ID = %q, want stage-a", stages[0].ID)
	}
}

func TestRegistry_GetOrderedStages_reranksGaps(t *testing.T) {
	r := NewRegistry(testTemplates())

	// Declared orders 10 and 30 should collapse to 1 and 2.
	stages, err := r.GetOrderedStages(context.Background(), "offboarding")
	if err != nil {
		t.Fatalf("GetOrderedStages() error = %v", err)
	}
	if len(stages) != 2 {
		t.Fatalf("stages = %d, want 2", len(stages))
	}
	if stages[0].Order != 1 || stages[1].Order != 2 {
		t.Errorf("orders = %d,%d, want 1,2", stages[0].Order, stages[1].Order)
	}
	if stages[0].ID != "stage-x" {
		t.Errorf("stages[0].ID = %q, want stage-x", stages[0].ID)
	}
}

func TestRegistry_GetOrderedStages_unknownWorkflow(t *testing.T) {
	r := NewRegistry(testTemplates())

	_, err := r.GetOrderedStages(context.Background(), "nonexistent")
	if err == nil {
		t.Fatal("GetOrderedStages() for unknown workflow should return error")
	}
	var envelope *model.ErrorEnvelope
	if !errors.As(err, &envelope) || envelope.Code != model.ErrNotFound {
		t.Errorf("error = %v, want NOT_FOUND envelope", err)
	}
}

func TestRegistry_GetOrderedStages_doesNotMutateTemplate(t *testing.T) {
	templates := testTemplates()
	r := NewRegistry(templates)

	_, err := r.GetOrderedStages(context.Background(), "offboarding")
	if err != nil {
		t.Fatalf("GetOrderedStages() error = %v", err)
	}

	w, _ := r.GetWorkflow("offboarding")
	if w.Stages[0].Order != 10 {
		t.Errorf("template stage order mutated: %d, want 10", w.Stages[0].Order)
	}
}

func TestRegistry_AllWorkflows(t *testing.T) {
	r := NewRegistry(testTemplates())
	all := r.AllWorkflows()
	if len(all) != 2 {
		t.Errorf("AllWorkflows() returned %d, want 2", len(all))
	}
}

func TestRegistry_Len(t *testing.T) {
	r := NewRegistry(testTemplates())
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
}

func TestRegistry_Checksum(t *testing.T) {
	r := NewRegistry(testTemplates())
	cs := r.Checksum()
	if cs == "" {
		t.Error("Checksum should not be empty")
	}
}

func TestRegistry_Replace(t *testing.T) {
	r := NewRegistry(testTemplates())

	// Initially has the onboarding workflow.
	_, ok := r.GetWorkflow("onboarding")
	if !ok {
		t.Fatal("before replace: onboarding not found")
	}

	// Replace with empty.
	r.Replace(nil)

	_, ok = r.GetWorkflow("onboarding")
	if ok {
		t.Error("after replace with nil: onboarding should not be found")
	}
	if r.Len() != 0 {
		t.Errorf("Len() after replace = %d, want 0", r.Len())
	}
}

func TestRegistry_ConcurrentReads(t *testing.T) {
	r := NewRegistry(testTemplates())

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.GetWorkflow("onboarding")
			r.GetOrderedStages(context.Background(), "onboarding")
			r.AllWorkflows()
			r.Checksum()
		}()
	}
	wg.Wait()
}

func TestRegistry_ConcurrentReadWrite(t *testing.T) {
	r := NewRegistry(testTemplates())

	var wg sync.WaitGroup

	// Concurrent readers.
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.GetWorkflow("onboarding")
				r.AllWorkflows()
			}
		}()
	}

	// Concurrent writer.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 10; j++ {
			r.Replace(testTemplates())
		}
	}()

	wg.Wait()
}
