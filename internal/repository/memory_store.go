package repository

import (
	"fmt"
	"slices"

	"lira/pkg/models"
)

// MemoryWorkflowStore is an in-memory implementation of the WorkflowStore
// interface. It is built once at startup and read-only afterwards.
type MemoryWorkflowStore struct {
	ordered []models.WorkflowConfig
	bySub   map[string]models.WorkflowConfig
}

// NewMemoryWorkflowStore creates a new MemoryWorkflowStore. Duplicate or
// empty subscription ids are rejected.
func NewMemoryWorkflowStore(workflows []models.WorkflowConfig) (*MemoryWorkflowStore, error) {
	s := &MemoryWorkflowStore{
		ordered: make([]models.WorkflowConfig, 0, len(workflows)),
		bySub:   make(map[string]models.WorkflowConfig, len(workflows)),
	}
	for _, wf := range workflows {
		if wf.SubscriptionID == "" {
			return nil, fmt.Errorf("workflow %q has no subscription id", wf.WorkflowName)
		}
		if _, ok := s.bySub[wf.SubscriptionID]; ok {
			return nil, fmt.Errorf("duplicate subscription id %s", wf.SubscriptionID)
		}
		wf.AnalysisWDLs = slices.Clone(wf.AnalysisWDLs)
		s.bySub[wf.SubscriptionID] = wf
		s.ordered = append(s.ordered, wf)
	}
	return s, nil
}

// BySubscription returns the workflow triggered by a subscription.
func (s *MemoryWorkflowStore) BySubscription(subscriptionID string) (models.WorkflowConfig, bool) {
	wf, ok := s.bySub[subscriptionID]
	return wf, ok
}

// All returns every configured workflow in configuration order.
func (s *MemoryWorkflowStore) All() []models.WorkflowConfig {
	return slices.Clone(s.ordered)
}
