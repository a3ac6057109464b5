package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lira/pkg/models"
)

func workflows() []models.WorkflowConfig {
	return []models.WorkflowConfig{
		{SubscriptionID: "sub-ss2", WorkflowName: "AdapterSmartSeq2SingleCell", AnalysisWDLs: []string{"a.wdl"}},
		{SubscriptionID: "sub-optimus", WorkflowName: "AdapterOptimus", AnalysisWDLs: []string{"b.wdl"}},
	}
}

func TestMemoryWorkflowStore(t *testing.T) {
	store, err := NewMemoryWorkflowStore(workflows())
	require.NoError(t, err)

	wf, ok := store.BySubscription("sub-optimus")
	require.True(t, ok)
	assert.Equal(t, "AdapterOptimus", wf.WorkflowName)

	_, ok = store.BySubscription("unknown")
	assert.False(t, ok)

	all := store.All()
	require.Len(t, all, 2)
	assert.Equal(t, "sub-ss2", all[0].SubscriptionID)
}

func TestMemoryWorkflowStoreRejectsDuplicates(t *testing.T) {
	wfs := append(workflows(), models.WorkflowConfig{SubscriptionID: "sub-ss2", WorkflowName: "Other"})

	_, err := NewMemoryWorkflowStore(wfs)
	assert.ErrorContains(t, err, "duplicate subscription id sub-ss2")
}

func TestMemoryWorkflowStoreRejectsEmptySubscription(t *testing.T) {
	_, err := NewMemoryWorkflowStore([]models.WorkflowConfig{{WorkflowName: "AdapterOptimus"}})
	assert.Error(t, err)
}

func TestMemoryWorkflowStoreIsolatedFromCaller(t *testing.T) {
	wfs := workflows()
	store, err := NewMemoryWorkflowStore(wfs)
	require.NoError(t, err)

	wfs[0].AnalysisWDLs[0] = "mutated.wdl"
	all := store.All()
	all[1].WorkflowName = "mutated"

	wf, _ := store.BySubscription("sub-ss2")
	assert.Equal(t, []string{"a.wdl"}, wf.AnalysisWDLs)
	wf, _ = store.BySubscription("sub-optimus")
	assert.Equal(t, "AdapterOptimus", wf.WorkflowName)
}
