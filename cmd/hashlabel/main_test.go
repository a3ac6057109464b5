package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockComputer struct {
	mock.Mock
}

func (m *mockComputer) Compute(ctx context.Context, workflowName, bundleUUID, bundleVersion string) (map[string]string, error) {
	args := m.Called(ctx, workflowName, bundleUUID, bundleVersion)
	l, _ := args.Get(0).(map[string]string)
	return l, args.Error(1)
}

type mockPatcher struct {
	mock.Mock
}

func (m *mockPatcher) UpdateLabels(ctx context.Context, workflowID string, labels map[string]string) error {
	return m.Called(ctx, workflowID, labels).Error(0)
}

func testOptions() *options {
	return &options{workflowName: "AdapterOptimus", bundleUUID: "bundle-1", bundleVersion: "v1", workflowID: "wf-1"}
}

func TestComputeLabelPrints(t *testing.T) {
	hasher := new(mockComputer)
	hasher.On("Compute", mock.Anything, "AdapterOptimus", "bundle-1", "v1").Return(map[string]string{"hash-id": "abc"}, nil)

	var out bytes.Buffer
	require.NoError(t, computeLabel(context.Background(), hasher, nil, testOptions(), &out))
	assert.JSONEq(t, `{"hash-id":"abc"}`, out.String())
}

func TestComputeLabelPatchesWorkflow(t *testing.T) {
	hasher := new(mockComputer)
	hasher.On("Compute", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(map[string]string{"hash-id": "abc"}, nil)
	patcher := new(mockPatcher)
	patcher.On("UpdateLabels", mock.Anything, "wf-1", map[string]string{"hash-id": "abc"}).Return(nil)

	var out bytes.Buffer
	require.NoError(t, computeLabel(context.Background(), hasher, patcher, testOptions(), &out))
	patcher.AssertExpectations(t)
}

func TestComputeLabelErrors(t *testing.T) {
	hasher := new(mockComputer)
	hasher.On("Compute", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, nil).Once()
	hasher.On("Compute", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("dss down")).Once()
	patcher := new(mockPatcher)

	var out bytes.Buffer
	assert.ErrorContains(t, computeLabel(context.Background(), hasher, patcher, testOptions(), &out), "no hash label")
	assert.ErrorContains(t, computeLabel(context.Background(), hasher, patcher, testOptions(), &out), "dss down")
	patcher.AssertNotCalled(t, "UpdateLabels", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, out.String())
}
