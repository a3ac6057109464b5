package services

import (
	"context"

	"lira/internal/submission"
	"lira/pkg/models"
)

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// WorkflowEngine is an interface for launching workflows.
type WorkflowEngine interface {
	// Submit starts a workflow and returns the engine's id and status.
	Submit(ctx context.Context, s *models.Submission) (*models.SubmissionResult, error)
}

// ArtifactSource is an interface for obtaining the static assets of a
// workflow.
type ArtifactSource interface {
	GetOrBuild(ctx context.Context, cfg models.WorkflowConfig, submitWDL string) (*submission.Artifact, error)
	Stats() submission.Stats
}

// InputHasher is an interface for computing the dedup label of a bundle.
type InputHasher interface {
	Compute(ctx context.Context, workflowName, bundleUUID, bundleVersion string) (map[string]string, error)
}
