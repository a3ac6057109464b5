package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"lira/internal/config"
	"lira/internal/inputhash"
	"lira/internal/labels"
	"lira/internal/repository"
	"lira/pkg/models"
)

var (
	// ErrUnmatchedSubscription means no workflow is configured for the
	// notification's subscription. Redelivery cannot fix it, so callers
	// should acknowledge the notification.
	ErrUnmatchedSubscription = errors.New("no workflow configured for subscription")
	// ErrUpstreamFetch means an asset or metadata download failed.
	ErrUpstreamFetch = errors.New("upstream fetch failed")
	// ErrInvalidNotification means the notification body is unusable.
	ErrInvalidNotification = errors.New("invalid notification")
)

// DryRunResult is returned instead of contacting the engine in dry-run
// mode.
var DryRunResult = models.SubmissionResult{ID: "fake_id", Status: "fake_status"}

// NotificationService turns data store notifications into workflow
// submissions.
type NotificationService struct {
	cfg       *config.Config
	store     repository.WorkflowStore
	artifacts ArtifactSource
	hasher    InputHasher
	engine    WorkflowEngine
	logger    Logger

	caasKey   []byte
	caasEmail string
}

// NewNotificationService creates a new NotificationService. In
// Cromwell-as-a-service mode the service account key is read here so a
// bad key stops startup.
func NewNotificationService(cfg *config.Config, store repository.WorkflowStore, artifacts ArtifactSource, hasher InputHasher, engine WorkflowEngine, logger Logger) (*NotificationService, error) {
	s := &NotificationService{
		cfg:       cfg,
		store:     store,
		artifacts: artifacts,
		hasher:    hasher,
		engine:    engine,
		logger:    logger,
	}

	if cfg.UseCaaS {
		key, err := os.ReadFile(cfg.CaaSKey)
		if err != nil {
			return nil, fmt.Errorf("read caas key: %w", err)
		}
		var parsed struct {
			ClientEmail string `json:"client_email"`
		}
		if err := json.Unmarshal(key, &parsed); err != nil {
			return nil, fmt.Errorf("parse caas key: %w", err)
		}
		if parsed.ClientEmail == "" {
			return nil, errors.New("caas key has no client_email")
		}
		s.caasKey = key
		s.caasEmail = parsed.ClientEmail
	}
	return s, nil
}

// Submit launches the workflow subscribed to the notification.
func (s *NotificationService) Submit(ctx context.Context, n models.Notification) (*models.SubmissionResult, error) {
	if err := n.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidNotification, err)
	}
	uuid, version := n.Match.BundleUUID, n.Match.BundleVersion

	wf, ok := s.store.BySubscription(n.SubscriptionID)
	if !ok {
		s.logger.Error("no wdl config found for subscription", "subscription_id", n.SubscriptionID)
		return nil, ErrUnmatchedSubscription
	}
	s.logger.Info("preparing workflow submission",
		"workflow", wf.WorkflowName, "bundle_uuid", uuid, "bundle_version", version)

	artifact, err := s.artifacts.GetOrBuild(ctx, wf, s.cfg.SubmitWDL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrUpstreamFetch, err)
	}
	stats := s.artifacts.Stats()
	s.logger.Debug("submission cache", "hits", stats.Hits, "misses", stats.Misses, "size", stats.Size)

	hashLabel, err := s.hasher.Compute(ctx, wf.WorkflowName, uuid, version)
	switch {
	case errors.Is(err, models.ErrBundleNotFound):
		s.logger.Warn("bundle not found, submitting without hash label", "bundle_uuid", uuid, "bundle_version", version)
		hashLabel = nil
	case errors.Is(err, inputhash.ErrIncompleteMetadata):
		s.logger.Warn("cannot hash bundle inputs, submitting without hash label", "bundle_uuid", uuid, "error", err)
		hashLabel = nil
	case err != nil:
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrUpstreamFetch, err)
	}

	labelSet, err := labels.Compose(wf.WorkflowName, wf.WorkflowVersion, uuid, version,
		n.Labels, n.Attachments, labels.FromStrings(hashLabel))
	if err != nil {
		return nil, err
	}
	labelsJSON, err := json.Marshal(labelSet)
	if err != nil {
		return nil, fmt.Errorf("encode labels: %w", err)
	}

	inputs, err := json.Marshal(s.composeInputs(wf.WorkflowName, uuid, version))
	if err != nil {
		return nil, fmt.Errorf("encode inputs: %w", err)
	}

	if s.cfg.DryRun {
		s.logger.Warn("not launching workflow because lira is in dry_run mode", "workflow", wf.WorkflowName)
		result := DryRunResult
		result.Body, _ = json.Marshal(result)
		return &result, nil
	}

	options := artifact.Options
	collection := ""
	if s.cfg.UseCaaS {
		if options, err = s.composeCaaSOptions(artifact.Options); err != nil {
			return nil, err
		}
		collection = s.cfg.CollectionName
	}

	deps, err := artifact.DependencyArchive()
	if err != nil {
		return nil, fmt.Errorf("build dependency archive: %w", err)
	}

	result, err := s.engine.Submit(ctx, &models.Submission{
		WDL:            artifact.WDL,
		Inputs:         [][]byte{inputs, artifact.StaticInputs},
		Options:        options,
		Dependencies:   deps,
		Labels:         labelsJSON,
		OnHold:         s.cfg.SubmitAndHold,
		CollectionName: collection,
	})
	if err != nil {
		var subErr *SubmissionError
		if errors.As(err, &subErr) {
			s.logger.Error("workflow engine rejected submission", "status", subErr.StatusCode, "body", subErr.Body)
		}
		return nil, err
	}

	s.logger.Info("workflow submitted", "workflow", wf.WorkflowName, "id", result.ID, "status", result.Status)
	return result, nil
}

// composeInputs returns the bundle-specific workflow inputs.
func (s *NotificationService) composeInputs(workflowName, uuid, version string) map[string]any {
	return map[string]any{
		workflowName + ".bundle_uuid":          uuid,
		workflowName + ".bundle_version":       version,
		workflowName + ".runtime_environment":  s.cfg.Env,
		workflowName + ".dss_url":              s.cfg.DSSURL,
		workflowName + ".submit_url":           s.cfg.IngestURL,
		workflowName + ".schema_url":           s.cfg.SchemaURL,
		workflowName + ".max_cromwell_retries": s.cfg.MaxCromwellRetries,
		workflowName + ".cromwell_url":         s.cfg.CromwellURL,
	}
}

// composeCaaSOptions adds the Google backend settings Cromwell-as-a-service
// needs to the workflow options.
func (s *NotificationService) composeCaaSOptions(options []byte) ([]byte, error) {
	merged := map[string]any{}
	if len(options) > 0 {
		if err := json.Unmarshal(options, &merged); err != nil {
			return nil, fmt.Errorf("parse workflow options: %w", err)
		}
		if merged == nil {
			merged = map[string]any{}
		}
	}
	merged["jes_gcs_root"] = s.cfg.GCSRoot
	merged["google_project"] = s.cfg.GoogleProject
	merged["user_service_account_json"] = string(s.caasKey)
	merged["google_compute_service_account"] = s.caasEmail
	return json.Marshal(merged)
}
