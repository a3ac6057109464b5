// Package api contains the HTTP handlers for the notification adapter
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"lira/internal/auth"
	"lira/internal/config"
	"lira/internal/repository"
	"lira/internal/services"
	"lira/pkg/models"
)

// workflowQueryURL is where the data store subscription queries of each
// workflow version live.
const workflowQueryURL = "https://github.com/HumanCellAtlas/lira/tree/%s/subscription/elasticsearch_queries"

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Notifier submits workflows for data store notifications.
type Notifier interface {
	Submit(ctx context.Context, n models.Notification) (*models.SubmissionResult, error)
}

// Handler contains HTTP handlers for the notification adapter REST API
type Handler struct {
	cfg      *config.Config
	store    repository.WorkflowStore
	notifier Notifier
	logger   Logger
	launched time.Time
}

// NewHandler creates a new Handler with required dependencies
func NewHandler(cfg *config.Config, store repository.WorkflowStore, notifier Notifier, logger Logger) *Handler {
	return &Handler{
		cfg:      cfg,
		store:    store,
		notifier: notifier,
		logger:   logger,
		launched: time.Now().UTC(),
	}
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status string `json:"status"`
}

// HandleHealth returns basic health status (always returns 200 OK)
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthStatus{Status: "healthy"})
}

// SettingsInfo is the non-secret part of the running configuration.
type SettingsInfo struct {
	CacheWDLs          bool   `json:"cache_wdls"`
	CromwellURL        string `json:"cromwell_url"`
	DataStoreURL       string `json:"data_store_url"`
	IngestURL          string `json:"ingest_url"`
	LaunchTime         string `json:"launch_time"`
	MaxCromwellRetries int    `json:"max_cromwell_retries"`
	RunMode            string `json:"run_mode"`
	SubmitAndHold      bool   `json:"submit_and_hold_workflows"`
	UseCaaS            bool   `json:"use_caas"`
}

// VersionInfo names the adapter and adapter pipeline versions.
type VersionInfo struct {
	LiraVersion             string `json:"lira_version"`
	AdapterPipelinesVersion string `json:"adapter_pipelines_version"`
}

// WorkflowInfo describes one configured workflow.
type WorkflowInfo struct {
	Version        string `json:"version"`
	SubscriptionID string `json:"subscription_id"`
	Query          string `json:"query"`
}

// VersionResponse is returned by GET /version.
type VersionResponse struct {
	SettingsInfo SettingsInfo            `json:"settings_info"`
	VersionInfo  VersionInfo             `json:"version_info"`
	WorkflowInfo map[string]WorkflowInfo `json:"workflow_info"`
}

// HandleVersion reports the running configuration and the configured
// workflows.
func (h *Handler) HandleVersion(w http.ResponseWriter, r *http.Request) {
	runMode := "live_run"
	if h.cfg.DryRun {
		runMode = "dry_run"
	}

	resp := VersionResponse{
		SettingsInfo: SettingsInfo{
			CacheWDLs:          h.cfg.CacheWDLs,
			CromwellURL:        h.cfg.CromwellURL,
			DataStoreURL:       h.cfg.DSSURL,
			IngestURL:          h.cfg.IngestURL,
			LaunchTime:         h.launched.Format(time.RFC3339),
			MaxCromwellRetries: h.cfg.MaxCromwellRetries,
			RunMode:            runMode,
			SubmitAndHold:      h.cfg.SubmitAndHold,
			UseCaaS:            h.cfg.UseCaaS,
		},
		VersionInfo: VersionInfo{
			LiraVersion:             h.cfg.Version,
			AdapterPipelinesVersion: adapterPipelinesVersion(h.cfg.SubmitWDL),
		},
		WorkflowInfo: map[string]WorkflowInfo{},
	}
	for _, wf := range h.store.All() {
		resp.WorkflowInfo[wf.WorkflowName] = WorkflowInfo{
			Version:        wf.WorkflowVersion,
			SubscriptionID: wf.SubscriptionID,
			Query:          fmt.Sprintf(workflowQueryURL, wf.WorkflowVersion),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func adapterPipelinesVersion(submitWDL string) string {
	res, err := services.ParseGitHubResourceURL(submitWDL)
	if err != nil || res.Version == "" {
		return "Unknown"
	}
	return res.Version
}

// ServerHeader sets the Server header on every response.
func ServerHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", auth.ServerHeader)
		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Log error but can't change response at this point
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// writeError writes an RFC 7807 Problem Details JSON error response
func writeError(w http.ResponseWriter, status int, title, detail string) {
	problem := ProblemDetails{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: detail,
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}
