package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"lira/internal/config"
	"lira/pkg/models"
)

// Scopes requested for Cromwell-as-a-service credentials.
var caasScopes = []string{
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// SubmissionError is returned when the engine answers a submission with a
// non-success status. Body holds the engine's text verbatim.
type SubmissionError struct {
	StatusCode int
	Body       string
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("workflow engine returned status %d: %s", e.StatusCode, e.Body)
}

// HTTPCromwellClient is an HTTP implementation of the WorkflowEngine
// interface.
type HTTPCromwellClient struct {
	url      string
	client   *http.Client
	user     string
	password string
}

// NewHTTPCromwellClient creates a new HTTPCromwellClient that
// authenticates with HTTP basic auth.
func NewHTTPCromwellClient(url, user, password string, timeout time.Duration) *HTTPCromwellClient {
	return &HTTPCromwellClient{
		url:      strings.TrimRight(url, "/"),
		client:   &http.Client{Timeout: timeout},
		user:     user,
		password: password,
	}
}

// NewCaaSCromwellClient creates a new HTTPCromwellClient that
// authenticates with a Google service account key, as required by
// Cromwell-as-a-service.
func NewCaaSCromwellClient(ctx context.Context, url string, serviceAccountJSON []byte, timeout time.Duration) (*HTTPCromwellClient, error) {
	creds, err := google.CredentialsFromJSON(ctx, serviceAccountJSON, caasScopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to load caas credentials: %w", err)
	}

	client := oauth2.NewClient(ctx, creds.TokenSource)
	client.Timeout = timeout
	return &HTTPCromwellClient{
		url:    strings.TrimRight(url, "/"),
		client: client,
	}, nil
}

// NewCromwellClient picks the client flavor the configuration asks for.
func NewCromwellClient(ctx context.Context, cfg *config.Config) (*HTTPCromwellClient, error) {
	if !cfg.UseCaaS {
		return NewHTTPCromwellClient(cfg.CromwellURL, cfg.CromwellUser, cfg.CromwellPassword, cfg.Timeouts.Submit), nil
	}
	key, err := os.ReadFile(cfg.CaaSKey)
	if err != nil {
		return nil, fmt.Errorf("read caas key: %w", err)
	}
	return NewCaaSCromwellClient(ctx, cfg.CromwellURL, key, cfg.Timeouts.Submit)
}

// Submit starts one workflow.
func (c *HTTPCromwellClient) Submit(ctx context.Context, s *models.Submission) (*models.SubmissionResult, error) {
	body, contentType, err := encodeSubmission(s)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	respBody, status, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 201 {
		return nil, &SubmissionError{StatusCode: status, Body: string(respBody)}
	}

	result := &models.SubmissionResult{Body: respBody}
	if err := json.Unmarshal(respBody, result); err != nil {
		return nil, fmt.Errorf("failed to decode response body: %w", err)
	}
	return result, nil
}

// UpdateLabels adds or replaces labels on an existing workflow.
func (c *HTTPCromwellClient) UpdateLabels(ctx context.Context, workflowID string, labels map[string]string) error {
	payload, err := json.Marshal(labels)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.url+"/"+workflowID+"/labels", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	respBody, status, err := c.do(req)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &SubmissionError{StatusCode: status, Body: string(respBody)}
	}
	return nil
}

func (c *HTTPCromwellClient) do(req *http.Request) ([]byte, int, error) {
	if c.user != "" || c.password != "" {
		req.SetBasicAuth(c.user, c.password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, resp.StatusCode, nil
}

type formFile struct {
	field, filename string
	content         []byte
}

// encodeSubmission builds the multipart form the engine's submit
// endpoint expects.
func encodeSubmission(s *models.Submission) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	files := []formFile{
		{"workflowSource", "workflow.wdl", s.WDL},
		{"workflowOptions", "options.json", s.Options},
		{"labels", "labels.json", s.Labels},
		{"workflowDependencies", "dependencies.zip", s.Dependencies},
	}
	for i, inputs := range s.Inputs {
		field := "workflowInputs"
		if i > 0 {
			field = fmt.Sprintf("workflowInputs_%d", i+1)
		}
		files = append(files, formFile{field, field + ".json", inputs})
	}

	for _, f := range files {
		if f.content == nil {
			continue
		}
		part, err := w.CreateFormFile(f.field, f.filename)
		if err != nil {
			return nil, "", fmt.Errorf("create form field %s: %w", f.field, err)
		}
		if _, err := part.Write(f.content); err != nil {
			return nil, "", fmt.Errorf("write form field %s: %w", f.field, err)
		}
	}

	if s.OnHold {
		if err := w.WriteField("workflowOnHold", "true"); err != nil {
			return nil, "", err
		}
	}
	if s.CollectionName != "" {
		if err := w.WriteField("collectionName", s.CollectionName); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
