// Package services holds the HTTP clients for the external execution
// services: the build scheduler and the benchmark runner. Both are thin
// request/response wrappers; all retry and failure semantics live in the
// task graph, which reacts to the completion events the services post back.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/hakari/internal/actions"
)

const defaultTimeout = 30 * time.Second

// BuildService schedules builds over HTTP. Implements actions.BuildClient.
type BuildService struct {
	baseURL string
	client  *http.Client
}

// NewBuildService creates a client for the build scheduler at baseURL.
func NewBuildService(baseURL string, httpClient *http.Client) (*BuildService, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("services: build service URL is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &BuildService{baseURL: strings.TrimRight(baseURL, "/"), client: httpClient}, nil
}

// ScheduleBuild implements actions.BuildClient.
func (s *BuildService) ScheduleBuild(ctx context.Context, req actions.BuildRequest) (string, error) {
	var resp struct {
		BuildID string `json:"build_id"`
	}
	if err := postJSON(ctx, s.client, s.baseURL+"/v1/builds", req, &resp); err != nil {
		return "", fmt.Errorf("services: schedule build: %w", err)
	}
	if resp.BuildID == "" {
		return "", fmt.Errorf("services: build service returned no build_id")
	}
	return resp.BuildID, nil
}

// RunService schedules benchmark runs over HTTP. Implements actions.RunClient.
type RunService struct {
	baseURL string
	client  *http.Client
}

// NewRunService creates a client for the benchmark runner at baseURL.
func NewRunService(baseURL string, httpClient *http.Client) (*RunService, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("services: run service URL is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &RunService{baseURL: strings.TrimRight(baseURL, "/"), client: httpClient}, nil
}

// ScheduleRun implements actions.RunClient.
func (s *RunService) ScheduleRun(ctx context.Context, req actions.RunRequest) (string, error) {
	var resp struct {
		RunID string `json:"run_id"`
	}
	if err := postJSON(ctx, s.client, s.baseURL+"/v1/runs", req, &resp); err != nil {
		return "", fmt.Errorf("services: schedule run: %w", err)
	}
	if resp.RunID == "" {
		return "", fmt.Errorf("services: run service returned no run_id")
	}
	return resp.RunID, nil
}

// postJSON sends body as JSON and decodes the 2xx response into out.
func postJSON(ctx context.Context, client *http.Client, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Stub schedules nothing and returns generated ids. It stands in for both
// services in development when no service URLs are configured; completion
// events then have to be posted manually through the events endpoint.
type Stub struct{}

// ScheduleBuild implements actions.BuildClient.
func (Stub) ScheduleBuild(context.Context, actions.BuildRequest) (string, error) {
	return "stub-build-" + uuid.NewString(), nil
}

// ScheduleRun implements actions.RunClient.
func (Stub) ScheduleRun(context.Context, actions.RunRequest) (string, error) {
	return "stub-run-" + uuid.NewString(), nil
}
