package services_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hakari/internal/actions"
	"github.com/ashita-ai/hakari/internal/services"
)

func TestScheduleBuild(t *testing.T) {
	var got actions.BuildRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/builds", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]string{"build_id": "bb-42"})
	}))
	defer srv.Close()

	client, err := services.NewBuildService(srv.URL, srv.Client())
	require.NoError(t, err)

	id, err := client.ScheduleBuild(context.Background(), actions.BuildRequest{
		Change:  "rev_a",
		Builder: "linux-perf",
		Target:  "performance_test_suite",
	})
	require.NoError(t, err)
	assert.Equal(t, "bb-42", id)
	assert.Equal(t, "rev_a", got.Change)
	assert.Equal(t, "linux-perf", got.Builder)
}

func TestScheduleBuildErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "builder unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := services.NewBuildService(srv.URL, srv.Client())
	require.NoError(t, err)

	_, err = client.ScheduleBuild(context.Background(), actions.BuildRequest{Change: "rev_a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestScheduleBuildMissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	client, err := services.NewBuildService(srv.URL, srv.Client())
	require.NoError(t, err)

	_, err = client.ScheduleBuild(context.Background(), actions.BuildRequest{Change: "rev_a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no build_id")
}

func TestScheduleRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/runs", r.URL.Path)
		var req actions.RunRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "bb-42", req.BuildID)
		assert.Equal(t, 10, req.Iterations)
		_ = json.NewEncoder(w).Encode(map[string]string{"run_id": "swarm-7"})
	}))
	defer srv.Close()

	client, err := services.NewRunService(srv.URL, srv.Client())
	require.NoError(t, err)

	id, err := client.ScheduleRun(context.Background(), actions.RunRequest{
		Change:     "rev_a",
		BuildID:    "bb-42",
		Benchmark:  "speedometer",
		Iterations: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, "swarm-7", id)
}

func TestNewServiceRequiresURL(t *testing.T) {
	_, err := services.NewBuildService("", nil)
	assert.Error(t, err)
	_, err = services.NewRunService("", nil)
	assert.Error(t, err)
}

func TestStubGeneratesIDs(t *testing.T) {
	var s services.Stub
	a, err := s.ScheduleBuild(context.Background(), actions.BuildRequest{})
	require.NoError(t, err)
	b, err := s.ScheduleBuild(context.Background(), actions.BuildRequest{})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "stub-build-")
}
