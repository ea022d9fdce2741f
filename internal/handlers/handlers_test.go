package handlers_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hakari/internal/actions"
	"github.com/ashita-ai/hakari/internal/engine"
	"github.com/ashita-ai/hakari/internal/handlers"
	"github.com/ashita-ai/hakari/internal/model"
	"github.com/ashita-ai/hakari/internal/testutil"
)

type fakeBuilds struct{ calls int }

func (f *fakeBuilds) ScheduleBuild(context.Context, actions.BuildRequest) (string, error) {
	f.calls++
	return fmt.Sprintf("build-%d", f.calls), nil
}

type fakeRuns struct{ calls int }

func (f *fakeRuns) ScheduleRun(context.Context, actions.RunRequest) (string, error) {
	f.calls++
	return fmt.Sprintf("run-%d", f.calls), nil
}

type dropEnqueuer struct{}

func (dropEnqueuer) Enqueue(*model.Event) error { return nil }

func newRegistry(t *testing.T) (*engine.Registry, *fakeBuilds, *fakeRuns) {
	t.Helper()
	builds := &fakeBuilds{}
	runs := &fakeRuns{}
	r := engine.NewRegistry()
	require.NoError(t, handlers.RegisterBuiltins(r, handlers.Deps{
		Builds: builds,
		Runs:   runs,
		Events: dropEnqueuer{},
	}))
	return r, builds, runs
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func storeLoader(store *testutil.MemStore, jobID uuid.UUID) engine.Loader {
	return func(ctx context.Context) ([]*model.Task, error) {
		return store.ListTasks(ctx, jobID)
	}
}

func TestAdderGraphEndToEnd(t *testing.T) {
	// Two constant leaves feeding one sum vertex: pure computation, so the
	// pass must produce the result in context and zero actions.
	jobID := uuid.New()
	registry, _, _ := newRegistry(t)

	g, err := engine.NewTaskGraph(
		[]engine.Vertex{
			{ID: "input2", Type: handlers.TypeConstant, Payload: map[string]any{"value": 2.0}},
			{ID: "input3", Type: handlers.TypeConstant, Payload: map[string]any{"value": 3.0}},
			{ID: "sum", Type: handlers.TypeOperatorSum, Payload: map[string]any{}},
		},
		[]engine.Dependency{
			{From: "sum", To: "input2"},
			{From: "sum", To: "input3"},
		},
	)
	require.NoError(t, err)
	tasks := engine.Materialize(jobID, g)

	ec, acts, err := engine.Evaluate(context.Background(), &model.Event{Type: model.EventSelect},
		registry, func(context.Context) ([]*model.Task, error) { return tasks, nil })
	require.NoError(t, err)
	assert.Equal(t, 5.0, ec["sum"])
	assert.Empty(t, acts)
}

func seedBisection(t *testing.T, store *testutil.MemStore, changes ...string) *model.Job {
	t.Helper()
	g, err := handlers.BisectionGraph(handlers.BisectionSpec{
		Changes:        changes,
		Builder:        "linux-perf",
		Target:         "performance_test_suite",
		Benchmark:      "speedometer",
		ComparisonMode: model.ComparePerformance,
		Magnitude:      1.0,
	})
	require.NoError(t, err)

	job := &model.Job{
		ID:             uuid.New(),
		User:           "user@example.com",
		URL:            "https://hakari.example.com/jobs",
		ComparisonMode: model.ComparePerformance,
		RootTask:       handlers.RootTaskID,
		State:          model.JobQueued,
	}
	require.NoError(t, store.CreateJob(context.Background(), job, engine.Materialize(job.ID, g)))
	return job
}

// pass evaluates one event against the persisted graph and applies the
// resulting actions, mimicking one dispatcher cycle.
func pass(t *testing.T, registry *engine.Registry, store *testutil.MemStore, job *model.Job, ev *model.Event) int {
	t.Helper()
	_, acts, err := engine.Evaluate(context.Background(), ev, registry, storeLoader(store, job.ID))
	require.NoError(t, err)
	return actions.NewExecutor(store, discard()).Run(context.Background(), acts)
}

func TestBuildDispatchLifecycle(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemStore()
	registry, builds, runs := newRegistry(t)
	job := seedBisection(t, store, "rev_a", "rev_b")

	// Initiate: every pending build task dispatches exactly once.
	applied := pass(t, registry, store, job, &model.Event{Type: model.EventInitiate, JobID: job.ID})
	assert.Equal(t, 2, applied)
	assert.Equal(t, 2, builds.calls)

	task, err := store.GetTask(ctx, job.ID, "build_rev_a")
	require.NoError(t, err)
	assert.Equal(t, model.TaskOngoing, task.State)

	j, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobOngoing, j.State)

	// Duplicate initiate: stale preconditions, nothing re-dispatches.
	applied = pass(t, registry, store, job, &model.Event{Type: model.EventInitiate, JobID: job.ID})
	assert.Equal(t, 0, applied)
	assert.Equal(t, 2, builds.calls)

	// Build completion unblocks the dependent run on the next pass.
	applied = pass(t, registry, store, job, &model.Event{
		Type:       model.EventUpdate,
		JobID:      job.ID,
		TargetTask: "build_rev_a",
		Payload:    map[string]any{"status": "completed", "isolate": "iso-a"},
	})
	assert.Equal(t, 1, applied)

	task, err = store.GetTask(ctx, job.ID, "build_rev_a")
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, task.State)

	applied = pass(t, registry, store, job, &model.Event{Type: model.EventSelect, JobID: job.ID})
	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, runs.calls)

	task, err = store.GetTask(ctx, job.ID, "run_rev_a")
	require.NoError(t, err)
	assert.Equal(t, model.TaskOngoing, task.State)
}

func TestBuildFailureFailsDownstream(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemStore()
	registry, _, _ := newRegistry(t)
	job := seedBisection(t, store, "rev_a", "rev_b")

	pass(t, registry, store, job, &model.Event{Type: model.EventInitiate, JobID: job.ID})
	pass(t, registry, store, job, &model.Event{
		Type:       model.EventUpdate,
		JobID:      job.ID,
		TargetTask: "build_rev_a",
		Payload:    map[string]any{"status": "failed", "reason": "compile error"},
	})

	build, err := store.GetTask(ctx, job.ID, "build_rev_a")
	require.NoError(t, err)
	assert.Equal(t, model.TaskFailed, build.State)
	assert.Equal(t, "compile error", build.LastError)

	// Next pass: the run fails fast instead of waiting forever.
	pass(t, registry, store, job, &model.Event{Type: model.EventSelect, JobID: job.ID})
	run, err := store.GetTask(ctx, job.ID, "run_rev_a")
	require.NoError(t, err)
	assert.Equal(t, model.TaskFailed, run.State)
	assert.Contains(t, run.LastError, "build dependency failed")
}

// driveToSamples walks one change's chain to completion with the given
// sample vector.
func driveToSamples(t *testing.T, registry *engine.Registry, store *testutil.MemStore, job *model.Job, change string, values []float64) {
	t.Helper()
	pass(t, registry, store, job, &model.Event{
		Type:       model.EventUpdate,
		JobID:      job.ID,
		TargetTask: "build_" + change,
		Payload:    map[string]any{"status": "completed", "isolate": "iso-" + change},
	})
	pass(t, registry, store, job, &model.Event{Type: model.EventSelect, JobID: job.ID})
	anyVals := make([]any, len(values))
	for i, v := range values {
		anyVals[i] = v
	}
	pass(t, registry, store, job, &model.Event{
		Type:       model.EventUpdate,
		JobID:      job.ID,
		TargetTask: "run_" + change,
		Payload:    map[string]any{"status": "completed", "values": anyVals},
	})
}

func TestCulpritFoundEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemStore()
	registry, _, _ := newRegistry(t)
	job := seedBisection(t, store, "rev_a", "rev_b")

	pass(t, registry, store, job, &model.Event{Type: model.EventInitiate, JobID: job.ID})

	fast := make([]float64, 20)
	slow := make([]float64, 20)
	for i := range fast {
		fast[i] = 100 + float64(i)
		slow[i] = 200 + float64(i)
	}
	driveToSamples(t, registry, store, job, "rev_a", fast)
	driveToSamples(t, registry, store, job, "rev_b", slow)

	// One more pass lets read_value and find_culprit conclude.
	pass(t, registry, store, job, &model.Event{Type: model.EventSelect, JobID: job.ID})
	pass(t, registry, store, job, &model.Event{Type: model.EventSelect, JobID: job.ID})

	root, err := store.GetTask(ctx, job.ID, handlers.RootTaskID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, root.State)
	assert.Equal(t, []string{"rev_b"}, root.Payload["culprits"])

	j, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, j.State)
}

func TestCulpritIndistinguishableSamples(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemStore()
	registry, _, _ := newRegistry(t)
	job := seedBisection(t, store, "rev_a", "rev_b")

	pass(t, registry, store, job, &model.Event{Type: model.EventInitiate, JobID: job.ID})

	same := make([]float64, 20)
	for i := range same {
		same[i] = 100 + float64(i)
	}
	driveToSamples(t, registry, store, job, "rev_a", same)
	driveToSamples(t, registry, store, job, "rev_b", same)
	pass(t, registry, store, job, &model.Event{Type: model.EventSelect, JobID: job.ID})
	pass(t, registry, store, job, &model.Event{Type: model.EventSelect, JobID: job.ID})

	root, err := store.GetTask(ctx, job.ID, handlers.RootTaskID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, root.State)
	assert.Empty(t, root.Payload["culprits"])
}

func TestCulpritWaitsForSamples(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemStore()
	registry, _, _ := newRegistry(t)
	job := seedBisection(t, store, "rev_a", "rev_b")

	pass(t, registry, store, job, &model.Event{Type: model.EventInitiate, JobID: job.ID})
	fast := make([]float64, 20)
	for i := range fast {
		fast[i] = float64(i)
	}
	driveToSamples(t, registry, store, job, "rev_a", fast)
	pass(t, registry, store, job, &model.Event{Type: model.EventSelect, JobID: job.ID})

	// Only one change measured: the decision task must not conclude.
	root, err := store.GetTask(ctx, job.ID, handlers.RootTaskID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskPending, root.State)
}

func TestCancellationEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemStore()
	registry, _, _ := newRegistry(t)
	job := seedBisection(t, store, "rev_a", "rev_b")

	pass(t, registry, store, job, &model.Event{Type: model.EventInitiate, JobID: job.ID})
	pass(t, registry, store, job, &model.Event{Type: model.EventCancel, JobID: job.ID})

	for _, id := range []string{"build_rev_a", "run_rev_a", handlers.RootTaskID} {
		task, err := store.GetTask(ctx, job.ID, id)
		require.NoError(t, err)
		assert.Equal(t, model.TaskCancelled, task.State, "task %s", id)
	}
	j, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCancelled, j.State)
}

func TestBisectionGraphShape(t *testing.T) {
	g, err := handlers.BisectionGraph(handlers.BisectionSpec{
		Changes:   []string{"a", "b", "c"},
		Benchmark: "speedometer",
	})
	require.NoError(t, err)
	assert.Equal(t, 10, g.Len(), "three chains of three plus the root")
	assert.Equal(t,
		[]string{"read_value_a", "read_value_b", "read_value_c"},
		g.DependenciesOf(handlers.RootTaskID),
		"culprit dependencies must keep commit order")
	assert.Equal(t, []string{"build_a"}, g.DependenciesOf("run_a"))

	_, err = handlers.BisectionGraph(handlers.BisectionSpec{Changes: []string{"only"}})
	assert.Error(t, err)
}
