package actions_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hakari/internal/actions"
	"github.com/ashita-ai/hakari/internal/model"
	"github.com/ashita-ai/hakari/internal/testutil"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedJob(t *testing.T, store *testutil.MemStore, rootTask string, taskIDs ...string) *model.Job {
	t.Helper()
	job := &model.Job{
		ID:             uuid.New(),
		User:           "user@example.com",
		URL:            "https://hakari.example.com/jobs",
		ComparisonMode: model.ComparePerformance,
		RootTask:       rootTask,
		State:          model.JobQueued,
	}
	tasks := make([]*model.Task, 0, len(taskIDs))
	for _, id := range taskIDs {
		tasks = append(tasks, &model.Task{
			JobID: job.ID,
			ID:    id,
			Type:  "node",
			State: model.TaskPending,
		})
	}
	require.NoError(t, store.CreateJob(context.Background(), job, tasks))
	return job
}

func TestExecutorAppliesActions(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemStore()
	job := seedJob(t, store, "root", "a", "root")
	ex := actions.NewExecutor(store, discard())

	applied := ex.Run(ctx, []actions.Action{
		actions.MarkTaskOngoing{JobID: job.ID, TaskID: "a"},
		actions.CompleteTask{JobID: job.ID, TaskID: "a"},
	})
	assert.Equal(t, 2, applied)

	task, err := store.GetTask(ctx, job.ID, "a")
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, task.State)

	// Any task leaving pending flips the job to ongoing.
	j, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobOngoing, j.State)
}

func TestExecutorIdempotentDoubleApply(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemStore()
	job := seedJob(t, store, "root", "a", "root")
	ex := actions.NewExecutor(store, discard())

	act := actions.MarkTaskOngoing{JobID: job.ID, TaskID: "a"}
	assert.Equal(t, 1, ex.Run(ctx, []actions.Action{act}))
	// Duplicate delivery: the precondition is stale, the action no-ops.
	assert.Equal(t, 0, ex.Run(ctx, []actions.Action{act}))

	task, err := store.GetTask(ctx, job.ID, "a")
	require.NoError(t, err)
	assert.Equal(t, model.TaskOngoing, task.State)
}

func TestExecutorIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemStore()
	job := seedJob(t, store, "root", "a", "b", "root")
	ex := actions.NewExecutor(store, discard())

	applied := ex.Run(ctx, []actions.Action{
		actions.MarkTaskOngoing{JobID: job.ID, TaskID: "a"},
		actions.MarkTaskOngoing{JobID: job.ID, TaskID: "missing"}, // fails
		actions.MarkTaskOngoing{JobID: job.ID, TaskID: "b"},
	})
	assert.Equal(t, 2, applied, "a failing action must not block the others")

	a, err := store.GetTask(ctx, job.ID, "a")
	require.NoError(t, err)
	assert.Equal(t, model.TaskOngoing, a.State)
	b, err := store.GetTask(ctx, job.ID, "b")
	require.NoError(t, err)
	assert.Equal(t, model.TaskOngoing, b.State)
}

func TestStateMonotonicity(t *testing.T) {
	// No action sequence may pull a task out of a terminal state.
	ctx := context.Background()
	store := testutil.NewMemStore()
	job := seedJob(t, store, "root", "a", "root")
	ex := actions.NewExecutor(store, discard())

	ex.Run(ctx, []actions.Action{
		actions.MarkTaskOngoing{JobID: job.ID, TaskID: "a"},
		actions.CompleteTask{JobID: job.ID, TaskID: "a"},
	})

	ex.Run(ctx, []actions.Action{
		actions.MarkTaskOngoing{JobID: job.ID, TaskID: "a"},
		actions.FailTask{JobID: job.ID, TaskID: "a", From: model.TaskCompleted},
		actions.CancelTask{JobID: job.ID, TaskID: "a", From: model.TaskCompleted},
	})

	task, err := store.GetTask(ctx, job.ID, "a")
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, task.State)
}

func TestRootTaskMirrorsJob(t *testing.T) {
	ctx := context.Background()

	t.Run("completed", func(t *testing.T) {
		store := testutil.NewMemStore()
		job := seedJob(t, store, "root", "a", "root")
		ex := actions.NewExecutor(store, discard())
		ex.Run(ctx, []actions.Action{
			actions.MarkTaskOngoing{JobID: job.ID, TaskID: "root"},
			actions.CompleteTask{JobID: job.ID, TaskID: "root"},
		})
		j, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobCompleted, j.State)
	})

	t.Run("failed", func(t *testing.T) {
		store := testutil.NewMemStore()
		job := seedJob(t, store, "root", "a", "root")
		ex := actions.NewExecutor(store, discard())
		ex.Run(ctx, []actions.Action{
			actions.FailTask{JobID: job.ID, TaskID: "root", From: model.TaskPending, Reason: "boom"},
		})
		j, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobFailed, j.State)

		task, err := store.GetTask(ctx, job.ID, "root")
		require.NoError(t, err)
		assert.Equal(t, "boom", task.LastError)
	})

	t.Run("non-root does not mirror", func(t *testing.T) {
		store := testutil.NewMemStore()
		job := seedJob(t, store, "root", "a", "root")
		ex := actions.NewExecutor(store, discard())
		ex.Run(ctx, []actions.Action{
			actions.FailTask{JobID: job.ID, TaskID: "a", From: model.TaskPending, Reason: "boom"},
		})
		j, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobOngoing, j.State)
	})
}

func TestAmendTaskPayload(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemStore()
	job := seedJob(t, store, "root", "a", "root")
	ex := actions.NewExecutor(store, discard())

	ex.Run(ctx, []actions.Action{
		actions.AmendTaskPayload{JobID: job.ID, TaskID: "a", Payload: map[string]any{"change": "abc123"}},
		actions.AmendTaskPayload{JobID: job.ID, TaskID: "a", Payload: map[string]any{"builder": "linux-perf"}},
	})

	task, err := store.GetTask(ctx, job.ID, "a")
	require.NoError(t, err)
	assert.Equal(t, "abc123", task.Payload["change"])
	assert.Equal(t, "linux-perf", task.Payload["builder"])
	assert.Equal(t, model.TaskPending, task.State, "amend must not change state")

	// Amending a started task with the default pending precondition no-ops.
	ex.Run(ctx, []actions.Action{actions.MarkTaskOngoing{JobID: job.ID, TaskID: "a"}})
	applied := ex.Run(ctx, []actions.Action{
		actions.AmendTaskPayload{JobID: job.ID, TaskID: "a", Payload: map[string]any{"late": true}},
	})
	assert.Equal(t, 0, applied)
}

type fakeBuildClient struct {
	calls []actions.BuildRequest
	err   error
}

func (f *fakeBuildClient) ScheduleBuild(_ context.Context, req actions.BuildRequest) (string, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("build-%d", len(f.calls)), nil
}

type captureEnqueuer struct {
	events []*model.Event
}

func (c *captureEnqueuer) Enqueue(ev *model.Event) error {
	c.events = append(c.events, ev)
	return nil
}

func TestDispatchBuild(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemStore()
	job := seedJob(t, store, "root", "build_a", "root")
	ex := actions.NewExecutor(store, discard())

	client := &fakeBuildClient{}
	queue := &captureEnqueuer{}
	act := actions.DispatchBuild{
		JobID:   job.ID,
		TaskID:  "build_a",
		Request: actions.BuildRequest{Change: "abc123", Builder: "linux-perf"},
		Client:  client,
		Events:  queue,
	}

	ex.Run(ctx, []actions.Action{act})

	// The transaction records dispatch; the call happens after commit.
	task, err := store.GetTask(ctx, job.ID, "build_a")
	require.NoError(t, err)
	assert.Equal(t, model.TaskOngoing, task.State)
	assert.Equal(t, "abc123", task.Payload["change"])
	require.Len(t, client.calls, 1)

	// The schedule result feeds back as an update event.
	require.Len(t, queue.events, 1)
	assert.Equal(t, model.EventUpdate, queue.events[0].Type)
	assert.Equal(t, "build_a", queue.events[0].TargetTask)
	assert.Equal(t, "dispatched", queue.events[0].Status())
	assert.Equal(t, "build-1", queue.events[0].Payload["build_id"])

	// Duplicate delivery: stale precondition, no second network call.
	ex.Run(ctx, []actions.Action{act})
	assert.Len(t, client.calls, 1)
}

func TestDispatchBuildScheduleFailure(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemStore()
	job := seedJob(t, store, "root", "build_a", "root")
	ex := actions.NewExecutor(store, discard())

	client := &fakeBuildClient{err: errors.New("buildbucket unavailable")}
	queue := &captureEnqueuer{}
	ex.Run(ctx, []actions.Action{actions.DispatchBuild{
		JobID:   job.ID,
		TaskID:  "build_a",
		Request: actions.BuildRequest{Change: "abc123"},
		Client:  client,
		Events:  queue,
	}})

	// "Issued but no result yet" is a valid intermediate state.
	task, err := store.GetTask(ctx, job.ID, "build_a")
	require.NoError(t, err)
	assert.Equal(t, model.TaskOngoing, task.State)

	// The failure feeds back so the next pass can fail the task.
	require.Len(t, queue.events, 1)
	assert.Equal(t, "failed", queue.events[0].Status())
}

type fakeRunClient struct {
	calls []actions.RunRequest
}

func (f *fakeRunClient) ScheduleRun(_ context.Context, req actions.RunRequest) (string, error) {
	f.calls = append(f.calls, req)
	return "run-1", nil
}

func TestDispatchRun(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemStore()
	job := seedJob(t, store, "root", "run_a", "root")
	ex := actions.NewExecutor(store, discard())

	client := &fakeRunClient{}
	queue := &captureEnqueuer{}
	ex.Run(ctx, []actions.Action{actions.DispatchRun{
		JobID:   job.ID,
		TaskID:  "run_a",
		Request: actions.RunRequest{Change: "abc123", BuildID: "build-1", Benchmark: "speedometer"},
		Client:  client,
		Events:  queue,
	}})

	task, err := store.GetTask(ctx, job.ID, "run_a")
	require.NoError(t, err)
	assert.Equal(t, model.TaskOngoing, task.State)
	require.Len(t, client.calls, 1)
	assert.Equal(t, "build-1", client.calls[0].BuildID)
	require.Len(t, queue.events, 1)
	assert.Equal(t, "run-1", queue.events[0].Payload["run_id"])
}
