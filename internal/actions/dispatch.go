package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/hakari/internal/model"
)

// BuildRequest describes a build to schedule on the external build service.
type BuildRequest struct {
	Change  string            `json:"change"`
	Builder string            `json:"builder"`
	Target  string            `json:"target"`
	Tags    map[string]string `json:"tags,omitempty"`
}

// BuildClient schedules builds on an external service. Opaque to the engine.
type BuildClient interface {
	ScheduleBuild(ctx context.Context, req BuildRequest) (string, error)
}

// RunRequest describes a benchmark run against a completed build.
type RunRequest struct {
	Change     string            `json:"change"`
	BuildID    string            `json:"build_id"`
	Benchmark  string            `json:"benchmark"`
	Iterations int               `json:"iterations"`
	Tags       map[string]string `json:"tags,omitempty"`
}

// RunClient schedules benchmark runs on an external service.
type RunClient interface {
	ScheduleRun(ctx context.Context, req RunRequest) (string, error)
}

// Enqueuer feeds follow-on events back into the evaluation pipeline.
type Enqueuer interface {
	Enqueue(ev *model.Event) error
}

// DispatchBuild records that a build was requested for a task, then
// schedules it after commit. A schedule failure is fed back as an update
// event so the task fails on the next pass instead of hanging.
type DispatchBuild struct {
	JobID   uuid.UUID
	TaskID  string
	Request BuildRequest

	Client BuildClient
	Events Enqueuer
}

func (a DispatchBuild) String() string {
	return fmt.Sprintf("dispatch_build(%s, %s)", a.JobID, a.TaskID)
}

func (a DispatchBuild) Apply(ctx context.Context, s Store) error {
	ok, err := s.CompareAndSwapTask(ctx, a.JobID, a.TaskID,
		model.TaskPending, model.TaskOngoing,
		map[string]any{"change": a.Request.Change, "builder": a.Request.Builder, "target": a.Request.Target},
		"")
	if err != nil {
		return err
	}
	if !ok {
		return ErrStaleState
	}
	return markJobOngoing(ctx, s, a.JobID)
}

func (a DispatchBuild) PostCommit(ctx context.Context) error {
	buildID, err := a.Client.ScheduleBuild(ctx, a.Request)
	if err != nil {
		a.feedback(map[string]any{
			"status": "failed",
			"reason": fmt.Sprintf("schedule build: %v", err),
		})
		return fmt.Errorf("actions: schedule build for task %s: %w", a.TaskID, err)
	}
	a.feedback(map[string]any{"status": "dispatched", "build_id": buildID})
	return nil
}

func (a DispatchBuild) feedback(payload map[string]any) {
	if a.Events == nil {
		return
	}
	_ = a.Events.Enqueue(&model.Event{
		ID:         uuid.New(),
		JobID:      a.JobID,
		Type:       model.EventUpdate,
		TargetTask: a.TaskID,
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	})
}

// DispatchRun records that a benchmark run was requested, then schedules it
// after commit. Mirrors DispatchBuild.
type DispatchRun struct {
	JobID   uuid.UUID
	TaskID  string
	Request RunRequest

	Client RunClient
	Events Enqueuer
}

func (a DispatchRun) String() string {
	return fmt.Sprintf("dispatch_run(%s, %s)", a.JobID, a.TaskID)
}

func (a DispatchRun) Apply(ctx context.Context, s Store) error {
	ok, err := s.CompareAndSwapTask(ctx, a.JobID, a.TaskID,
		model.TaskPending, model.TaskOngoing,
		map[string]any{"change": a.Request.Change, "build_id": a.Request.BuildID, "benchmark": a.Request.Benchmark},
		"")
	if err != nil {
		return err
	}
	if !ok {
		return ErrStaleState
	}
	return markJobOngoing(ctx, s, a.JobID)
}

func (a DispatchRun) PostCommit(ctx context.Context) error {
	runID, err := a.Client.ScheduleRun(ctx, a.Request)
	if err != nil {
		a.feedback(map[string]any{
			"status": "failed",
			"reason": fmt.Sprintf("schedule run: %v", err),
		})
		return fmt.Errorf("actions: schedule run for task %s: %w", a.TaskID, err)
	}
	a.feedback(map[string]any{"status": "dispatched", "run_id": runID})
	return nil
}

func (a DispatchRun) feedback(payload map[string]any) {
	if a.Events == nil {
		return
	}
	_ = a.Events.Enqueue(&model.Event{
		ID:         uuid.New(),
		JobID:      a.JobID,
		Type:       model.EventUpdate,
		TargetTask: a.TaskID,
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	})
}
