// Package actions defines the side effects an evaluation pass may request
// and the executor that applies them against durable storage.
//
// Actions are data: the evaluator computes them without performing I/O, and
// the executor commits each one in its own transaction. Every update is a
// compare-and-swap, so re-applying an action after a duplicate event
// delivery is a no-op.
package actions

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ashita-ai/hakari/internal/model"
)

// ErrStaleState is returned by an action whose precondition no longer holds:
// the persisted state moved on since the pass that computed the action. The
// executor treats it as already-applied-or-superseded and skips the action.
var ErrStaleState = errors.New("actions: stale state precondition")

// Store is the narrow transactional interface the executor consumes.
// Implemented by the Postgres storage layer and by in-memory fakes in tests.
type Store interface {
	// WithTransaction runs fn against a transactional view of the store.
	// fn returning an error rolls the transaction back.
	WithTransaction(ctx context.Context, fn func(tx Store) error) error

	GetJob(ctx context.Context, id uuid.UUID) (*model.Job, error)

	// CompareAndSwapJob moves the job from expected to next. It returns
	// false with a nil error when the job is no longer in expected.
	CompareAndSwapJob(ctx context.Context, id uuid.UUID, expected, next model.JobState) (bool, error)

	GetTask(ctx context.Context, jobID uuid.UUID, taskID string) (*model.Task, error)

	// CompareAndSwapTask moves the task from expected to next, replacing
	// its payload when payload is non-nil and recording lastError. It
	// returns false with a nil error when the task is no longer in
	// expected.
	CompareAndSwapTask(ctx context.Context, jobID uuid.UUID, taskID string,
		expected, next model.TaskState, payload map[string]any, lastError string) (bool, error)
}

// markJobOngoing flips the job out of queued once any task has started.
// Best-effort: a concurrent pass may have done it already.
func markJobOngoing(ctx context.Context, s Store, jobID uuid.UUID) error {
	_, err := s.CompareAndSwapJob(ctx, jobID, model.JobQueued, model.JobOngoing)
	return err
}

// mirrorJob marks the job ongoing (the task just left pending) and, when
// the task is the job's designated root, propagates its terminal state.
func mirrorJob(ctx context.Context, s Store, jobID uuid.UUID, taskID string, next model.JobState) error {
	if err := markJobOngoing(ctx, s, jobID); err != nil {
		return err
	}
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.RootTask != taskID || job.State.Terminal() {
		return nil
	}
	if _, err := s.CompareAndSwapJob(ctx, jobID, model.JobOngoing, next); err != nil {
		return err
	}
	return nil
}
