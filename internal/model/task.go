package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskState is the lifecycle state of one task in a job's graph.
type TaskState string

const (
	// TaskPending is the initial state of every newly created task.
	TaskPending TaskState = "pending"
	// TaskOngoing means work has been dispatched for the task.
	TaskOngoing TaskState = "ongoing"
	// TaskCompleted is terminal: the task's work concluded successfully.
	TaskCompleted TaskState = "completed"
	// TaskFailed is terminal: unrecoverable error or exhausted retries.
	TaskFailed TaskState = "failed"
	// TaskCancelled is terminal: the task was cancelled by a cancel event.
	TaskCancelled TaskState = "cancelled"
)

// Terminal reports whether no further transition may leave the state.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	case TaskPending, TaskOngoing:
		return false
	default:
		return false
	}
}

// Valid reports whether s is a known task state.
func (s TaskState) Valid() bool {
	switch s {
	case TaskPending, TaskOngoing, TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// ValidTaskTransition reports whether from -> to is an allowed transition.
// Terminal states admit no outgoing transitions.
func ValidTaskTransition(from, to TaskState) bool {
	switch from {
	case TaskPending:
		return to == TaskOngoing || to == TaskCompleted || to == TaskFailed || to == TaskCancelled
	case TaskOngoing:
		return to == TaskCompleted || to == TaskFailed || to == TaskCancelled
	case TaskCompleted, TaskFailed, TaskCancelled:
		return false
	default:
		return false
	}
}

// CheckTaskTransition returns an error describing an invalid transition,
// or nil when the transition is allowed.
func CheckTaskTransition(from, to TaskState) error {
	if !from.Valid() {
		return fmt.Errorf("model: unknown task state %q", from)
	}
	if !to.Valid() {
		return fmt.Errorf("model: unknown task state %q", to)
	}
	if !ValidTaskTransition(from, to) {
		return fmt.Errorf("model: invalid task transition %s -> %s", from, to)
	}
	return nil
}

// Task is the persisted record for one vertex of a job's graph,
// keyed by (JobID, ID). Owned exclusively by its Job aggregate.
type Task struct {
	JobID uuid.UUID `json:"job_id"`
	ID    string    `json:"id"`
	Type  string    `json:"type"`
	State TaskState `json:"state"`

	// Payload holds type-specific data. Earlier tasks may amend the
	// payloads of not-yet-started dependents; graph topology never changes.
	Payload map[string]any `json:"payload"`

	// Dependencies lists the vertex ids this task depends on, in
	// edge-insertion order. Order matters: operator tasks combine
	// dependency outputs positionally.
	Dependencies []string `json:"dependencies"`

	// LastError records why the task failed. Empty unless State is
	// failed or cancelled.
	LastError string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
