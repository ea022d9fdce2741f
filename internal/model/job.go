// Package model defines the persisted aggregates of the bisection engine:
// jobs, their per-vertex tasks, and the events that advance them.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobState is the lifecycle state of a bisection job. It mirrors the state
// of the job's designated root task: the job completes or fails only once
// the root task does.
type JobState string

const (
	// JobQueued means the job was accepted but no task has started.
	JobQueued JobState = "queued"
	// JobOngoing means at least one task has left pending.
	JobOngoing JobState = "ongoing"
	// JobCompleted is terminal.
	JobCompleted JobState = "completed"
	// JobFailed is terminal.
	JobFailed JobState = "failed"
	// JobCancelled is terminal.
	JobCancelled JobState = "cancelled"
)

// Terminal reports whether the job can no longer change state.
func (s JobState) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known job state.
func (s JobState) Valid() bool {
	switch s {
	case JobQueued, JobOngoing, JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// ValidJobTransition reports whether from -> to is an allowed transition.
func ValidJobTransition(from, to JobState) bool {
	switch from {
	case JobQueued:
		return to == JobOngoing || to == JobFailed || to == JobCancelled
	case JobOngoing:
		return to == JobCompleted || to == JobFailed || to == JobCancelled
	case JobCompleted, JobFailed, JobCancelled:
		return false
	default:
		return false
	}
}

// ComparisonMode selects how the decision task classifies a change.
type ComparisonMode string

const (
	// ComparePerformance looks for performance regressions (magnitude-scaled
	// significance thresholds).
	ComparePerformance ComparisonMode = "performance"
	// CompareFunctional looks for pass/fail differences.
	CompareFunctional ComparisonMode = "functional"
)

// Valid reports whether m is a known comparison mode.
func (m ComparisonMode) Valid() bool {
	return m == ComparePerformance || m == CompareFunctional
}

// Job is the aggregate root owning all tasks for one bisection. Jobs are
// never deleted; they only transition to a terminal state.
type Job struct {
	ID             uuid.UUID      `json:"id"`
	User           string         `json:"user"`
	URL            string         `json:"url"`
	ComparisonMode ComparisonMode `json:"comparison_mode"`

	// RootTask names the vertex whose state the job mirrors.
	RootTask string `json:"root_task"`

	State     JobState  `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the fields required to accept a new job.
func (j *Job) Validate() error {
	if j.User == "" {
		return fmt.Errorf("model: job user is required")
	}
	if !j.ComparisonMode.Valid() {
		return fmt.Errorf("model: unknown comparison mode %q", j.ComparisonMode)
	}
	if j.RootTask == "" {
		return fmt.Errorf("model: job root task is required")
	}
	return nil
}
