package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/hakari/internal/model"
)

// queries holds every query method; it runs against the pool on DB and
// against the open transaction inside WithTransaction.
type queries struct {
	q querier
}

// CreateJob inserts a job together with its materialized task graph. The
// insert is atomic: a job is never visible without its tasks.
func (s queries) CreateJob(ctx context.Context, job *model.Job, tasks []*model.Task) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	_, err := s.q.Exec(ctx,
		`INSERT INTO jobs (id, user_email, url, comparison_mode, root_task, state, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.User, job.URL, string(job.ComparisonMode), job.RootTask,
		string(job.State), job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: create job: %w", err)
	}

	for ord, t := range tasks {
		payload := t.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		_, err := s.q.Exec(ctx,
			`INSERT INTO tasks (job_id, id, task_type, state, payload, dependencies, last_error, ord, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			job.ID, t.ID, t.Type, string(t.State), payload, t.Dependencies, t.LastError, ord, now, now,
		)
		if err != nil {
			return fmt.Errorf("storage: create task %s: %w", t.ID, err)
		}
	}
	return nil
}

// GetJob retrieves a job by id.
func (s queries) GetJob(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	var (
		job   model.Job
		mode  string
		state string
	)
	err := s.q.QueryRow(ctx,
		`SELECT id, user_email, url, comparison_mode, root_task, state, created_at, updated_at
		 FROM jobs WHERE id = $1`, id,
	).Scan(&job.ID, &job.User, &job.URL, &mode, &job.RootTask, &state, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: job %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("storage: get job: %w", err)
	}
	job.ComparisonMode = model.ComparisonMode(mode)
	job.State = model.JobState(state)
	return &job, nil
}

// CompareAndSwapJob transitions a job's state only if it currently holds
// expected. The swap reports false, never an error, when the precondition
// fails: a concurrent pass already moved the job.
func (s queries) CompareAndSwapJob(ctx context.Context, id uuid.UUID, expected, next model.JobState) (bool, error) {
	if expected != next && !model.ValidJobTransition(expected, next) {
		return false, fmt.Errorf("storage: invalid job transition %s -> %s", expected, next)
	}
	tag, err := s.q.Exec(ctx,
		`UPDATE jobs SET state = $1, updated_at = now() WHERE id = $2 AND state = $3`,
		string(next), id, string(expected),
	)
	if err != nil {
		return false, fmt.Errorf("storage: cas job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListJobs returns jobs ordered newest first.
func (s queries) ListJobs(ctx context.Context, limit, offset int) ([]*model.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.q.Query(ctx,
		`SELECT id, user_email, url, comparison_mode, root_task, state, created_at, updated_at
		 FROM jobs ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		var (
			job   model.Job
			mode  string
			state string
		)
		if err := rows.Scan(&job.ID, &job.User, &job.URL, &mode, &job.RootTask,
			&state, &job.CreatedAt, &job.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan job: %w", err)
		}
		job.ComparisonMode = model.ComparisonMode(mode)
		job.State = model.JobState(state)
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}
