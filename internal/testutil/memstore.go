// Package testutil provides shared test infrastructure: an in-memory
// implementation of the engine's store contract, and a Postgres container
// helper for storage integration tests.
package testutil

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ashita-ai/hakari/internal/actions"
	"github.com/ashita-ai/hakari/internal/model"
	"github.com/ashita-ai/hakari/internal/storage"
)

// ErrNotFound is returned for unknown jobs or tasks. It aliases the storage
// sentinel so code matching on it behaves the same against either store.
var ErrNotFound = storage.ErrNotFound

// MemStore is an in-memory actions.Store plus the loader and audit methods
// the dispatcher needs. Transactions are serialized by a single mutex;
// rollback is not simulated, which is fine for exercising compare-and-swap
// preconditions (they reject before any write happens).
type MemStore struct {
	mu sync.Mutex
	st *memState
}

type memState struct {
	jobs      map[uuid.UUID]*model.Job
	tasks     map[uuid.UUID]map[string]*model.Task
	taskOrder map[uuid.UUID][]string
	events    []*model.Event
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{st: &memState{
		jobs:      make(map[uuid.UUID]*model.Job),
		tasks:     make(map[uuid.UUID]map[string]*model.Task),
		taskOrder: make(map[uuid.UUID][]string),
	}}
}

// CreateJob seeds a job and its tasks.
func (m *MemStore) CreateJob(_ context.Context, job *model.Job, tasks []*model.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := *job
	m.st.jobs[job.ID] = &j
	m.st.tasks[job.ID] = make(map[string]*model.Task, len(tasks))
	for _, t := range tasks {
		cp := copyTask(t)
		m.st.tasks[job.ID][t.ID] = cp
		m.st.taskOrder[job.ID] = append(m.st.taskOrder[job.ID], t.ID)
	}
	return nil
}

// WithTransaction implements actions.Store.
func (m *MemStore) WithTransaction(ctx context.Context, fn func(tx actions.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&memTx{st: m.st})
}

func (m *MemStore) GetJob(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{st: m.st}).GetJob(ctx, id)
}

func (m *MemStore) CompareAndSwapJob(ctx context.Context, id uuid.UUID, expected, next model.JobState) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{st: m.st}).CompareAndSwapJob(ctx, id, expected, next)
}

func (m *MemStore) GetTask(ctx context.Context, jobID uuid.UUID, taskID string) (*model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{st: m.st}).GetTask(ctx, jobID, taskID)
}

func (m *MemStore) CompareAndSwapTask(ctx context.Context, jobID uuid.UUID, taskID string,
	expected, next model.TaskState, payload map[string]any, lastError string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{st: m.st}).CompareAndSwapTask(ctx, jobID, taskID, expected, next, payload, lastError)
}

// ListTasks returns the job's tasks in creation order.
func (m *MemStore) ListTasks(_ context.Context, jobID uuid.UUID) ([]*model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Task, 0, len(m.st.taskOrder[jobID]))
	for _, id := range m.st.taskOrder[jobID] {
		out = append(out, copyTask(m.st.tasks[jobID][id]))
	}
	return out, nil
}

// AppendEvent records an event receipt.
func (m *MemStore) AppendEvent(_ context.Context, ev *model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ev
	m.st.events = append(m.st.events, &cp)
	return nil
}

// Events returns the recorded event log.
func (m *MemStore) Events() []*model.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.Event(nil), m.st.events...)
}

// memTx is the unlocked transactional view handed to action Apply.
type memTx struct {
	st *memState
}

func (t *memTx) WithTransaction(ctx context.Context, fn func(tx actions.Store) error) error {
	return fn(t)
}

func (t *memTx) GetJob(_ context.Context, id uuid.UUID) (*model.Job, error) {
	job, ok := t.st.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (t *memTx) CompareAndSwapJob(_ context.Context, id uuid.UUID, expected, next model.JobState) (bool, error) {
	job, ok := t.st.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	if job.State != expected {
		return false, nil
	}
	if expected != next && !model.ValidJobTransition(expected, next) {
		return false, nil
	}
	job.State = next
	return true, nil
}

func (t *memTx) GetTask(_ context.Context, jobID uuid.UUID, taskID string) (*model.Task, error) {
	task, ok := t.st.tasks[jobID][taskID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyTask(task), nil
}

func (t *memTx) CompareAndSwapTask(_ context.Context, jobID uuid.UUID, taskID string,
	expected, next model.TaskState, payload map[string]any, lastError string) (bool, error) {
	task, ok := t.st.tasks[jobID][taskID]
	if !ok {
		return false, ErrNotFound
	}
	if task.State != expected {
		return false, nil
	}
	if expected != next {
		if err := model.CheckTaskTransition(expected, next); err != nil {
			return false, err
		}
	}
	task.State = next
	if payload != nil {
		task.Payload = payload
	}
	task.LastError = lastError
	return true, nil
}

func copyTask(t *model.Task) *model.Task {
	cp := *t
	if t.Payload != nil {
		cp.Payload = make(map[string]any, len(t.Payload))
		for k, v := range t.Payload {
			cp.Payload[k] = v
		}
	}
	cp.Dependencies = append([]string(nil), t.Dependencies...)
	return &cp
}
