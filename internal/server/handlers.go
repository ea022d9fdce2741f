package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/hakari/internal/dispatch"
	"github.com/ashita-ai/hakari/internal/engine"
	"github.com/ashita-ai/hakari/internal/handlers"
	"github.com/ashita-ai/hakari/internal/model"
	"github.com/ashita-ai/hakari/internal/storage"
)

// JobStore is the persistence surface the HTTP handlers need.
type JobStore interface {
	CreateJob(ctx context.Context, job *model.Job, tasks []*model.Task) error
	GetJob(ctx context.Context, id uuid.UUID) (*model.Job, error)
	ListTasks(ctx context.Context, jobID uuid.UUID) ([]*model.Task, error)
}

// Enqueuer matches the dispatcher's event intake.
type Enqueuer interface {
	Enqueue(ev *model.Event) error
}

// Pinger reports backend connectivity for health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	store   JobStore
	events  Enqueuer
	pinger  Pinger
	logger  *slog.Logger
	version string
}

// HandlersDeps configures a Handlers.
type HandlersDeps struct {
	Store   JobStore
	Events  Enqueuer
	Pinger  Pinger // Optional; health reports "degraded" storage when nil.
	Logger  *slog.Logger
	Version string
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	return &Handlers{
		store:   deps.Store,
		events:  deps.Events,
		pinger:  deps.Pinger,
		logger:  deps.Logger,
		version: deps.Version,
	}
}

// CreateJobRequest is the request body for POST /v1/jobs.
type CreateJobRequest struct {
	// Changes are the revisions under suspicion, oldest first. At least two.
	Changes   []string `json:"changes"`
	Builder   string   `json:"builder"`
	Target    string   `json:"target"`
	Benchmark string   `json:"benchmark"`
	// Iterations per benchmark run; 0 uses the server default.
	Iterations     int     `json:"iterations,omitempty"`
	ComparisonMode string  `json:"comparison_mode,omitempty"`
	Magnitude      float64 `json:"magnitude,omitempty"`
}

// JobResponse is the wire form of a job.
type JobResponse struct {
	ID             uuid.UUID      `json:"id"`
	User           string         `json:"user"`
	ComparisonMode string         `json:"comparison_mode"`
	State          string         `json:"state"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	Tasks          []TaskResponse `json:"tasks,omitempty"`
	Culprits       any            `json:"culprits,omitempty"`
}

// TaskResponse is the wire form of one task.
type TaskResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	State        string         `json:"state"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	LastError    string         `json:"last_error,omitempty"`
}

// HandleCreateJob creates a bisection job and kicks off its first
// evaluation pass.
func (h *Handlers) HandleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	if len(req.Changes) < 2 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "at least two changes are required")
		return
	}
	if req.Benchmark == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "benchmark is required")
		return
	}
	mode := model.ComparisonMode(req.ComparisonMode)
	if req.ComparisonMode == "" {
		mode = model.ComparePerformance
	}
	if !mode.Valid() {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown comparison_mode")
		return
	}

	g, err := handlers.BisectionGraph(handlers.BisectionSpec{
		Changes:        req.Changes,
		Builder:        req.Builder,
		Target:         req.Target,
		Benchmark:      req.Benchmark,
		Iterations:     req.Iterations,
		ComparisonMode: mode,
		Magnitude:      req.Magnitude,
	})
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	claims := ClaimsFromContext(r.Context())
	job := &model.Job{
		ID:             uuid.New(),
		User:           claims.User,
		URL:            "https://" + r.Host + "/v1/jobs",
		ComparisonMode: mode,
		RootTask:       handlers.RootTaskID,
		State:          model.JobQueued,
	}
	if err := job.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	if err := h.store.CreateJob(r.Context(), job, engine.Materialize(job.ID, g)); err != nil {
		h.logger.Error("create job", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to create job")
		return
	}

	if err := h.events.Enqueue(&model.Event{JobID: job.ID, Type: model.EventInitiate}); err != nil {
		// The job exists; it just has not started. A later select event
		// (posted via /v1/events) picks it up.
		h.logger.Warn("enqueue initiate", "job_id", job.ID, "error", err)
	}

	writeJSON(w, r, http.StatusCreated, JobResponse{
		ID:             job.ID,
		User:           job.User,
		ComparisonMode: string(job.ComparisonMode),
		State:          string(job.State),
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
	})
}

// HandleGetJob returns a job with its tasks.
func (h *Handlers) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("job_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid job id")
		return
	}

	job, err := h.store.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "job not found")
			return
		}
		h.logger.Error("get job", "job_id", id, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to load job")
		return
	}

	tasks, err := h.store.ListTasks(r.Context(), id)
	if err != nil {
		h.logger.Error("list tasks", "job_id", id, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to load tasks")
		return
	}

	resp := JobResponse{
		ID:             job.ID,
		User:           job.User,
		ComparisonMode: string(job.ComparisonMode),
		State:          string(job.State),
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
	}
	for _, t := range tasks {
		resp.Tasks = append(resp.Tasks, TaskResponse{
			ID:           t.ID,
			Type:         t.Type,
			State:        string(t.State),
			Dependencies: t.Dependencies,
			Payload:      t.Payload,
			LastError:    t.LastError,
		})
		if t.ID == job.RootTask && t.State == model.TaskCompleted {
			resp.Culprits = t.Payload["culprits"]
		}
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// PostEventRequest is the request body for POST /v1/events: raw updates
// from the build and run services, or manual pokes from operators.
type PostEventRequest struct {
	JobID      uuid.UUID      `json:"job_id"`
	Type       string         `json:"type"`
	TargetTask string         `json:"target_task,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// HandlePostEvent accepts an external event for a job.
func (h *Handlers) HandlePostEvent(w http.ResponseWriter, r *http.Request) {
	var req PostEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	if req.JobID == uuid.Nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "job_id is required")
		return
	}
	typ := model.EventType(req.Type)
	if !typ.Valid() {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown event type")
		return
	}
	if _, err := h.store.GetJob(r.Context(), req.JobID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "job not found")
			return
		}
		h.logger.Error("get job for event", "job_id", req.JobID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to load job")
		return
	}

	ev := &model.Event{
		ID:         uuid.New(),
		JobID:      req.JobID,
		Type:       typ,
		TargetTask: req.TargetTask,
		Payload:    req.Payload,
	}
	if err := h.events.Enqueue(ev); err != nil {
		if errors.Is(err, dispatch.ErrQueueFull) {
			writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "event queue full, retry later")
			return
		}
		h.logger.Error("enqueue event", "job_id", req.JobID, "error", err)
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "dispatcher unavailable")
		return
	}
	writeJSON(w, r, http.StatusAccepted, map[string]any{"event_id": ev.ID})
}

// HandleCancelJob cancels a job: every non-terminal task is driven to
// cancelled on the next pass.
func (h *Handlers) HandleCancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("job_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid job id")
		return
	}
	job, err := h.store.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "job not found")
			return
		}
		h.logger.Error("get job for cancel", "job_id", id, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to load job")
		return
	}
	if job.State.Terminal() {
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "job already finished")
		return
	}

	claims := ClaimsFromContext(r.Context())
	ev := &model.Event{
		ID:      uuid.New(),
		JobID:   id,
		Type:    model.EventCancel,
		Payload: map[string]any{"status": "cancelled by " + claims.User},
	}
	if err := h.events.Enqueue(ev); err != nil {
		h.logger.Error("enqueue cancel", "job_id", id, "error", err)
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "dispatcher unavailable")
		return
	}
	writeJSON(w, r, http.StatusAccepted, map[string]any{"event_id": ev.ID})
}

// HandleHealth reports service liveness and storage connectivity.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	storageStatus := "ok"
	code := http.StatusOK
	if h.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.pinger.Ping(ctx); err != nil {
			status, storageStatus = "degraded", "unreachable"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, r, code, map[string]string{
		"status":  status,
		"storage": storageStatus,
		"version": h.version,
	})
}
