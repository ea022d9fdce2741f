// Package dispatch owns the event loop of the bisection engine: events go
// into a bounded queue, workers pull them off and run one evaluation pass
// each, and the actions a pass produces are applied through the executor.
//
// Concurrent passes over the same job are safe: every action's precondition
// is a compare-and-swap against persisted state, so whichever pass commits
// first wins and the loser's duplicate actions degrade to no-ops.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/hakari/internal/actions"
	"github.com/ashita-ai/hakari/internal/engine"
	"github.com/ashita-ai/hakari/internal/model"
)

// ErrQueueFull is returned by Enqueue when the event buffer is at capacity.
// Callers surface it as backpressure; the event is not accepted.
var ErrQueueFull = errors.New("dispatch: event queue full")

// ErrStopped is returned by Enqueue after Drain has begun.
var ErrStopped = errors.New("dispatch: dispatcher stopped")

// Store is the persistence surface the dispatcher needs: the action store
// plus the graph loader and the event audit log.
type Store interface {
	actions.Store
	ListTasks(ctx context.Context, jobID uuid.UUID) ([]*model.Task, error)
	AppendEvent(ctx context.Context, ev *model.Event) error
}

// Dispatcher runs evaluation passes in response to events.
type Dispatcher struct {
	store    Store
	handler  engine.Handler
	executor *actions.Executor
	logger   *slog.Logger

	queue   chan *model.Event
	workers int
	metrics *metrics

	started atomic.Bool
	stopped atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Options tunes the dispatcher. Zero values fall back to defaults.
type Options struct {
	// Buffer is the event queue capacity; default 256.
	Buffer int
	// Workers is the number of concurrent pass runners; default 4.
	Workers int
}

// New creates a Dispatcher evaluating against store with the given handler
// registry. Call Start to begin processing.
func New(store Store, handler engine.Handler, logger *slog.Logger, opts Options) *Dispatcher {
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	d := &Dispatcher{
		store:    store,
		handler:  handler,
		executor: actions.NewExecutor(store, logger),
		logger:   logger,
		queue:    make(chan *model.Event, opts.Buffer),
		workers:  opts.Workers,
		done:     make(chan struct{}),
	}
	d.metrics = newMetrics(d)
	return d
}

// Enqueue implements actions.Enqueuer. It never blocks: a full queue is
// reported to the caller instead of stalling the producer.
func (d *Dispatcher) Enqueue(ev *model.Event) error {
	if d.stopped.Load() {
		return ErrStopped
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}
	select {
	case d.queue <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start launches the worker pool. It is safe to call only once; subsequent
// calls are no-ops and log a warning.
func (d *Dispatcher) Start(ctx context.Context) {
	if !d.started.CompareAndSwap(false, true) {
		d.logger.Warn("dispatch: Start called more than once, ignoring")
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	g, gctx := errgroup.WithContext(loopCtx)
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case ev, ok := <-d.queue:
					if !ok {
						return nil
					}
					d.process(gctx, ev)
				}
			}
		})
	}
	go func() {
		_ = g.Wait()
		close(d.done)
	}()
}

// Drain stops accepting events, waits for the queue to empty, then stops
// the workers. It blocks until they exit or ctx expires.
func (d *Dispatcher) Drain(ctx context.Context) {
	if !d.stopped.CompareAndSwap(false, true) {
		return
	}
	if !d.started.Load() {
		return
	}
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
wait:
	for len(d.queue) > 0 {
		select {
		case <-ctx.Done():
			d.logger.Warn("dispatch: drain timed out with events queued", "queued", len(d.queue))
			break wait
		case <-ticker.C:
		}
	}
	if d.cancel != nil {
		d.cancel()
	}
	select {
	case <-d.done:
	case <-ctx.Done():
		d.logger.Warn("dispatch: drain timed out")
	}
}

// process runs one pass: audit the event, evaluate the job's graph against
// it, apply the resulting actions. If anything was applied, a follow-up
// select event is enqueued so chains of dependent tasks make progress
// without waiting for the next external poke; the loop terminates because
// task states only move forward, so eventually a pass applies nothing.
func (d *Dispatcher) process(ctx context.Context, ev *model.Event) {
	log := d.logger.With("job_id", ev.JobID, "event_type", string(ev.Type), "event_id", ev.ID)

	if err := d.store.AppendEvent(ctx, ev); err != nil {
		// The audit trail is best-effort; the pass itself is the source of
		// truth and must not be lost to a logging failure.
		log.Warn("dispatch: append event audit", "error", err)
	}

	_, acts, err := engine.Evaluate(ctx, ev, d.handler, func(ctx context.Context) ([]*model.Task, error) {
		return d.store.ListTasks(ctx, ev.JobID)
	})
	if err != nil {
		log.Error("dispatch: evaluation pass failed", "error", err)
		return
	}

	applied := d.executor.Run(ctx, acts)
	d.metrics.recordPass(ctx, string(ev.Type), applied)
	log.Debug("dispatch: pass complete", "actions", len(acts), "applied", applied)

	if applied > 0 && ev.Type != model.EventCancel {
		if err := d.followUp(ev.JobID); err != nil {
			log.Warn("dispatch: follow-up enqueue failed", "error", err)
		}
	}
}

func (d *Dispatcher) followUp(jobID uuid.UUID) error {
	err := d.Enqueue(&model.Event{
		ID:         uuid.New(),
		JobID:      jobID,
		Type:       model.EventSelect,
		ReceivedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("dispatch: follow-up for job %s: %w", jobID, err)
	}
	return nil
}
