package actions

import (
	"context"
	"errors"
	"log/slog"
)

// Executor applies actions one at a time, each inside its own transaction,
// so a failure applying action N never undoes actions 1..N-1 nor leaves
// action N half-applied.
//
// Failed actions are logged and skipped, never retried in-line: the next
// inbound event re-evaluates the graph from the authoritative persisted
// state and recomputes whatever still needs to happen.
type Executor struct {
	store  Store
	logger *slog.Logger
}

// NewExecutor creates an Executor committing against store.
func NewExecutor(store Store, logger *slog.Logger) *Executor {
	return &Executor{store: store, logger: logger}
}

// Run applies each action in order. It returns the number of actions that
// committed; it never returns an error, because per-action failures are
// isolated by design.
func (e *Executor) Run(ctx context.Context, acts []Action) int {
	applied := 0
	for _, a := range acts {
		err := e.store.WithTransaction(ctx, func(tx Store) error {
			return a.Apply(ctx, tx)
		})
		switch {
		case errors.Is(err, ErrStaleState):
			// Already applied or superseded by a concurrent pass.
			e.logger.Debug("action skipped, precondition stale", "action", a.String())
			continue
		case err != nil:
			e.logger.Error("action failed", "action", a.String(), "error", err)
			continue
		}
		applied++

		// External calls run outside the transaction; the commit above
		// already recorded that the call was issued.
		if pc, ok := a.(PostCommitter); ok {
			if err := pc.PostCommit(ctx); err != nil {
				e.logger.Error("action post-commit failed", "action", a.String(), "error", err)
			}
		}
	}
	return applied
}
