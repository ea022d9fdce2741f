package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/hakari/internal/model"
)

// AppendEvent records an inbound event in the audit log.
func (s queries) AppendEvent(ctx context.Context, ev *model.Event) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}
	payload := ev.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	_, err := s.q.Exec(ctx,
		`INSERT INTO events (id, job_id, event_type, target_task, payload, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.JobID, string(ev.Type), ev.TargetTask, payload, ev.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: append event: %w", err)
	}
	return nil
}

// ListEvents returns a job's events in arrival order.
func (s queries) ListEvents(ctx context.Context, jobID uuid.UUID, limit int) ([]*model.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q.Query(ctx,
		`SELECT id, job_id, event_type, target_task, payload, received_at
		 FROM events WHERE job_id = $1 ORDER BY received_at, id LIMIT $2`, jobID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list events: %w", err)
	}
	defer rows.Close()

	var events []*model.Event
	for rows.Next() {
		var (
			ev  model.Event
			typ string
		)
		if err := rows.Scan(&ev.ID, &ev.JobID, &typ, &ev.TargetTask, &ev.Payload, &ev.ReceivedAt); err != nil {
			return nil, fmt.Errorf("storage: scan event: %w", err)
		}
		ev.Type = model.EventType(typ)
		events = append(events, &ev)
	}
	return events, rows.Err()
}
