package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType is the category of an inbound event. The set is open: external
// collaborators may deliver new types, and handlers ignore what they don't
// understand.
type EventType string

const (
	// EventInitiate starts evaluation of a freshly created job.
	EventInitiate EventType = "initiate"
	// EventUpdate reports progress of dispatched work (build or test run
	// finished, timed out, etc.). Payload carries the outcome.
	EventUpdate EventType = "update"
	// EventSelect asks the graph to pick the next revision to examine.
	// Carries an empty payload.
	EventSelect EventType = "select"
	// EventCancel drives the targeted tasks directly to cancelled.
	EventCancel EventType = "cancel"
)

// Valid reports whether t is one of the built-in event types.
func (t EventType) Valid() bool {
	switch t {
	case EventInitiate, EventUpdate, EventSelect, EventCancel:
		return true
	default:
		return false
	}
}

// Event is one inbound trigger for an evaluation pass. Events are transient:
// they are not consulted after the pass that consumes them, but receipt is
// recorded in the append-only event log for debugging.
type Event struct {
	// ID is unique per delivery and used for audit; duplicate deliveries of
	// the same logical event are harmless because every commit is a
	// compare-and-swap.
	ID    uuid.UUID `json:"id"`
	JobID uuid.UUID `json:"job_id"`
	Type  EventType `json:"type"`

	// TargetTask optionally narrows the event to one vertex. Empty means
	// the event addresses the whole graph.
	TargetTask string `json:"target_task,omitempty"`

	Payload    map[string]any `json:"payload,omitempty"`
	ReceivedAt time.Time      `json:"received_at"`
}

// Status extracts the conventional "status" payload field, or "" if absent.
func (e *Event) Status() string {
	if e == nil || e.Payload == nil {
		return ""
	}
	s, _ := e.Payload["status"].(string)
	return s
}
