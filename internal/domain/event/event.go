// Package event defines the wire-level event envelope and the job event payloads.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies the kind of streamed event.
type Type string

const (
	// Control events, delivered regardless of a connection's subscription set.
	TypeConnected Type = "connected"
	TypeHeartbeat Type = "heartbeat"

	// Job lifecycle events produced by the summarization workers.
	TypeJobProgress Type = "job_progress"
	TypeJobComplete Type = "job_complete"
	TypeJobError    Type = "job_error"
)

// JobTypes lists the job lifecycle event types, the default subscription set
// for connections that do not request specific types.
func JobTypes() []Type {
	return []Type{TypeJobProgress, TypeJobComplete, TypeJobError}
}

// Control reports whether t bypasses subscription filtering.
func (t Type) Control() bool {
	return t == TypeConnected || t == TypeHeartbeat
}

// Event is the envelope delivered to streaming subscribers.
type Event struct {
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// New marshals payload and wraps it in an Event stamped with the current time.
func New(t Type, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Event{Type: t, Payload: data, Timestamp: time.Now().UTC()}, nil
}
