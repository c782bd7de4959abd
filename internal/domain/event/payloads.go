package event

import (
	"encoding/json"
	"time"
)

// ConnectedPayload is sent to a connection immediately after admission.
type ConnectedPayload struct {
	ClientID          string   `json:"client_id"`
	Subscriptions     []string `json:"subscriptions"`
	HeartbeatInterval float64  `json:"heartbeat_interval_seconds"`
}

// HeartbeatPayload is the periodic liveness probe.
type HeartbeatPayload struct {
	ClientID  string    `json:"client_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ProgressPayload reports partial completion of a summarization job.
type ProgressPayload struct {
	JobID    string  `json:"job_id"`
	Progress float64 `json:"progress"` // 0–100
	Message  string  `json:"message,omitempty"`
}

// CompletePayload carries the final result of a job.
type CompletePayload struct {
	JobID  string          `json:"job_id"`
	Result json.RawMessage `json:"result"`
}

// ErrorPayload reports a failed job.
type ErrorPayload struct {
	JobID string `json:"job_id"`
	Error string `json:"error"`
}
