// Package broadcast defines the producer-facing port for pushing events into
// the delivery subsystem.
package broadcast

import (
	"context"
	"encoding/json"
)

// Broadcaster fans a typed event out to every subscribed connection.
type Broadcaster interface {
	// BroadcastEvent delivers the event best-effort; producer callers are
	// never failed because a consumer is slow or gone.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// JobNotifier is the convenience surface job workers use. The event types
// follow the fixed naming convention job_progress, job_complete, job_error.
type JobNotifier interface {
	SendProgress(jobID string, progress float64, message string) error
	SendCompletion(jobID string, result json.RawMessage) error
	SendError(jobID string, errMsg string) error
}
