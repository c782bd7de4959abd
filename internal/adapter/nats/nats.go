// Package nats implements the job-event ingestion bridge on NATS JetStream.
// Summarization workers publish to jobs.<job_id>.{progress,complete,error};
// the bridge maps subjects to event types and forwards into the broadcaster.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/clipforge/streamhub/internal/domain/event"
	"github.com/clipforge/streamhub/internal/port/broadcast"
)

const streamName = "STREAMHUB"

// Bridge consumes job events from JetStream and fans them out.
type Bridge struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
	stop   func()
}

// Connect establishes a NATS connection and ensures the job stream exists.
func Connect(ctx context.Context, url string, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}

	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{"jobs.>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	logger.Info("nats connected", "url", url, "stream", streamName)
	return &Bridge{nc: nc, js: js, logger: logger}, nil
}

// Start begins forwarding job events into b. Messages on unrecognized
// subjects are acked and dropped; delivery downstream is best-effort, so
// nothing is ever nacked for redelivery.
func (br *Bridge) Start(ctx context.Context, b broadcast.Broadcaster) error {
	consumer, err := br.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		FilterSubject: "jobs.>",
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		defer func() {
			if err := msg.Ack(); err != nil {
				br.logger.Error("nats ack failed", "error", err)
			}
		}()

		typ, ok := subjectEventType(msg.Subject())
		if !ok {
			br.logger.Warn("unrecognized job subject", "subject", msg.Subject())
			return
		}
		b.BroadcastEvent(ctx, string(typ), rawPayload(msg.Data()))
	})
	if err != nil {
		return fmt.Errorf("nats consume: %w", err)
	}

	br.stop = cons.Stop
	return nil
}

// Close stops the consumer and shuts down the connection.
func (br *Bridge) Close() error {
	if br.stop != nil {
		br.stop()
	}
	br.nc.Close()
	return nil
}

// rawPayload passes worker JSON through untouched; anything else is
// forwarded as a JSON string.
func rawPayload(data []byte) json.RawMessage {
	if json.Valid(data) {
		return json.RawMessage(data)
	}
	quoted, _ := json.Marshal(string(data))
	return json.RawMessage(quoted)
}

// subjectEventType maps jobs.<job_id>.<suffix> to the wire event type.
func subjectEventType(subject string) (event.Type, bool) {
	parts := strings.Split(subject, ".")
	if len(parts) != 3 || parts[0] != "jobs" || parts[1] == "" {
		return "", false
	}
	switch parts[2] {
	case "progress":
		return event.TypeJobProgress, true
	case "complete":
		return event.TypeJobComplete, true
	case "error":
		return event.TypeJobError, true
	}
	return "", false
}
