package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/clipforge/streamhub/internal/domain/event"
)

// sendFunc delivers an event to a single connection, reporting success.
// Delivery failures are converted to a boolean here and never raise further.
type sendFunc func(*Connection, event.Event) bool

// heartbeater probes every pooled connection on a fixed interval and evicts
// connections that miss failureThreshold consecutive probes. This is the only
// automatic eviction driven purely by liveness, independent of the idle sweep.
type heartbeater struct {
	pool         *Pool
	interval     time.Duration
	threshold    int
	skipFraction float64
	send         sendFunc
	logger       *slog.Logger
	now          func() time.Time

	// failures is keyed by connection instance, not id: a reconnect that
	// reuses an id must start a fresh consecutive-miss count, not inherit
	// whatever its predecessor had accumulated.
	mu       sync.Mutex
	failures map[*Connection]int
}

func newHeartbeater(pool *Pool, cfg Config, send sendFunc, logger *slog.Logger) *heartbeater {
	if logger == nil {
		logger = slog.Default()
	}
	return &heartbeater{
		pool:         pool,
		interval:     cfg.HeartbeatInterval,
		threshold:    cfg.HeartbeatFailureThreshold,
		skipFraction: cfg.HeartbeatSkipFraction,
		send:         send,
		logger:       logger,
		now:          time.Now,
		failures:     make(map[*Connection]int),
	}
}

// run drives the probe loop until ctx is cancelled.
func (h *heartbeater) run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.beat()
		}
	}
}

// beat probes a snapshot of the pool once.
func (h *heartbeater) beat() {
	now := h.now()
	skipWindow := time.Duration(h.skipFraction * float64(h.interval))

	snapshot := h.pool.All()
	h.prune(snapshot)

	for _, c := range snapshot {
		// A connection probed (or admitted) moments ago does not need
		// another probe yet.
		if last := c.LastHeartbeat(); !last.IsZero() && now.Sub(last) < skipWindow {
			continue
		}

		ev, err := event.New(event.TypeHeartbeat, event.HeartbeatPayload{
			ClientID:  c.ID(),
			Timestamp: now,
		})
		ok := err == nil && h.send(c, ev)
		c.markHeartbeat(ok)

		if ok {
			h.clearFailures(c)
			continue
		}

		if h.recordFailure(c) >= h.threshold {
			c.Transition(StateError)
			h.pool.RemoveConn(c)
			h.clearFailures(c)
			h.logger.Warn("connection evicted after missed heartbeats",
				"id", c.ID(), "origin", c.Origin(), "threshold", h.threshold)
		}
	}
}

// prune drops counters for connections that left the pool between beats, so
// counts never outlive the connection they describe and the map stays bounded
// by pool size.
func (h *heartbeater) prune(snapshot []*Connection) {
	pooled := make(map[*Connection]struct{}, len(snapshot))
	for _, c := range snapshot {
		pooled[c] = struct{}{}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.failures {
		if _, ok := pooled[c]; !ok {
			delete(h.failures, c)
		}
	}
}

func (h *heartbeater) recordFailure(c *Connection) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures[c]++
	return h.failures[c]
}

func (h *heartbeater) clearFailures(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.failures, c)
}

func (h *heartbeater) failureCount(c *Connection) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failures[c]
}
