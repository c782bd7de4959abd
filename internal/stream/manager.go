package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/clipforge/streamhub/internal/domain/event"
)

// ReplayCache stores the latest encoded event per event type so newly
// admitted connections can catch up on current state. A nil cache disables
// replay.
type ReplayCache interface {
	Get(eventType string) ([]byte, bool)
	Set(eventType string, wire []byte)
}

// Metrics receives subsystem measurements. Implementations must not block;
// a nil Metrics disables instrumentation.
type Metrics interface {
	ConnectionOpened(ctx context.Context)
	ConnectionClosed(ctx context.Context)
	AdmissionRejected(ctx context.Context)
	EventDelivered(ctx context.Context)
	EventDropped(ctx context.Context)
	CompressionRatio(ctx context.Context, ratio float64)
	HealthStatus(ctx context.Context, status HealthStatus)
}

// BroadcastResult reports exact delivery counts for one send or broadcast.
type BroadcastResult struct {
	Sent     int `json:"sent"`
	Failed   int `json:"failed"`
	Filtered int `json:"filtered"`
}

// Manager composes the pool, codec, heartbeater, and health monitor into the
// public contract used by the web layer and the job producers. One manager is
// constructed at process start and passed to collaborators; there is no
// ambient singleton.
type Manager struct {
	cfg     Config
	logger  *slog.Logger
	pool    *Pool
	codec   *Codec
	hb      *heartbeater
	health  *Monitor
	replay  ReplayCache
	metrics Metrics

	started atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	loops  *errgroup.Group
}

// Option configures optional manager collaborators.
type Option func(*Manager)

// WithReplayCache enables last-event replay for new connections.
func WithReplayCache(rc ReplayCache) Option {
	return func(m *Manager) { m.replay = rc }
}

// WithMetrics wires metric instrumentation into the delivery paths.
func WithMetrics(mx Metrics) Option {
	return func(m *Manager) { m.metrics = mx }
}

// NewManager builds a stopped manager. Call Start before Admit or Send;
// neither lazily starts the manager, both fail with ErrStopped.
func NewManager(cfg Config, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	m := &Manager{
		cfg:    cfg,
		logger: logger,
		pool:   NewPool(cfg.MaxConnections, cfg.MaxPerOrigin, cfg.QueueCapacity, logger),
		codec:  NewCodec(cfg.CompressionThreshold, cfg.CompressionLevel, logger),
	}
	m.hb = newHeartbeater(m.pool, cfg, m.sendPlain, logger)
	m.health = NewMonitor(m.pool, cfg, logger)

	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the heartbeat, health-sampling, and stale-sweep loops.
// Idempotent; a second Start while running is a no-op.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started.Load() {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(loopCtx)
	g.Go(func() error { return m.hb.run(gctx) })
	g.Go(func() error { return m.health.run(gctx) })
	g.Go(func() error { return m.sweepLoop(gctx) })

	m.cancel = cancel
	m.loops = g
	m.started.Store(true)

	m.logger.Info("stream manager started",
		"max_connections", m.cfg.MaxConnections,
		"max_per_origin", m.cfg.MaxPerOrigin,
		"heartbeat_interval", m.cfg.HeartbeatInterval,
	)
	return nil
}

// Stop cancels the background loops, joins them within the configured
// timeout, and clears the pool. Idempotent. In-flight sends complete against
// the last-known pool state or fail cleanly; nothing hangs on a stopped loop.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started.Load() {
		return nil
	}
	m.started.Store(false)
	m.cancel()

	done := make(chan struct{})
	go func() {
		_ = m.loops.Wait() // loops return ctx.Err on cancellation
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(m.cfg.StopTimeout):
		err = fmt.Errorf("stream manager stop: loops did not exit within %s", m.cfg.StopTimeout)
	case <-ctx.Done():
		err = ctx.Err()
	}

	m.pool.Clear()
	m.logger.Info("stream manager stopped")
	return err
}

func (m *Manager) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if removed := m.pool.SweepStale(m.cfg.IdleTimeout); removed > 0 {
				m.logger.Info("stale sweep", "removed", removed)
			}
		}
	}
}

// Admit registers a new streaming connection. When requestedID is empty a
// fresh id is generated; a requested id that already exists replaces the
// prior connection. The new connection immediately receives a connected
// confirmation event, then the latest cached event per subscribed type.
func (m *Manager) Admit(origin, userAgent, requestedID string, subs []event.Type) (*Connection, error) {
	if !m.started.Load() {
		return nil, ErrStopped
	}

	id := requestedID
	if id == "" {
		id = uuid.NewString()
	}

	c, err := m.pool.TryAdmit(id, origin, userAgent, subs)
	if err != nil {
		m.notifyRejected()
		m.logger.Warn("admission rejected", "origin", origin, "error", err)
		return nil, err
	}
	c.Transition(StateConnected)

	confirm, err := event.New(event.TypeConnected, event.ConnectedPayload{
		ClientID:          id,
		Subscriptions:     c.Subscriptions(),
		HeartbeatInterval: m.cfg.HeartbeatInterval.Seconds(),
	})
	if err == nil {
		m.sendPlain(c, confirm)
	}
	m.replayLatest(c)

	if m.metrics != nil {
		m.metrics.ConnectionOpened(context.Background())
	}
	m.logger.Info("connection admitted", "id", id, "origin", origin, "subscriptions", c.Subscriptions())
	return c, nil
}

// Disconnect removes the connection currently owning id, walking it through
// closing before eviction. Reports whether the connection existed.
func (m *Manager) Disconnect(id string) bool {
	c, ok := m.pool.Get(id)
	if !ok {
		return false
	}
	c.Transition(StateClosing)
	removed := m.pool.RemoveConn(c)
	if removed {
		if m.metrics != nil {
			m.metrics.ConnectionClosed(context.Background())
		}
		m.logger.Info("connection disconnected", "id", id)
	}
	return removed
}

// DisconnectConn removes exactly this connection instance. Transports that
// hold a handle must use this rather than Disconnect: after a reconnect
// replaced the handle's connection, removal by id would evict the live
// replacement instead of being the intended no-op.
func (m *Manager) DisconnectConn(c *Connection) bool {
	c.Transition(StateClosing)
	removed := m.pool.RemoveConn(c)
	if removed {
		if m.metrics != nil {
			m.metrics.ConnectionClosed(context.Background())
		}
		m.logger.Info("connection disconnected", "id", c.ID())
	}
	return removed
}

// Send delivers one event. With a targetID it reaches only that connection
// (a missing target is a no-op, not an error); without one it broadcasts to
// every connection subscribed to the event type.
func (m *Manager) Send(t event.Type, payload any, targetID string) (BroadcastResult, error) {
	if targetID == "" {
		return m.Broadcast(t, payload, nil, nil)
	}
	if !m.started.Load() {
		return BroadcastResult{}, ErrStopped
	}

	c, ok := m.pool.Get(targetID)
	if !ok {
		return BroadcastResult{}, nil
	}

	ev, err := event.New(t, payload)
	if err != nil {
		return BroadcastResult{}, err
	}
	wire, compressed := m.codec.Encode(ev)
	m.cacheLatest(t, wire)
	if compressed {
		m.notifyCompression()
	}

	var res BroadcastResult
	m.deliver(c, t, wire, compressed, &res)
	return res, nil
}

// Broadcast delivers an event to every subscribed connection, optionally
// restricted by a predicate and an origin allow-list. Per-connection failures
// are counted, never propagated; the loop always finishes.
func (m *Manager) Broadcast(t event.Type, payload any, filter func(*Connection) bool, origins []string) (BroadcastResult, error) {
	if !m.started.Load() {
		return BroadcastResult{}, ErrStopped
	}

	ev, err := event.New(t, payload)
	if err != nil {
		return BroadcastResult{}, err
	}
	wire, compressed := m.codec.Encode(ev)
	m.cacheLatest(t, wire)
	if compressed {
		m.notifyCompression()
	}

	var allowed map[string]struct{}
	if len(origins) > 0 {
		allowed = make(map[string]struct{}, len(origins))
		for _, o := range origins {
			allowed[o] = struct{}{}
		}
	}

	var res BroadcastResult
	for _, c := range m.pool.All() {
		if allowed != nil {
			if _, ok := allowed[c.Origin()]; !ok {
				res.Filtered++
				continue
			}
		}
		if filter != nil && !filter(c) {
			res.Filtered++
			continue
		}
		m.deliver(c, t, wire, compressed, &res)
	}

	if res.Failed > 0 {
		m.logger.Debug("broadcast finished with failures",
			"type", string(t), "sent", res.Sent, "failed", res.Failed, "filtered", res.Filtered)
	}
	return res, nil
}

// deliver enqueues an already-encoded event onto one connection.
func (m *Manager) deliver(c *Connection, t event.Type, wire []byte, compressed bool, res *BroadcastResult) {
	if !c.SubscribedTo(t) {
		res.Filtered++
		return
	}
	if c.Enqueue(QueuedEvent{Type: t, Data: wire}, m.cfg.EnqueueTimeout) {
		if compressed {
			c.recordCompressed(len(wire))
		}
		res.Sent++
		if m.metrics != nil {
			m.metrics.EventDelivered(context.Background())
		}
		return
	}
	res.Failed++
	if m.metrics != nil {
		m.metrics.EventDropped(context.Background())
	}
}

// sendPlain serializes without the codec and enqueues directly. Used for
// heartbeats and the connected confirmation, which are small and must not be
// delayed by compression failure paths.
func (m *Manager) sendPlain(c *Connection, ev event.Event) bool {
	raw, err := json.Marshal(ev)
	if err != nil {
		return false
	}
	return c.Enqueue(QueuedEvent{Type: ev.Type, Data: raw}, m.cfg.EnqueueTimeout)
}

func (m *Manager) cacheLatest(t event.Type, wire []byte) {
	if m.replay == nil || t.Control() {
		return
	}
	m.replay.Set(string(t), wire)
}

func (m *Manager) replayLatest(c *Connection) {
	if m.replay == nil {
		return
	}
	for _, sub := range c.Subscriptions() {
		if wire, ok := m.replay.Get(sub); ok {
			c.Enqueue(QueuedEvent{Type: event.Type(sub), Data: wire}, 0)
		}
	}
}

func (m *Manager) notifyCompression() {
	if m.metrics != nil {
		m.metrics.CompressionRatio(context.Background(), m.codec.Stats().LastRatio)
	}
}

func (m *Manager) notifyRejected() {
	if m.metrics != nil {
		m.metrics.AdmissionRejected(context.Background())
	}
}

// SendProgress notifies subscribers of partial job completion.
func (m *Manager) SendProgress(jobID string, progress float64, message string) error {
	_, err := m.Send(event.TypeJobProgress, event.ProgressPayload{
		JobID: jobID, Progress: progress, Message: message,
	}, "")
	return err
}

// SendCompletion notifies subscribers that a job finished.
func (m *Manager) SendCompletion(jobID string, result json.RawMessage) error {
	_, err := m.Send(event.TypeJobComplete, event.CompletePayload{
		JobID: jobID, Result: result,
	}, "")
	return err
}

// SendError notifies subscribers that a job failed.
func (m *Manager) SendError(jobID string, errMsg string) error {
	_, err := m.Send(event.TypeJobError, event.ErrorPayload{
		JobID: jobID, Error: errMsg,
	}, "")
	return err
}

// BroadcastEvent implements the broadcast port for external producers.
// Errors are absorbed; a producer must never fail because a consumer did.
func (m *Manager) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	_ = ctx
	if _, err := m.Broadcast(event.Type(eventType), payload, nil, nil); err != nil {
		m.logger.Warn("broadcast dropped", "type", eventType, "error", err)
	}
}

// Health returns the latest health snapshot, sampling on demand when the
// monitor has not ticked yet. The caller gets a value copy; nothing mutable
// escapes.
func (m *Manager) Health() Snapshot {
	if snap, ok := m.health.Latest(); ok {
		m.notifyHealth(snap.Status)
		return snap
	}
	snap := m.health.Sample(context.Background())
	m.notifyHealth(snap.Status)
	return snap
}

func (m *Manager) notifyHealth(status HealthStatus) {
	if m.metrics != nil {
		m.metrics.HealthStatus(context.Background(), status)
	}
}

// Alerts returns per-metric threshold alerts from the latest sample.
func (m *Manager) Alerts() []Alert { return m.health.Alerts() }

// PoolStats returns the pool's aggregate statistics.
func (m *Manager) PoolStats() PoolStats { return m.pool.Stats() }

// CodecStats returns the compression aggregate statistics.
func (m *Manager) CodecStats() CodecStats { return m.codec.Stats() }

// Codec exposes the codec for transports that need to decode envelopes.
func (m *Manager) Codec() *Codec { return m.codec }
