package stream

import (
	"log/slog"
	"sync"
	"time"

	"github.com/clipforge/streamhub/internal/domain/event"
)

// PoolStats is a point-in-time aggregate of the pool's state. Created and
// Rejected are monotonic and never reset.
type PoolStats struct {
	Total            int            `json:"total"`
	MaxTotal         int            `json:"max_total"`
	PerOrigin        map[string]int `json:"per_origin"`
	Created          uint64         `json:"created"`
	Rejected         uint64         `json:"rejected"`
	AvgAgeSeconds    float64        `json:"avg_age_seconds"`
	OldestAgeSeconds float64        `json:"oldest_age_seconds"`
	UtilizationPct   float64        `json:"utilization_pct"`
}

// Pool owns the set of active connections. It keeps two indices, id to
// connection and origin to id-set, consistent under one mutex; per-connection
// queues synchronize independently so unrelated traffic never serializes here.
type Pool struct {
	maxTotal     int
	maxPerOrigin int
	queueCap     int
	logger       *slog.Logger
	now          func() time.Time

	mu       sync.RWMutex
	conns    map[string]*Connection
	byOrigin map[string]map[string]struct{}
	created  uint64
	rejected uint64
}

// NewPool creates an empty pool with the given admission limits.
func NewPool(maxTotal, maxPerOrigin, queueCap int, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		maxTotal:     maxTotal,
		maxPerOrigin: maxPerOrigin,
		queueCap:     queueCap,
		logger:       logger,
		now:          time.Now,
		conns:        make(map[string]*Connection),
		byOrigin:     make(map[string]map[string]struct{}),
	}
}

// TryAdmit admits a new connection in state connecting, or rejects it with
// ErrPoolFull or ErrOriginLimit. The total limit is evaluated before the
// per-origin limit; both checks and the insertion happen under one lock, so
// concurrent admissions can never land over budget. An existing connection
// with the same id is removed first (last writer wins, no state merge).
func (p *Pool) TryAdmit(id, origin, userAgent string, subs []event.Type) (*Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if old, ok := p.conns[id]; ok {
		p.removeLocked(id, old)
		p.logger.Debug("connection replaced on reconnect", "id", id, "origin", origin)
	}

	if len(p.conns) >= p.maxTotal {
		p.rejected++
		return nil, ErrPoolFull
	}
	if len(p.byOrigin[origin]) >= p.maxPerOrigin {
		p.rejected++
		return nil, ErrOriginLimit
	}

	c := newConnection(id, origin, userAgent, subs, p.queueCap, p.now)
	p.conns[id] = c
	set, ok := p.byOrigin[origin]
	if !ok {
		set = make(map[string]struct{})
		p.byOrigin[origin] = set
	}
	set[id] = struct{}{}
	p.created++

	return c, nil
}

// Remove deletes the connection from both indices and closes it. It is
// idempotent and safe to call concurrently; it reports whether anything was
// removed.
func (p *Pool) Remove(id string) bool {
	p.mu.Lock()
	c, ok := p.conns[id]
	if ok {
		p.removeLocked(id, c)
	}
	p.mu.Unlock()
	return ok
}

// RemoveConn deletes exactly this connection instance, not whatever currently
// owns its id. After a reconnect replaces a connection, the stale instance's
// owner (a handler still unwinding, the heartbeater holding an old snapshot)
// must not be able to evict the replacement.
func (p *Pool) RemoveConn(c *Connection) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur, ok := p.conns[c.ID()]
	if !ok || cur != c {
		return false
	}
	p.removeLocked(c.ID(), c)
	return true
}

// removeLocked must be called with p.mu held.
func (p *Pool) removeLocked(id string, c *Connection) {
	delete(p.conns, id)
	if set, ok := p.byOrigin[c.Origin()]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(p.byOrigin, c.Origin())
		}
	}
	c.Close()
}

// Get returns the connection with the given id, if present.
func (p *Pool) Get(id string) (*Connection, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.conns[id]
	return c, ok
}

// ByOrigin returns a snapshot of the connections from the given origin.
func (p *Pool) ByOrigin(origin string) []*Connection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := p.byOrigin[origin]
	out := make([]*Connection, 0, len(ids))
	for id := range ids {
		out = append(out, p.conns[id])
	}
	return out
}

// All returns a snapshot of every pooled connection. The snapshot does not
// stay valid: later removals are possible while the caller iterates.
func (p *Pool) All() []*Connection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Connection, 0, len(p.conns))
	for _, c := range p.conns {
		out = append(out, c)
	}
	return out
}

// Len returns the number of pooled connections.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns)
}

// SweepStale removes connections idle past idleTimeout as well as any whose
// state is no longer connected or connecting. Returns the number removed.
// Sparing connecting is deliberate: a fresh admission racing the sweeper must
// not be evicted before its confirmation lands, so a connection stuck in
// connecting leaves only through the idle clause.
func (p *Pool) SweepStale(idleTimeout time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for id, c := range p.conns {
		state := c.State()
		stale := c.IdleFor() > idleTimeout ||
			(state != StateConnected && state != StateConnecting)
		if stale {
			p.removeLocked(id, c)
			removed++
			p.logger.Info("stale connection swept",
				"id", id, "origin", c.Origin(), "state", string(state))
		}
	}
	return removed
}

// Clear removes every connection. Called on shutdown.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, c := range p.conns {
		p.removeLocked(id, c)
	}
}

// Stats returns a snapshot of the pool's aggregate state.
func (p *Pool) Stats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	perOrigin := make(map[string]int, len(p.byOrigin))
	for origin, ids := range p.byOrigin {
		perOrigin[origin] = len(ids)
	}

	var totalAge, oldest time.Duration
	for _, c := range p.conns {
		age := c.Age()
		totalAge += age
		if age > oldest {
			oldest = age
		}
	}

	stats := PoolStats{
		Total:            len(p.conns),
		MaxTotal:         p.maxTotal,
		PerOrigin:        perOrigin,
		Created:          p.created,
		Rejected:         p.rejected,
		OldestAgeSeconds: oldest.Seconds(),
		UtilizationPct:   float64(len(p.conns)) / float64(p.maxTotal) * 100,
	}
	if len(p.conns) > 0 {
		stats.AvgAgeSeconds = (totalAge / time.Duration(len(p.conns))).Seconds()
	}
	return stats
}

// aggregateCounters sums send metrics across all connections. Used by the
// health monitor to derive the success rate.
func (p *Pool) aggregateCounters() (sent, failed uint64, avgQueue, avgIdleMs float64) {
	conns := p.All()
	if len(conns) == 0 {
		return 0, 0, 0, 0
	}
	var queueSum, idleSum float64
	for _, c := range conns {
		m := c.Metrics()
		sent += m.MessagesSent
		failed += m.MessagesFailed
		queueSum += float64(c.QueueLen())
		idleSum += float64(c.IdleFor().Milliseconds())
	}
	n := float64(len(conns))
	return sent, failed, queueSum / n, idleSum / n
}
