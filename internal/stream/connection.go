// Package stream implements the real-time event delivery subsystem: a bounded
// connection pool, per-connection outbound queues, payload compression,
// heartbeat-driven liveness eviction, and continuous health monitoring.
package stream

import (
	"slices"
	"sync"
	"time"

	"github.com/clipforge/streamhub/internal/domain/event"
)

// State represents a connection's lifecycle state.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
	StateClosing      State = "closing"
)

// validTransitions maps each state to the states it may move to.
var validTransitions = map[State][]State{
	StateConnecting:   {StateConnected, StateDisconnected, StateError, StateClosing},
	StateConnected:    {StateDisconnected, StateError, StateClosing},
	StateDisconnected: {StateConnected, StateClosing},
	StateError:        {StateConnected, StateClosing},
	StateClosing:      {StateDisconnected},
}

// QueuedEvent is one pre-formatted outbound frame: the event type plus the
// encoded wire payload the transport writes as the SSE data line.
type QueuedEvent struct {
	Type event.Type
	Data []byte
}

// ConnMetrics is a point-in-time snapshot of a connection's counters.
type ConnMetrics struct {
	CreatedAt        time.Time `json:"created_at"`
	LastActivity     time.Time `json:"last_activity"`
	LastHeartbeat    time.Time `json:"last_heartbeat"`
	MessagesSent     uint64    `json:"messages_sent"`
	MessagesFailed   uint64    `json:"messages_failed"`
	BytesSent        uint64    `json:"bytes_sent"`
	BytesCompressed  uint64    `json:"bytes_compressed"`
	HeartbeatsSent   uint64    `json:"heartbeats_sent"`
	HeartbeatsMissed uint64    `json:"heartbeats_missed"`
	Reconnects       uint64    `json:"reconnects"`
}

// Connection holds one subscriber's mutable state. It belongs to exactly one
// Pool at a time; removal from the pool is the only path that releases its
// queue and subscriptions.
type Connection struct {
	id        string
	origin    string
	userAgent string

	queue chan QueuedEvent
	done  chan struct{}

	closeOnce sync.Once

	mu    sync.Mutex
	state State
	subs  map[event.Type]struct{}

	createdAt        time.Time
	lastActivity     time.Time
	lastHeartbeat    time.Time
	messagesSent     uint64
	messagesFailed   uint64
	bytesSent        uint64
	bytesCompressed  uint64
	heartbeatsSent   uint64
	heartbeatsMissed uint64
	reconnects       uint64

	now func() time.Time
}

func newConnection(id, origin, userAgent string, subs []event.Type, queueCap int, now func() time.Time) *Connection {
	if now == nil {
		now = time.Now
	}
	if len(subs) == 0 {
		subs = event.JobTypes()
	}
	set := make(map[event.Type]struct{}, len(subs))
	for _, t := range subs {
		set[t] = struct{}{}
	}
	ts := now()
	return &Connection{
		id:           id,
		origin:       origin,
		userAgent:    userAgent,
		queue:        make(chan QueuedEvent, queueCap),
		done:         make(chan struct{}),
		state:        StateConnecting,
		subs:         set,
		createdAt:    ts,
		lastActivity: ts,
		now:          now,
	}
}

// ID returns the connection's opaque client id.
func (c *Connection) ID() string { return c.id }

// Origin returns the network address the connection originated from.
func (c *Connection) Origin() string { return c.origin }

// UserAgent returns the informational user-agent string.
func (c *Connection) UserAgent() string { return c.userAgent }

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Transition moves the connection to the given state if the state machine
// allows it. Re-entering connected from any state other than connecting
// counts as a reconnection.
func (c *Connection) Transition(to State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !slices.Contains(validTransitions[c.state], to) {
		return false
	}
	if to == StateConnected && c.state != StateConnecting {
		c.reconnects++
	}
	c.state = to
	c.lastActivity = c.now()
	return true
}

// canSend reports whether the state accepts new outbound events.
// Only connecting and connected do; every other state silently rejects.
func (c *Connection) canSend() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnecting || c.state == StateConnected
}

// SubscribedTo reports whether the connection accepts events of type t.
// Control events bypass the subscription set.
func (c *Connection) SubscribedTo(t event.Type) bool {
	if t.Control() {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[t]
	return ok
}

// Subscriptions returns the subscription set as a sorted slice.
func (c *Connection) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subs))
	for t := range c.subs {
		out = append(out, string(t))
	}
	slices.Sort(out)
	return out
}

// Enqueue appends ev to the outgoing queue, waiting up to timeout for space.
// It returns false without blocking further if the connection's state rejects
// sends, the queue stays full past the timeout, or the connection closes.
func (c *Connection) Enqueue(ev QueuedEvent, timeout time.Duration) bool {
	if !c.canSend() {
		return false
	}

	select {
	case c.queue <- ev:
		c.recordSent(len(ev.Data))
		return true
	case <-c.done:
		c.recordFailed()
		return false
	default:
	}

	if timeout <= 0 {
		c.recordFailed()
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case c.queue <- ev:
		c.recordSent(len(ev.Data))
		return true
	case <-c.done:
		c.recordFailed()
		return false
	case <-timer.C:
		c.recordFailed()
		return false
	}
}

// Events returns the queue for the single drain path streaming to the client.
func (c *Connection) Events() <-chan QueuedEvent { return c.queue }

// Done is closed when the connection is shut down.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Close walks the connection through closing to disconnected, clears the
// subscription set, and wakes the drain path. Safe to call more than once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if c.state != StateClosing && c.state != StateDisconnected {
			c.state = StateClosing
		}
		c.state = StateDisconnected
		c.subs = map[event.Type]struct{}{}
		c.mu.Unlock()
		close(c.done)
	})
}

// Touch records activity, keeping the connection out of the stale sweep.
func (c *Connection) Touch() {
	c.mu.Lock()
	c.lastActivity = c.now()
	c.mu.Unlock()
}

// IdleFor returns how long the connection has been without activity.
func (c *Connection) IdleFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Sub(c.lastActivity)
}

// Age returns how long the connection has existed.
func (c *Connection) Age() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Sub(c.createdAt)
}

// QueueLen returns the number of events waiting in the outgoing queue.
func (c *Connection) QueueLen() int { return len(c.queue) }

// LastHeartbeat returns the time of the last successful heartbeat.
func (c *Connection) LastHeartbeat() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeartbeat
}

func (c *Connection) markHeartbeat(ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ok {
		c.heartbeatsSent++
		c.lastHeartbeat = c.now()
		c.lastActivity = c.lastHeartbeat
	} else {
		c.heartbeatsMissed++
	}
}

func (c *Connection) recordSent(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messagesSent++
	c.bytesSent += uint64(n)
	c.lastActivity = c.now()
}

func (c *Connection) recordFailed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messagesFailed++
}

// recordCompressed tracks bytes that went through the compressed envelope.
func (c *Connection) recordCompressed(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bytesCompressed += uint64(n)
}

// Metrics returns a snapshot of the connection's counters.
func (c *Connection) Metrics() ConnMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConnMetrics{
		CreatedAt:        c.createdAt,
		LastActivity:     c.lastActivity,
		LastHeartbeat:    c.lastHeartbeat,
		MessagesSent:     c.messagesSent,
		MessagesFailed:   c.messagesFailed,
		BytesSent:        c.bytesSent,
		BytesCompressed:  c.bytesCompressed,
		HeartbeatsSent:   c.heartbeatsSent,
		HeartbeatsMissed: c.heartbeatsMissed,
		Reconnects:       c.reconnects,
	}
}
