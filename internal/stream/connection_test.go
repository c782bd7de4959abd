package stream

import (
	"testing"
	"time"

	"github.com/clipforge/streamhub/internal/domain/event"
)

func testConn(t *testing.T, queueCap int) *Connection {
	t.Helper()
	return newConnection("c1", "10.0.0.1", "go-test", nil, queueCap, nil)
}

func TestConnectionStartsConnecting(t *testing.T) {
	c := testConn(t, 4)
	if got := c.State(); got != StateConnecting {
		t.Fatalf("expected connecting, got %s", got)
	}
}

func TestConnectionTransitions(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
		ok   bool
	}{
		{"connecting to connected", StateConnecting, StateConnected, true},
		{"connected to error", StateConnected, StateError, true},
		{"connected to closing", StateConnected, StateClosing, true},
		{"closing to disconnected", StateClosing, StateDisconnected, true},
		{"error to connected", StateError, StateConnected, true},
		{"disconnected to error", StateDisconnected, StateError, false},
		{"closing to connected", StateClosing, StateConnected, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testConn(t, 4)
			c.mu.Lock()
			c.state = tt.from
			c.mu.Unlock()
			if got := c.Transition(tt.to); got != tt.ok {
				t.Fatalf("Transition(%s→%s) = %v, want %v", tt.from, tt.to, got, tt.ok)
			}
		})
	}
}

func TestReconnectCounter(t *testing.T) {
	c := testConn(t, 4)

	// First admission: connecting → connected is not a reconnect.
	c.Transition(StateConnected)
	if got := c.Metrics().Reconnects; got != 0 {
		t.Fatalf("expected 0 reconnects after first connect, got %d", got)
	}

	c.Transition(StateError)
	c.Transition(StateConnected)
	if got := c.Metrics().Reconnects; got != 1 {
		t.Fatalf("expected 1 reconnect after error recovery, got %d", got)
	}
}

func TestEnqueueRejectedInTerminalStates(t *testing.T) {
	for _, state := range []State{StateDisconnected, StateError, StateClosing} {
		c := testConn(t, 4)
		c.mu.Lock()
		c.state = state
		c.mu.Unlock()

		if c.Enqueue(QueuedEvent{Type: event.TypeJobProgress, Data: []byte("{}")}, 0) {
			t.Fatalf("expected Enqueue to fail in state %s", state)
		}
	}
}

func TestEnqueueOverflowDropsAndCounts(t *testing.T) {
	c := testConn(t, 2)
	c.Transition(StateConnected)

	ev := QueuedEvent{Type: event.TypeJobProgress, Data: []byte(`{"a":1}`)}
	if !c.Enqueue(ev, 0) || !c.Enqueue(ev, 0) {
		t.Fatal("expected the first two enqueues to succeed")
	}
	if c.Enqueue(ev, 0) {
		t.Fatal("expected the third enqueue to overflow")
	}

	m := c.Metrics()
	if m.MessagesSent != 2 {
		t.Fatalf("expected 2 sent, got %d", m.MessagesSent)
	}
	if m.MessagesFailed != 1 {
		t.Fatalf("expected 1 failed, got %d", m.MessagesFailed)
	}
}

func TestEnqueueFailsFastWhenClosed(t *testing.T) {
	c := testConn(t, 1)
	c.Transition(StateConnected)
	c.Enqueue(QueuedEvent{Data: []byte("{}")}, 0) // fill the queue

	done := make(chan bool, 1)
	go func() {
		done <- c.Enqueue(QueuedEvent{Data: []byte("{}")}, 5*time.Second)
	}()
	c.Close()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("expected enqueue to fail once the connection closed")
		}
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked past connection close")
	}
}

func TestQueuePreservesFIFO(t *testing.T) {
	c := testConn(t, 8)
	c.Transition(StateConnected)

	for _, s := range []string{"one", "two", "three"} {
		c.Enqueue(QueuedEvent{Type: event.TypeJobProgress, Data: []byte(s)}, 0)
	}
	for _, want := range []string{"one", "two", "three"} {
		got := <-c.Events()
		if string(got.Data) != want {
			t.Fatalf("expected %q, got %q", want, got.Data)
		}
	}
}

func TestDefaultSubscriptions(t *testing.T) {
	c := testConn(t, 1)
	for _, typ := range event.JobTypes() {
		if !c.SubscribedTo(typ) {
			t.Fatalf("expected default subscription to include %s", typ)
		}
	}
}

func TestControlEventsBypassSubscriptions(t *testing.T) {
	c := newConnection("c1", "10.0.0.1", "", []event.Type{event.TypeJobComplete}, 1, nil)
	if c.SubscribedTo(event.TypeJobProgress) {
		t.Fatal("expected job_progress to be filtered")
	}
	if !c.SubscribedTo(event.TypeHeartbeat) {
		t.Fatal("expected heartbeat to bypass the subscription set")
	}
}

func TestCloseClearsSubscriptions(t *testing.T) {
	c := testConn(t, 1)
	c.Close()
	if c.State() != StateDisconnected {
		t.Fatalf("expected disconnected after close, got %s", c.State())
	}
	if c.SubscribedTo(event.TypeJobProgress) {
		t.Fatal("expected subscriptions cleared after close")
	}

	select {
	case <-c.Done():
	default:
		t.Fatal("expected Done to be closed")
	}

	c.Close() // second close must not panic
}
