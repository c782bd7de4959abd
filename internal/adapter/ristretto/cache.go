// Package ristretto implements the manager's replay cache on
// dgraph-io/ristretto: the latest encoded event per event type, TTL-bound,
// served to freshly admitted connections.
package ristretto

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// ReplayCache holds the most recent wire-encoded event per event type.
type ReplayCache struct {
	c   *ristretto.Cache[string, []byte]
	ttl time.Duration
}

// New creates a replay cache. maxCostBytes bounds the total size of cached
// payloads; ttl bounds how stale a replayed event may be.
func New(maxCostBytes int64, ttl time.Duration) (*ReplayCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxCostBytes / 100 * 10, // ~10x expected items
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &ReplayCache{c: c, ttl: ttl}, nil
}

// Get returns the cached wire bytes for an event type.
func (r *ReplayCache) Get(eventType string) ([]byte, bool) {
	return r.c.Get(eventType)
}

// Set stores the latest wire bytes for an event type. Ristretto's admission
// policy may drop the write under pressure; replay is best-effort anyway.
func (r *ReplayCache) Set(eventType string, wire []byte) {
	r.c.SetWithTTL(eventType, wire, int64(len(wire)), r.ttl)
}

// Close releases the cache's resources.
func (r *ReplayCache) Close() {
	r.c.Close()
}
