package stream

import "time"

// Config holds the delivery subsystem's tunables. All values are consumed at
// construction; the subsystem never re-reads configuration while running.
type Config struct {
	// Admission limits.
	MaxConnections int // global connection cap
	MaxPerOrigin   int // per-origin connection cap

	// Per-connection queue.
	QueueCapacity  int           // outbound queue slots
	EnqueueTimeout time.Duration // max wait for queue space before failing fast

	// Stale-connection sweep.
	IdleTimeout   time.Duration
	SweepInterval time.Duration

	// Heartbeats.
	HeartbeatInterval         time.Duration
	HeartbeatFailureThreshold int
	HeartbeatSkipFraction     float64 // skip probe if last heartbeat is fresher than this fraction of the interval

	// Compression.
	CompressionThreshold int // bytes; payloads at or below this stay uncompressed
	CompressionLevel     int // gzip scale 1 (fast) to 9 (best)

	// Health sampling.
	HealthSampleInterval time.Duration
	HealthWindowSize     int // moving-average window
	HealthHistorySize    int // snapshot ring size

	// Shutdown.
	StopTimeout time.Duration // max wait for background loops to join
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConnections:            1000,
		MaxPerOrigin:              10,
		QueueCapacity:             2000,
		EnqueueTimeout:            2 * time.Second,
		IdleTimeout:               5 * time.Minute,
		SweepInterval:             time.Minute,
		HeartbeatInterval:         30 * time.Second,
		HeartbeatFailureThreshold: 3,
		HeartbeatSkipFraction:     0.8,
		CompressionThreshold:      1024,
		CompressionLevel:          6,
		HealthSampleInterval:      10 * time.Second,
		HealthWindowSize:          100,
		HealthHistorySize:         100,
		StopTimeout:               5 * time.Second,
	}
}

// withDefaults fills zero-valued fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConnections <= 0 {
		c.MaxConnections = d.MaxConnections
	}
	if c.MaxPerOrigin <= 0 {
		c.MaxPerOrigin = d.MaxPerOrigin
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = d.QueueCapacity
	}
	if c.EnqueueTimeout <= 0 {
		c.EnqueueTimeout = d.EnqueueTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatFailureThreshold <= 0 {
		c.HeartbeatFailureThreshold = d.HeartbeatFailureThreshold
	}
	if c.HeartbeatSkipFraction <= 0 || c.HeartbeatSkipFraction >= 1 {
		c.HeartbeatSkipFraction = d.HeartbeatSkipFraction
	}
	if c.CompressionThreshold <= 0 {
		c.CompressionThreshold = d.CompressionThreshold
	}
	if c.CompressionLevel < 1 || c.CompressionLevel > 9 {
		c.CompressionLevel = d.CompressionLevel
	}
	if c.HealthSampleInterval <= 0 {
		c.HealthSampleInterval = d.HealthSampleInterval
	}
	if c.HealthWindowSize <= 0 {
		c.HealthWindowSize = d.HealthWindowSize
	}
	if c.HealthHistorySize <= 0 {
		c.HealthHistorySize = d.HealthHistorySize
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = d.StopTimeout
	}
	return c
}
