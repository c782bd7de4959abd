// Package config provides hierarchical configuration loading for streamhub.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the streamhub service.
type Config struct {
	Server      Server      `yaml:"server"`
	NATS        NATS        `yaml:"nats"`
	Logging     Logging     `yaml:"logging"`
	Stream      Stream      `yaml:"stream"`
	Heartbeat   Heartbeat   `yaml:"heartbeat"`
	Compression Compression `yaml:"compression"`
	Health      Health      `yaml:"health"`
	Cache       Cache       `yaml:"cache"`
	Rate        Rate        `yaml:"rate"`
	Otel        Otel        `yaml:"otel"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// NATS holds NATS JetStream configuration. An empty URL disables the
// job-event bridge; producers then use the manager API directly.
type NATS struct {
	URL string `yaml:"url"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Stream holds connection pool and delivery configuration.
type Stream struct {
	MaxConnections int           `yaml:"max_connections"`
	MaxPerOrigin   int           `yaml:"max_per_origin"`
	QueueCapacity  int           `yaml:"queue_capacity"`
	EnqueueTimeout time.Duration `yaml:"enqueue_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	StopTimeout    time.Duration `yaml:"stop_timeout"`
}

// Heartbeat holds keepalive probe configuration.
type Heartbeat struct {
	Interval         time.Duration `yaml:"interval"`
	FailureThreshold int           `yaml:"failure_threshold"`
	SkipFraction     float64       `yaml:"skip_fraction"`
}

// Compression holds payload compression configuration. Threshold is in
// bytes; payloads at or below it are sent uncompressed.
type Compression struct {
	Threshold int `yaml:"threshold"`
	Level     int `yaml:"level"`
}

// Health holds health monitor sampling configuration.
type Health struct {
	SampleInterval time.Duration `yaml:"sample_interval"`
	WindowSize     int           `yaml:"window_size"`
	HistorySize    int           `yaml:"history_size"`
}

// Cache holds replay cache configuration.
type Cache struct {
	MaxSizeMB int64         `yaml:"max_size_mb"`
	TTL       time.Duration `yaml:"ttl"`
}

// Rate holds rate limiter configuration.
type Rate struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	MaxIdleTime       time.Duration `yaml:"max_idle_time"`
}

// Otel holds OpenTelemetry export configuration. An empty endpoint
// disables export entirely.
type Otel struct {
	Endpoint string `yaml:"endpoint"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:       "8080",
			CORSOrigin: "http://localhost:3000",
		},
		NATS: NATS{
			URL: "",
		},
		Logging: Logging{
			Level:   "info",
			Service: "streamhub",
		},
		Stream: Stream{
			MaxConnections: 1000,
			MaxPerOrigin:   10,
			QueueCapacity:  2000,
			EnqueueTimeout: 2 * time.Second,
			IdleTimeout:    5 * time.Minute,
			SweepInterval:  time.Minute,
			StopTimeout:    5 * time.Second,
		},
		Heartbeat: Heartbeat{
			Interval:         30 * time.Second,
			FailureThreshold: 3,
			SkipFraction:     0.8,
		},
		Compression: Compression{
			Threshold: 1024,
			Level:     6,
		},
		Health: Health{
			SampleInterval: 10 * time.Second,
			WindowSize:     100,
			HistorySize:    100,
		},
		Cache: Cache{
			MaxSizeMB: 64,
			TTL:       5 * time.Minute,
		},
		Rate: Rate{
			RequestsPerSecond: 10,
			Burst:             100,
			CleanupInterval:   5 * time.Minute,
			MaxIdleTime:       30 * time.Minute,
		},
		Otel: Otel{
			Endpoint: "",
		},
	}
}
