package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "streamhub.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "STREAMHUB_PORT")
	setString(&cfg.Server.CORSOrigin, "STREAMHUB_CORS_ORIGIN")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "STREAMHUB_LOG_LEVEL")
	setString(&cfg.Logging.Service, "STREAMHUB_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "STREAMHUB_LOG_ASYNC")
	setInt(&cfg.Stream.MaxConnections, "STREAMHUB_MAX_CONNECTIONS")
	setInt(&cfg.Stream.MaxPerOrigin, "STREAMHUB_MAX_PER_ORIGIN")
	setInt(&cfg.Stream.QueueCapacity, "STREAMHUB_QUEUE_CAPACITY")
	setDuration(&cfg.Stream.EnqueueTimeout, "STREAMHUB_ENQUEUE_TIMEOUT")
	setDuration(&cfg.Stream.IdleTimeout, "STREAMHUB_IDLE_TIMEOUT")
	setDuration(&cfg.Stream.SweepInterval, "STREAMHUB_SWEEP_INTERVAL")
	setDuration(&cfg.Stream.StopTimeout, "STREAMHUB_STOP_TIMEOUT")
	setDuration(&cfg.Heartbeat.Interval, "STREAMHUB_HEARTBEAT_INTERVAL")
	setInt(&cfg.Heartbeat.FailureThreshold, "STREAMHUB_HEARTBEAT_FAILURES")
	setFloat64(&cfg.Heartbeat.SkipFraction, "STREAMHUB_HEARTBEAT_SKIP_FRACTION")
	setInt(&cfg.Compression.Threshold, "STREAMHUB_COMPRESSION_THRESHOLD")
	setInt(&cfg.Compression.Level, "STREAMHUB_COMPRESSION_LEVEL")
	setDuration(&cfg.Health.SampleInterval, "STREAMHUB_HEALTH_SAMPLE_INTERVAL")
	setInt(&cfg.Health.WindowSize, "STREAMHUB_HEALTH_WINDOW_SIZE")
	setInt(&cfg.Health.HistorySize, "STREAMHUB_HEALTH_HISTORY_SIZE")
	setInt64(&cfg.Cache.MaxSizeMB, "STREAMHUB_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.TTL, "STREAMHUB_CACHE_TTL")
	setFloat64(&cfg.Rate.RequestsPerSecond, "STREAMHUB_RATE_RPS")
	setInt(&cfg.Rate.Burst, "STREAMHUB_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "STREAMHUB_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "STREAMHUB_RATE_MAX_IDLE_TIME")
	setString(&cfg.Otel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Stream.MaxConnections < 1 {
		return errors.New("stream.max_connections must be >= 1")
	}
	if cfg.Stream.MaxPerOrigin < 1 {
		return errors.New("stream.max_per_origin must be >= 1")
	}
	if cfg.Stream.QueueCapacity < 1 {
		return errors.New("stream.queue_capacity must be >= 1")
	}
	if cfg.Heartbeat.FailureThreshold < 1 {
		return errors.New("heartbeat.failure_threshold must be >= 1")
	}
	if cfg.Heartbeat.SkipFraction <= 0 || cfg.Heartbeat.SkipFraction > 1 {
		return errors.New("heartbeat.skip_fraction must be in (0, 1]")
	}
	if cfg.Compression.Level < 1 || cfg.Compression.Level > 9 {
		return errors.New("compression.level must be between 1 and 9")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
