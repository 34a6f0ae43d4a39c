package conveyor

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// DefaultMaxAttempts is the default inclusive ceiling on started
// processing attempts per job.
const DefaultMaxAttempts = 3

// Config holds configuration for the engine and its worker pool.
type Config struct {
	// MaxAttempts is the inclusive ceiling on started processing attempts
	// per job. The Nth attempt is the last permitted.
	MaxAttempts int `env:"CONVEYOR_MAX_ATTEMPTS" envDefault:"3"`

	// Workers is the number of concurrent worker loops.
	Workers int `env:"CONVEYOR_WORKERS" envDefault:"4"`

	// DequeueTimeout bounds each blocking dequeue. A worker that sees no
	// entry within this window re-checks the stop signal and polls again.
	DequeueTimeout time.Duration `env:"CONVEYOR_DEQUEUE_TIMEOUT" envDefault:"5s"`

	// JobTimeout is the per-job execution deadline enforced by the timeout
	// middleware. Zero means unlimited.
	JobTimeout time.Duration `env:"CONVEYOR_JOB_TIMEOUT" envDefault:"0"`

	// ShutdownTimeout is the maximum time to wait for in-flight jobs to
	// drain during graceful shutdown.
	ShutdownTimeout time.Duration `env:"CONVEYOR_SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// QueueCapacity is the buffer size of the in-memory queue. Ignored by
	// external queue backends.
	QueueCapacity int `env:"CONVEYOR_QUEUE_CAPACITY" envDefault:"4096"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     DefaultMaxAttempts,
		Workers:         4,
		DequeueTimeout:  5 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		QueueCapacity:   4096,
	}
}

// FromEnv loads a Config from CONVEYOR_* environment variables, falling
// back to the defaults for unset variables.
func FromEnv() (Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
