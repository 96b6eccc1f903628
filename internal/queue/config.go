package queue

import "classifier/internal/config"

// Defaults for the in-memory queue.
const (
	defaultWorkers    = 4
	defaultBufferSize = 256
)

// Config holds queue settings.
type Config struct {
	Workers    int // worker goroutines executing attempts
	BufferSize int // buffered tasks before Enqueue rejects
}

// LoadConfigFromEnv loads queue configuration from environment variables.
func LoadConfigFromEnv() Config {
	return Config{
		Workers:    config.GetIntEnv("QUEUE_WORKERS", defaultWorkers),
		BufferSize: config.GetIntEnv("QUEUE_BUFFER_SIZE", defaultBufferSize),
	}
}

// withDefaults fills in zero values.
func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	return c
}
