// Package config provides configuration loading from environment variables.
package config

import (
	"time"
)

// ServiceConfig holds configuration for the classifier service.
type ServiceConfig struct {
	Port              string
	MetricsPort       string
	APIKey            string
	AllowedOrigins    []string      // CORS origins for the browser frontend
	ShutdownDrainWait time.Duration // Time to wait for load balancer to drain (0 to skip)

	StoreBackend string // "redis" or "memory"
	RedisAddr    string
	RedisDB      int

	JobTTL             time.Duration // lifetime of each job field after its last write
	StreamPollInterval time.Duration // streamer store poll cadence

	ModelURL       string        // inference endpoint
	ModelTimeout   time.Duration // per-call HTTP timeout toward the model server
	JobHardTimeout time.Duration // authoritative per-attempt cap
	JobSoftTimeout time.Duration // classifier call budget within the cap
}

// LoadServiceConfig loads service configuration from environment variables.
func LoadServiceConfig() *ServiceConfig {
	// A mounted secret file wins over the plain environment variable.
	apiKey := GetSecretFile(GetEnv("API_KEY_FILE", ""))
	if apiKey == "" {
		apiKey = GetEnv("API_KEY", "")
	}

	return &ServiceConfig{
		Port:              GetEnv("PORT", "8080"),
		MetricsPort:       GetEnv("METRICS_PORT", "9090"),
		APIKey:            apiKey,
		AllowedOrigins:    GetListEnv("ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),
		ShutdownDrainWait: GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),

		StoreBackend: GetEnv("STORE_BACKEND", "redis"),
		RedisAddr:    GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:      GetIntEnv("REDIS_DB", 0),

		JobTTL:             GetDurationEnv("JOB_TTL", time.Hour),
		StreamPollInterval: GetDurationEnv("STREAM_POLL_INTERVAL", 100*time.Millisecond),

		ModelURL:       GetEnv("MODEL_URL", "http://localhost:8501/v1/classify"),
		ModelTimeout:   GetDurationEnv("MODEL_TIMEOUT", 30*time.Second),
		JobHardTimeout: GetDurationEnv("JOB_HARD_TIMEOUT", 5*time.Minute),
		JobSoftTimeout: GetDurationEnv("JOB_SOFT_TIMEOUT", 4*time.Minute),
	}
}
