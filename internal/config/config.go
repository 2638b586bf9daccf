package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// AgentConfig captures all tunable parameters for the driver agent process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type AgentConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	SocketURL   string
	RESTBaseURL string

	RedisAddr     string
	RedisPassword string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	OSRMEndpoint string

	DriverID    string
	DriverName  string
	DriverToken string

	TelemetryInterval time.Duration
	SnapshotInterval  time.Duration
	AcceptTimeout     time.Duration

	LogLevel      string
	RunMigrations bool
}

func defaultAgentConfig() AgentConfig {
	return AgentConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,

		SocketURL:   "ws://localhost:9000/ws/driver",
		RESTBaseURL: "http://localhost:9000",

		KafkaTopic: "driver-telemetry",

		TelemetryInterval: 3 * time.Second,
		SnapshotInterval:  30 * time.Second,
		AcceptTimeout:     10 * time.Second,

		LogLevel: "info",
	}
}

func LoadAgentConfig() (AgentConfig, error) {
	cfg := defaultAgentConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setStringFromEnv(&cfg.SocketURL, "SOCKET_URL")
	setStringFromEnv(&cfg.RESTBaseURL, "REST_BASE_URL")

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.OSRMEndpoint = strings.TrimSpace(os.Getenv("OSRM_ENDPOINT"))

	setStringFromEnv(&cfg.DriverID, "DRIVER_ID")
	setStringFromEnv(&cfg.DriverName, "DRIVER_NAME")
	cfg.DriverToken = strings.TrimSpace(os.Getenv("DRIVER_TOKEN"))

	setDurationFromEnv(&cfg.TelemetryInterval, "TELEMETRY_INTERVAL", &errs)
	setDurationFromEnv(&cfg.SnapshotInterval, "SNAPSHOT_INTERVAL", &errs)
	setDurationFromEnv(&cfg.AcceptTimeout, "ACCEPT_TIMEOUT", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.DriverID == "" {
		errs = append(errs, fmt.Errorf("DRIVER_ID must be set"))
	}
	if cfg.TelemetryInterval <= 0 {
		errs = append(errs, fmt.Errorf("TELEMETRY_INTERVAL must be > 0"))
	}
	if cfg.AcceptTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ACCEPT_TIMEOUT must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
