// Package config loads process configuration from the environment, with
// an optional .env file (github.com/joho/godotenv) layered underneath
// for local development. Every cmd/* binary calls Load once at startup;
// flags declared on the urfave/cli/v2 apps carry the same EnvVars so a
// flag can override the environment at invocation time.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every environment-driven setting named in spec §6 plus
// the ambient connection/interval settings the hub processes share.
type Config struct {
	AppTimezone string // APP_TIMEZONE

	Database string // HUB_DATABASE (sqlite://path or postgres://dsn)
	RedisAddr string // HUB_REDIS_ADDR

	Host string
	Port int

	SchedulerInterval  time.Duration // SCHEDULER_INTERVAL_SECONDS
	SLAMonitorInterval time.Duration // SLA_MONITOR_INTERVAL_SECONDS
	CleanupInterval    time.Duration // CLEANUP_INTERVAL_SECONDS

	QueueBacklogAlertThreshold int           // QUEUE_BACKLOG_ALERT_THRESHOLD
	WorkerStaleAfter           time.Duration // WORKER_STALE_SECONDS
	FailureStreakThreshold     int           // FAILURE_STREAK_THRESHOLD

	HeartbeatInterval time.Duration // WORKER_HEARTBEAT_SECONDS
	ClaimPollInterval time.Duration // WORKER_POLL_SECONDS
	CancelGrace       time.Duration // CANCEL_GRACE_SECONDS

	RunRetention      time.Duration // RUN_RETENTION_DAYS
	LogRetention      time.Duration // LOG_RETENTION_DAYS
	ArtifactRetention time.Duration // ARTIFACT_RETENTION_DAYS

	DeployToken   string // DEPLOY_TOKEN
	EncryptionKey string // ENCRYPTION_KEY

	CORSOrigins []string // HUB_CORS_ORIGINS (comma-separated)

	S3Endpoint        string // HUB_S3_ENDPOINT, empty disables S3 (falls back to an in-memory artifact store)
	S3Bucket          string // HUB_S3_BUCKET
	S3AccessKeyID     string // HUB_S3_ACCESS_KEY_ID
	S3SecretAccessKey string // HUB_S3_SECRET_ACCESS_KEY
	S3UseSSL          bool   // HUB_S3_USE_SSL

	WorkerHostname    string // WORKER_HOSTNAME, defaults to os.Hostname()
	WorkerBackendType string // WORKER_BACKEND (local|docker|kubernetes), default local
	WorkerScratchRoot string // WORKER_SCRATCH_ROOT

	SendGridAPIKey    string // SENDGRID_API_KEY, empty disables alert email delivery
	SendGridFromEmail string // SENDGRID_FROM_EMAIL
	SendGridFromName  string // SENDGRID_FROM_NAME
}

// Load reads .env (if present — a missing file is not an error) then
// populates Config from the process environment, applying the defaults
// spec §4.1/§4.3/§9 name where a variable is unset.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: loading .env: %w", err)
	}

	c := &Config{
		AppTimezone: envOr("APP_TIMEZONE", "UTC"),
		Database:    envOr("HUB_DATABASE", "sqlite://./data/hub.db"),
		RedisAddr:   envOr("HUB_REDIS_ADDR", ""),
		Host:        envOr("HUB_HOST", "0.0.0.0"),

		DeployToken:   os.Getenv("DEPLOY_TOKEN"),
		EncryptionKey: os.Getenv("ENCRYPTION_KEY"),

		CORSOrigins: envListOr("HUB_CORS_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),

		S3Endpoint:        os.Getenv("HUB_S3_ENDPOINT"),
		S3Bucket:          os.Getenv("HUB_S3_BUCKET"),
		S3AccessKeyID:     os.Getenv("HUB_S3_ACCESS_KEY_ID"),
		S3SecretAccessKey: os.Getenv("HUB_S3_SECRET_ACCESS_KEY"),

		WorkerHostname:    os.Getenv("WORKER_HOSTNAME"),
		WorkerBackendType: envOr("WORKER_BACKEND", "local"),
		WorkerScratchRoot: envOr("WORKER_SCRATCH_ROOT", os.TempDir()),

		SendGridAPIKey:    os.Getenv("SENDGRID_API_KEY"),
		SendGridFromEmail: envOr("SENDGRID_FROM_EMAIL", "alerts@automationhub.local"),
		SendGridFromName:  envOr("SENDGRID_FROM_NAME", "AutomationHub Alerts"),
	}

	var err error
	if c.S3UseSSL, err = envBoolOr("HUB_S3_USE_SSL", true); err != nil {
		return nil, err
	}
	if c.Port, err = envIntOr("HUB_PORT", 8080); err != nil {
		return nil, err
	}
	if c.SchedulerInterval, err = envSecondsOr("SCHEDULER_INTERVAL_SECONDS", 30); err != nil {
		return nil, err
	}
	if c.SLAMonitorInterval, err = envSecondsOr("SLA_MONITOR_INTERVAL_SECONDS", 60); err != nil {
		return nil, err
	}
	if c.CleanupInterval, err = envSecondsOr("CLEANUP_INTERVAL_SECONDS", 3600); err != nil {
		return nil, err
	}
	if c.QueueBacklogAlertThreshold, err = envIntOr("QUEUE_BACKLOG_ALERT_THRESHOLD", 100); err != nil {
		return nil, err
	}
	if c.WorkerStaleAfter, err = envSecondsOr("WORKER_STALE_SECONDS", 180); err != nil {
		return nil, err
	}
	if c.FailureStreakThreshold, err = envIntOr("FAILURE_STREAK_THRESHOLD", 3); err != nil {
		return nil, err
	}
	if c.HeartbeatInterval, err = envSecondsOr("WORKER_HEARTBEAT_SECONDS", 15); err != nil {
		return nil, err
	}
	if c.ClaimPollInterval, err = envSecondsOr("WORKER_POLL_SECONDS", 2); err != nil {
		return nil, err
	}
	if c.CancelGrace, err = envSecondsOr("CANCEL_GRACE_SECONDS", 30); err != nil {
		return nil, err
	}
	if c.RunRetention, err = envDaysOr("RUN_RETENTION_DAYS", 90); err != nil {
		return nil, err
	}
	if c.LogRetention, err = envDaysOr("LOG_RETENTION_DAYS", 30); err != nil {
		return nil, err
	}
	if c.ArtifactRetention, err = envDaysOr("ARTIFACT_RETENTION_DAYS", 30); err != nil {
		return nil, err
	}

	return c, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envListOr(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envBoolOr(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s: %w", key, err)
	}
	return b, nil
}

func envIntOr(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func envSecondsOr(key string, fallbackSeconds int) (time.Duration, error) {
	n, err := envIntOr(key, fallbackSeconds)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func envDaysOr(key string, fallbackDays int) (time.Duration, error) {
	n, err := envIntOr(key, fallbackDays)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * 24 * time.Hour, nil
}
