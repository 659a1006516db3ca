// Package config defines notificaties-core's single configuration
// struct, bound through spf13/cobra persistent flags so every setting
// has a matching --flag and is self-documenting via --help.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Config is built once in cmd/ and threaded explicitly into the store,
// scheduler and worker constructors — there is no package-level
// singleton.
type Config struct {
	DatabaseURL string

	MaxRetries         int
	RetryBackoffBase   int
	RetryBackoffFactor int
	RetryBackoffMax    int
	JitterEnabled      bool

	RetentionDays int
	AuditEnabled  bool

	RequestConnectTimeout time.Duration
	RequestReadTimeout    time.Duration
	ExtraCABundle         []string

	SchedulerTick      time.Duration
	SchedulerBatchSize int
	SchedulerLease     time.Duration

	TestCallbackAuth bool

	ListenAddr      string
	RunWorkerInline bool
	LogLevel        string
}

// LoadDotEnv loads a local .env file, if present, before flags are
// parsed, for local development. Missing files are silently ignored.
func LoadDotEnv() {
	_ = godotenv.Load()
}

// envString, envInt, envBool, envDuration and envStringSlice resolve a
// flag's default from its env-var pair (e.g. MAX_RETRIES for
// --max-retries) before registration, so an unset flag still honors
// the environment; an explicitly passed flag always wins over both,
// since pflag only applies its default when the flag is never set.
func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envStringSlice(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		if v == "" {
			return nil
		}
		return strings.Split(v, ",")
	}
	return def
}

// BindFlags registers every Config field as a persistent flag on cmd.
// Each flag's default is resolved from its env-var pair (LoadDotEnv
// having already populated the environment from a local .env file, if
// any), falling back to the hardcoded default below when the env var
// is unset or unparseable. Call FromFlags after cmd.Execute()
// parses arguments to materialize the struct.
func BindFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.String("database-url", envString("DATABASE_URL", "postgres://localhost:5432/notificaties?sslmode=disable"), "PostgreSQL connection string (env DATABASE_URL)")

	f.Int("max-retries", envInt("MAX_RETRIES", 5), "maximum delivery retries before a ScheduledWork is discarded (env MAX_RETRIES)")
	f.Int("retry-backoff-base", envInt("RETRY_BACKOFF_BASE", 2), "exponential backoff base (env RETRY_BACKOFF_BASE)")
	f.Int("retry-backoff-factor", envInt("RETRY_BACKOFF_FACTOR", 3), "exponential backoff factor, in seconds (env RETRY_BACKOFF_FACTOR)")
	f.Int("retry-backoff-max", envInt("RETRY_BACKOFF_MAX", 48), "exponential backoff ceiling, in seconds (env RETRY_BACKOFF_MAX)")
	f.Bool("jitter-enabled", envBool("JITTER_ENABLED", false), "multiply backoff by a uniform [0.5,1.0) jitter (env JITTER_ENABLED)")

	f.Int("retention-days", envInt("RETENTION_DAYS", 30), "days to retain notification/cloudevent audit rows (env RETENTION_DAYS)")
	f.Bool("audit-enabled", envBool("AUDIT_ENABLED", true), "persist NotificationRecord/CloudEventRecord audit rows (env AUDIT_ENABLED)")

	f.Duration("request-connect-timeout", envDuration("REQUEST_CONNECT_TIMEOUT", 10*time.Second), "outbound delivery connect timeout (env REQUEST_CONNECT_TIMEOUT)")
	f.Duration("request-read-timeout", envDuration("REQUEST_READ_TIMEOUT", 30*time.Second), "outbound delivery read timeout (env REQUEST_READ_TIMEOUT)")
	f.StringSlice("extra-ca-bundle", envStringSlice("EXTRA_CA_BUNDLE", nil), "paths to additional trusted root CA bundles (env EXTRA_CA_BUNDLE, comma-separated)")

	f.Duration("scheduler-tick", envDuration("SCHEDULER_TICK", 1*time.Second), "scheduler poll interval (env SCHEDULER_TICK)")
	f.Int("scheduler-batch-size", envInt("SCHEDULER_BATCH_SIZE", 100), "max ScheduledWork rows claimed per tick (env SCHEDULER_BATCH_SIZE)")
	f.Duration("scheduler-lease", envDuration("SCHEDULER_LEASE", 5*time.Minute), "how long a claimed row is hidden from other scheduler processes (env SCHEDULER_LEASE)")

	f.Bool("test-callback-auth", envBool("TEST_CALLBACK_AUTH", false), "require callback URLs to reject unauthenticated requests at subscribe time (env TEST_CALLBACK_AUTH)")

	f.String("listen-addr", envString("LISTEN_ADDR", ":8080"), "address the publisher-facing HTTP surface listens on (env LISTEN_ADDR)")
	f.Bool("run-worker-inline", envBool("RUN_WORKER_INLINE", false), "run the scheduler/worker loops inside the serve process (env RUN_WORKER_INLINE)")
	f.String("log-level", envString("LOG_LEVEL", "info"), "log level: debug, info, warn, error (env LOG_LEVEL)")
}

// FromFlags materializes a Config from cmd's parsed flags. Flags win
// over any .env-sourced environment variables, since cobra/pflag reads
// its defaults at registration time and LoadDotEnv runs first.
func FromFlags(cmd *cobra.Command) (Config, error) {
	f := cmd.Flags()
	var c Config
	var err error

	if c.DatabaseURL, err = f.GetString("database-url"); err != nil {
		return c, err
	}
	if c.MaxRetries, err = f.GetInt("max-retries"); err != nil {
		return c, err
	}
	if c.RetryBackoffBase, err = f.GetInt("retry-backoff-base"); err != nil {
		return c, err
	}
	if c.RetryBackoffFactor, err = f.GetInt("retry-backoff-factor"); err != nil {
		return c, err
	}
	if c.RetryBackoffMax, err = f.GetInt("retry-backoff-max"); err != nil {
		return c, err
	}
	if c.JitterEnabled, err = f.GetBool("jitter-enabled"); err != nil {
		return c, err
	}
	if c.RetentionDays, err = f.GetInt("retention-days"); err != nil {
		return c, err
	}
	if c.AuditEnabled, err = f.GetBool("audit-enabled"); err != nil {
		return c, err
	}
	if c.RequestConnectTimeout, err = f.GetDuration("request-connect-timeout"); err != nil {
		return c, err
	}
	if c.RequestReadTimeout, err = f.GetDuration("request-read-timeout"); err != nil {
		return c, err
	}
	if c.ExtraCABundle, err = f.GetStringSlice("extra-ca-bundle"); err != nil {
		return c, err
	}
	if c.SchedulerTick, err = f.GetDuration("scheduler-tick"); err != nil {
		return c, err
	}
	if c.SchedulerBatchSize, err = f.GetInt("scheduler-batch-size"); err != nil {
		return c, err
	}
	if c.SchedulerLease, err = f.GetDuration("scheduler-lease"); err != nil {
		return c, err
	}
	if c.TestCallbackAuth, err = f.GetBool("test-callback-auth"); err != nil {
		return c, err
	}
	if c.ListenAddr, err = f.GetString("listen-addr"); err != nil {
		return c, err
	}
	if c.RunWorkerInline, err = f.GetBool("run-worker-inline"); err != nil {
		return c, err
	}
	if c.LogLevel, err = f.GetString("log-level"); err != nil {
		return c, err
	}
	return c, nil
}
