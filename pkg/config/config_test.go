package config

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
)

func newTestCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	BindFlags(cmd)
	return cmd
}

func TestFromFlagsDefaults(t *testing.T) {
	cmd := newTestCommand()
	if err := cmd.ParseFlags(nil); err != nil {
		t.Fatalf("ParseFlags returned error: %v", err)
	}

	c, err := FromFlags(cmd)
	if err != nil {
		t.Fatalf("FromFlags returned error: %v", err)
	}

	if c.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", c.MaxRetries)
	}
	if c.RetryBackoffBase != 2 || c.RetryBackoffFactor != 3 || c.RetryBackoffMax != 48 {
		t.Errorf("backoff defaults = %d/%d/%d, want 2/3/48", c.RetryBackoffBase, c.RetryBackoffFactor, c.RetryBackoffMax)
	}
	if c.JitterEnabled {
		t.Error("JitterEnabled should default to false")
	}
	if c.RetentionDays != 30 {
		t.Errorf("RetentionDays = %d, want 30", c.RetentionDays)
	}
	if !c.AuditEnabled {
		t.Error("AuditEnabled should default to true")
	}
	if c.SchedulerTick != 1*time.Second {
		t.Errorf("SchedulerTick = %v, want 1s", c.SchedulerTick)
	}
	if c.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want %q", c.ListenAddr, ":8080")
	}
	if c.RunWorkerInline {
		t.Error("RunWorkerInline should default to false")
	}
	if c.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", c.LogLevel, "info")
	}
}

func TestFromFlagsOverrides(t *testing.T) {
	cmd := newTestCommand()
	args := []string{
		"--database-url=postgres://db/override",
		"--max-retries=9",
		"--jitter-enabled=true",
		"--extra-ca-bundle=/etc/ca1.pem,/etc/ca2.pem",
		"--run-worker-inline=true",
		"--log-level=debug",
	}
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags returned error: %v", err)
	}

	c, err := FromFlags(cmd)
	if err != nil {
		t.Fatalf("FromFlags returned error: %v", err)
	}

	if c.DatabaseURL != "postgres://db/override" {
		t.Errorf("DatabaseURL = %q", c.DatabaseURL)
	}
	if c.MaxRetries != 9 {
		t.Errorf("MaxRetries = %d, want 9", c.MaxRetries)
	}
	if !c.JitterEnabled {
		t.Error("JitterEnabled should be true")
	}
	if len(c.ExtraCABundle) != 2 || c.ExtraCABundle[0] != "/etc/ca1.pem" || c.ExtraCABundle[1] != "/etc/ca2.pem" {
		t.Errorf("ExtraCABundle = %v", c.ExtraCABundle)
	}
	if !c.RunWorkerInline {
		t.Error("RunWorkerInline should be true")
	}
	if c.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", c.LogLevel)
	}
}

func TestLoadDotEnvMissingFileIsNotAnError(t *testing.T) {
	// No .env file is present in the test working directory; LoadDotEnv
	// must not panic or otherwise surface that as a fatal condition.
	LoadDotEnv()
}

func TestBindFlagsFallsBackToEnvVar(t *testing.T) {
	t.Setenv("MAX_RETRIES", "7")
	t.Setenv("JITTER_ENABLED", "true")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("EXTRA_CA_BUNDLE", "/a.pem,/b.pem")

	cmd := newTestCommand()
	if err := cmd.ParseFlags(nil); err != nil {
		t.Fatalf("ParseFlags returned error: %v", err)
	}

	c, err := FromFlags(cmd)
	if err != nil {
		t.Fatalf("FromFlags returned error: %v", err)
	}

	if c.MaxRetries != 7 {
		t.Errorf("MaxRetries = %d, want 7 from MAX_RETRIES", c.MaxRetries)
	}
	if !c.JitterEnabled {
		t.Error("JitterEnabled should be true from JITTER_ENABLED")
	}
	if c.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want %q from LOG_LEVEL", c.LogLevel, "warn")
	}
	if len(c.ExtraCABundle) != 2 || c.ExtraCABundle[0] != "/a.pem" || c.ExtraCABundle[1] != "/b.pem" {
		t.Errorf("ExtraCABundle = %v, want [/a.pem /b.pem] from EXTRA_CA_BUNDLE", c.ExtraCABundle)
	}
}

func TestExplicitFlagWinsOverEnvVar(t *testing.T) {
	t.Setenv("MAX_RETRIES", "7")
	t.Setenv("LOG_LEVEL", "warn")

	cmd := newTestCommand()
	args := []string{"--max-retries=2", "--log-level=debug"}
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags returned error: %v", err)
	}

	c, err := FromFlags(cmd)
	if err != nil {
		t.Fatalf("FromFlags returned error: %v", err)
	}

	if c.MaxRetries != 2 {
		t.Errorf("MaxRetries = %d, want the explicit flag value 2, not the env var", c.MaxRetries)
	}
	if c.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want the explicit flag value %q, not the env var", c.LogLevel, "debug")
	}
}

func TestEnvIntIgnoresUnparseableValue(t *testing.T) {
	t.Setenv("MAX_RETRIES", "not-a-number")

	cmd := newTestCommand()
	if err := cmd.ParseFlags(nil); err != nil {
		t.Fatalf("ParseFlags returned error: %v", err)
	}

	c, err := FromFlags(cmd)
	if err != nil {
		t.Fatalf("FromFlags returned error: %v", err)
	}
	if c.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want the hardcoded default 5 when the env var is unparseable", c.MaxRetries)
	}
}
