package scheduler

import (
	"time"

	"github.com/smallbiznis/quotaguard/internal/config"
)

// Config controls when the reset sweep runs and how much it does per batch.
type Config struct {
	ResetHour      int
	ResetMinute    int
	Location       *time.Location
	BatchSize      int
	RunTimeout     time.Duration
	LockTTL        time.Duration
	UsageRetention time.Duration
	AuditRetention time.Duration
}

func DefaultConfig() Config {
	return Config{
		Location:       time.UTC,
		BatchSize:      100,
		RunTimeout:     10 * time.Minute,
		LockTTL:        15 * time.Minute,
		UsageRetention: 400 * 24 * time.Hour,
		AuditRetention: 1095 * 24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Location == nil {
		c.Location = defaults.Location
	}
	if c.ResetHour < 0 || c.ResetHour > 23 {
		c.ResetHour = 0
	}
	if c.ResetMinute < 0 || c.ResetMinute > 59 {
		c.ResetMinute = 0
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = defaults.RunTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	// Negative retention disables the purge; zero keeps the default.
	if c.UsageRetention == 0 {
		c.UsageRetention = defaults.UsageRetention
	}
	if c.AuditRetention == 0 {
		c.AuditRetention = defaults.AuditRetention
	}
	return c
}

func ProvideConfig(cfg config.Config) (Config, error) {
	hour, minute, err := cfg.ResetClock()
	if err != nil {
		return Config{}, err
	}
	out := Config{
		ResetHour:      hour,
		ResetMinute:    minute,
		Location:       cfg.Location(),
		BatchSize:      cfg.Scheduler.BatchSize,
		RunTimeout:     cfg.Timeouts.ResetRun,
		LockTTL:        cfg.Scheduler.LockTTL,
		UsageRetention: retentionDays(cfg.Metering.UsageRetentionDays),
		AuditRetention: retentionDays(cfg.Metering.AuditRetentionDays),
	}
	return out.withDefaults(), nil
}

func retentionDays(days int) time.Duration {
	if days < 0 {
		return -1
	}
	return time.Duration(days) * 24 * time.Hour
}
