package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLimitsConfigIsValid(t *testing.T) {
	cfg := DefaultLimitsConfig()
	require.NoError(t, ValidateLimitsConfig(cfg))
	assert.Equal(t, int64(350), cfg.Defaults.DailyLimit)
	assert.Equal(t, int64(5000), cfg.Defaults.MonthlyLimit)
	assert.Equal(t, 85.0, cfg.Defaults.CriticalThreshold)
}

func TestValidateLimitsConfigRejectsInvertedThresholds(t *testing.T) {
	cfg := DefaultLimitsConfig()
	cfg.Defaults.WarningThreshold = 90
	cfg.Defaults.CriticalThreshold = 80
	assert.Error(t, ValidateLimitsConfig(cfg))

	cfg = DefaultLimitsConfig()
	cfg.Defaults.CriticalThreshold = 120
	assert.Error(t, ValidateLimitsConfig(cfg))
}

func TestCostUsesResourcePriceTable(t *testing.T) {
	cfg := DefaultLimitsConfig()
	cfg.Resources = []ResourcePrice{{ID: "model-a", InputPer1K: 0.003, OutputPer1K: 0.015}}

	assert.InDelta(t, 0.003*2+0.015*0.5, cfg.Cost("MODEL-A", 2000, 500), 1e-9)
	assert.Zero(t, cfg.Cost("unknown", 2000, 500))
}

func TestStaticHolderReturnsStoredConfig(t *testing.T) {
	cfg := DefaultLimitsConfig()
	cfg.Defaults.DailyLimit = 10
	holder := NewStaticLimitsHolder(cfg)
	assert.Equal(t, int64(10), holder.Get().Defaults.DailyLimit)

	var nilHolder *LimitsConfigHolder
	assert.Equal(t, int64(350), nilHolder.Get().Defaults.DailyLimit)
}

func TestResetClockParsesHourMinute(t *testing.T) {
	cfg := Config{Metering: MeteringConfig{ResetAt: "01:30"}}
	hour, minute, err := cfg.ResetClock()
	require.NoError(t, err)
	assert.Equal(t, 1, hour)
	assert.Equal(t, 30, minute)

	cfg.Metering.ResetAt = "25:99"
	_, _, err = cfg.ResetClock()
	assert.Error(t, err)
}
