package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// QuotaDefaults are applied to identities provisioned on first observed usage.
type QuotaDefaults struct {
	DailyLimit        int64   `mapstructure:"dailyLimit"`
	MonthlyLimit      int64   `mapstructure:"monthlyLimit"`
	WarningThreshold  float64 `mapstructure:"warningThreshold"`
	CriticalThreshold float64 `mapstructure:"criticalThreshold"`
}

// ResourcePrice is the cost per 1000 units consumed for a resource.
type ResourcePrice struct {
	ID          string  `mapstructure:"id"`
	InputPer1K  float64 `mapstructure:"inputPer1k"`
	OutputPer1K float64 `mapstructure:"outputPer1k"`
}

type LimitsConfig struct {
	Defaults  QuotaDefaults   `mapstructure:"defaults"`
	Resources []ResourcePrice `mapstructure:"resources"`
}

func DefaultLimitsConfig() LimitsConfig {
	return LimitsConfig{
		Defaults: QuotaDefaults{
			DailyLimit:        350,
			MonthlyLimit:      5000,
			WarningThreshold:  60,
			CriticalThreshold: 85,
		},
	}
}

// Price returns the configured price for a resource; unknown resources are free.
func (c LimitsConfig) Price(resourceID string) (ResourcePrice, bool) {
	resourceID = strings.TrimSpace(resourceID)
	for _, price := range c.Resources {
		if strings.EqualFold(price.ID, resourceID) {
			return price, true
		}
	}
	return ResourcePrice{ID: resourceID}, false
}

// Cost computes the cost of a request against the resource price table.
func (c LimitsConfig) Cost(resourceID string, quantityIn, quantityOut int64) float64 {
	price, ok := c.Price(resourceID)
	if !ok {
		return 0
	}
	return float64(quantityIn)/1000*price.InputPer1K + float64(quantityOut)/1000*price.OutputPer1K
}

type LimitsConfigHolder struct {
	current atomic.Value // holds LimitsConfig
}

// NewStaticLimitsHolder returns a holder that never reloads.
func NewStaticLimitsHolder(cfg LimitsConfig) *LimitsConfigHolder {
	holder := &LimitsConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewLimitsConfigHolder(log *zap.Logger) (*LimitsConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("limits.config")

	v := viper.New()

	v.SetConfigName("limits")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/quotaguard/config")
	v.AddConfigPath("/etc/quotaguard")
	v.AddConfigPath(".")

	v.SetEnvPrefix("QUOTAGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultLimitsConfig()
	v.SetDefault("limits.defaults.dailyLimit", defaults.Defaults.DailyLimit)
	v.SetDefault("limits.defaults.monthlyLimit", defaults.Defaults.MonthlyLimit)
	v.SetDefault("limits.defaults.warningThreshold", defaults.Defaults.WarningThreshold)
	v.SetDefault("limits.defaults.criticalThreshold", defaults.Defaults.CriticalThreshold)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileFound = false
	}

	var cfg LimitsConfig
	if err := v.UnmarshalKey("limits", &cfg); err != nil {
		return nil, err
	}
	if err := ValidateLimitsConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticLimitsHolder(cfg)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated LimitsConfig
		if err := v.UnmarshalKey("limits", &updated); err != nil {
			log.Warn("limits reload failed", zap.Error(err))
			return
		}
		if err := ValidateLimitsConfig(updated); err != nil {
			log.Warn("invalid limits config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("limits config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *LimitsConfigHolder) Get() LimitsConfig {
	if h == nil {
		return DefaultLimitsConfig()
	}
	return h.current.Load().(LimitsConfig)
}

func ValidateLimitsConfig(cfg LimitsConfig) error {
	d := cfg.Defaults
	if d.DailyLimit < 0 || d.MonthlyLimit < 0 {
		return errors.New("limits.defaults limits cannot be negative")
	}
	if d.WarningThreshold <= 0 || d.CriticalThreshold <= 0 || d.CriticalThreshold > 100 {
		return fmt.Errorf("limits.defaults thresholds out of range: warning=%v critical=%v", d.WarningThreshold, d.CriticalThreshold)
	}
	if d.WarningThreshold > d.CriticalThreshold {
		return errors.New("limits.defaults.warningThreshold must not exceed criticalThreshold")
	}
	for _, price := range cfg.Resources {
		if strings.TrimSpace(price.ID) == "" {
			return errors.New("limits.resources entries require an id")
		}
		if price.InputPer1K < 0 || price.OutputPer1K < 0 {
			return fmt.Errorf("limits.resources %s has a negative price", price.ID)
		}
	}
	return nil
}
