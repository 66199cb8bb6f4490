package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// RateTable maps a resource type to its cost per minute.
type RateTable map[string]int64

// Rate resolves the cost per minute for a resource type, falling back to the
// "cpu" rate, then to 1 when no rate is configured.
func (t RateTable) Rate(resourceType string) int64 {
	if rate, ok := t[resourceType]; ok {
		return rate
	}
	if rate, ok := t["cpu"]; ok {
		return rate
	}
	return 1
}

// QuotaConfig is the quota policy consumed by the gate, session tracker and
// reclaimer. It is re-read from the holder on every operation so policy
// changes apply without restarting sessions.
type QuotaConfig struct {
	Rates               RateTable `mapstructure:"rates"`
	DefaultGrant        int64     `mapstructure:"defaultGrant"`
	StaleSessionMinutes int       `mapstructure:"staleSessionMinutes"`
	ReclaimInterval     int       `mapstructure:"reclaimIntervalMinutes"`
	HistoryLimit        int       `mapstructure:"historyLimit"`
}

func DefaultQuotaConfig() QuotaConfig {
	return QuotaConfig{
		Rates:               RateTable{},
		DefaultGrant:        0,
		StaleSessionMinutes: 480,
		ReclaimInterval:     60,
		HistoryLimit:        50,
	}
}

func (c QuotaConfig) ReclaimEvery() time.Duration {
	return time.Duration(c.ReclaimInterval) * time.Minute
}

// QuotaConfigHolder serves point-in-time snapshots of the quota policy and
// hot-reloads them when the backing file changes.
type QuotaConfigHolder struct {
	current atomic.Value // holds QuotaConfig
}

func NewQuotaConfigHolder() (*QuotaConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("quota")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/quotameter/config") // Volume-mounted config
	v.AddConfigPath("/etc/quotameter")            // System config
	v.AddConfigPath(".")                          // Current directory (dev mode)

	v.SetEnvPrefix("QUOTAMETER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultQuotaConfig()
	v.SetDefault("quota.rates", defaults.Rates)
	v.SetDefault("quota.defaultGrant", defaults.DefaultGrant)
	v.SetDefault("quota.staleSessionMinutes", defaults.StaleSessionMinutes)
	v.SetDefault("quota.reclaimIntervalMinutes", defaults.ReclaimInterval)
	v.SetDefault("quota.historyLimit", defaults.HistoryLimit)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg QuotaConfig
	if err := v.UnmarshalKey("quota", &cfg); err != nil {
		return nil, err
	}
	if err := validateQuotaConfig(cfg); err != nil {
		return nil, err
	}

	holder := &QuotaConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated QuotaConfig
		if err := v.UnmarshalKey("quota", &updated); err != nil {
			log.Printf("[quota-config] reload failed: %v", err)
			return
		}
		if err := validateQuotaConfig(updated); err != nil {
			log.Printf("[quota-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[quota-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticQuotaHolder builds a holder around a fixed policy, for tests and
// embedded use.
func NewStaticQuotaHolder(cfg QuotaConfig) *QuotaConfigHolder {
	holder := &QuotaConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *QuotaConfigHolder) Get() QuotaConfig {
	return h.current.Load().(QuotaConfig)
}

func validateQuotaConfig(cfg QuotaConfig) error {
	if cfg.StaleSessionMinutes <= 0 {
		return errors.New("quota.staleSessionMinutes must be positive")
	}
	if cfg.DefaultGrant < 0 {
		return errors.New("quota.defaultGrant cannot be negative")
	}
	for resource, rate := range cfg.Rates {
		if rate < 0 {
			return errors.New("quota.rates." + resource + " cannot be negative")
		}
	}
	return nil
}
