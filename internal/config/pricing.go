package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// FeatureCost is the default token cost charged for one invocation
// of a named feature when the caller does not pass an explicit amount.
type FeatureCost struct {
	Feature string `mapstructure:"feature"`
	Cost    int64  `mapstructure:"cost"`
}

// PricingConfig drives the default grant and per-feature token costs.
type PricingConfig struct {
	DefaultGrant int64         `mapstructure:"defaultGrant"`
	FeatureCosts []FeatureCost `mapstructure:"featureCosts"`
}

func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		DefaultGrant: 50,
		FeatureCosts: []FeatureCost{
			{Feature: "document-generation", Cost: 10},
			{Feature: "marketing-content", Cost: 5},
			{Feature: "business-plan", Cost: 15},
			{Feature: "compliance-check", Cost: 5},
		},
	}
}

// CostFor returns the configured cost for a feature, or 0 if unknown.
func (c PricingConfig) CostFor(feature string) int64 {
	feature = strings.TrimSpace(feature)
	for _, fc := range c.FeatureCosts {
		if fc.Feature == feature {
			return fc.Cost
		}
	}
	return 0
}

type PricingConfigHolder struct {
	current atomic.Value // holds PricingConfig
}

func NewPricingConfigHolder() (*PricingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/tokenledger/config") // Volume-mounted config
	v.AddConfigPath("/etc/tokenledger")            // System config
	v.AddConfigPath(".")                           // Current directory (dev mode)

	v.SetEnvPrefix("TOKENLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// if config file not found, use defaults
		defaults := DefaultPricingConfig()
		v.SetDefault("pricing.defaultGrant", defaults.DefaultGrant)
		v.SetDefault("pricing.featureCosts", defaults.FeatureCosts)
	}

	var cfg PricingConfig
	if err := v.UnmarshalKey("pricing", &cfg); err != nil {
		return nil, err
	}
	if err := validatePricingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &PricingConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PricingConfig
		if err := v.UnmarshalKey("pricing", &updated); err != nil {
			log.Printf("[pricing-config] reload failed: %v", err)
			return
		}
		if err := validatePricingConfig(updated); err != nil {
			log.Printf("[pricing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[pricing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// StaticPricingConfigHolder returns a holder pinned to cfg, with no file
// watching. Used by tests and embedded callers.
func StaticPricingConfigHolder(cfg PricingConfig) *PricingConfigHolder {
	holder := &PricingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *PricingConfigHolder) Get() PricingConfig {
	return h.current.Load().(PricingConfig)
}

func validatePricingConfig(cfg PricingConfig) error {
	if cfg.DefaultGrant <= 0 {
		return errors.New("pricing.defaultGrant must be positive")
	}
	for _, fc := range cfg.FeatureCosts {
		if strings.TrimSpace(fc.Feature) == "" {
			return errors.New("pricing.featureCosts entries need a feature name")
		}
		if fc.Cost <= 0 {
			return errors.New("pricing.featureCosts costs must be positive")
		}
	}
	return nil
}
