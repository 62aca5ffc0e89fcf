package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPricingCostFor(t *testing.T) {
	cfg := DefaultPricingConfig()

	assert.Equal(t, int64(10), cfg.CostFor("document-generation"))
	assert.Equal(t, int64(10), cfg.CostFor("  document-generation  "))
	assert.Equal(t, int64(0), cfg.CostFor("nonexistent"))
}

func TestValidatePricingConfig(t *testing.T) {
	assert.NoError(t, validatePricingConfig(DefaultPricingConfig()))

	assert.Error(t, validatePricingConfig(PricingConfig{DefaultGrant: 0}))
	assert.Error(t, validatePricingConfig(PricingConfig{
		DefaultGrant: 50,
		FeatureCosts: []FeatureCost{{Feature: "", Cost: 10}},
	}))
	assert.Error(t, validatePricingConfig(PricingConfig{
		DefaultGrant: 50,
		FeatureCosts: []FeatureCost{{Feature: "document-generation", Cost: 0}},
	}))
}

func TestStaticPricingConfigHolder(t *testing.T) {
	holder := StaticPricingConfigHolder(PricingConfig{DefaultGrant: 25})
	assert.Equal(t, int64(25), holder.Get().DefaultGrant)
}
