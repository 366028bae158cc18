package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateBillingConfig(t *testing.T) {
	require.NoError(t, validateBillingConfig(DefaultBillingConfig()))

	tests := []struct {
		name   string
		mutate func(*BillingConfig)
	}{
		{"bad currency", func(c *BillingConfig) { c.DefaultCurrency = "US" }},
		{"negative terms", func(c *BillingConfig) { c.DefaultPaymentTerms = -1 }},
		{"empty prefix", func(c *BillingConfig) { c.InvoiceNumberPrefix = " " }},
		{"zero ttl", func(c *BillingConfig) { c.PendingPaymentTTL = 0 }},
		{"zero interval", func(c *BillingConfig) { c.SchedulerInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultBillingConfig()
			tt.mutate(&cfg)
			assert.Error(t, validateBillingConfig(cfg))
		})
	}
}

func TestStaticHolderReturnsStoredConfig(t *testing.T) {
	cfg := DefaultBillingConfig()
	cfg.PendingPaymentTTL = 5 * time.Minute
	holder := NewStaticBillingConfigHolder(cfg)
	assert.Equal(t, 5*time.Minute, holder.Get().PendingPaymentTTL)
}

func TestLoadReadsGatewayTimeout(t *testing.T) {
	t.Setenv("GATEWAY_TIMEOUT", "5s")
	t.Setenv("WALLET_BASE_URL", "https://wallet.example.com/")
	t.Setenv("WALLET_ACCESS_TOKEN", "tok")

	cfg := Load()
	assert.Equal(t, 5*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, "https://wallet.example.com", cfg.Wallet.BaseURL)
	assert.True(t, cfg.Wallet.Enabled())
	assert.False(t, cfg.Stripe.Enabled())
}
