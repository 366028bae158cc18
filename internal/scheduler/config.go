package scheduler

import (
	"time"

	"github.com/smallbiznis/tally/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval       time.Duration
	BatchSize         int
	PendingPaymentTTL time.Duration
	JobTimeout        time.Duration
	// EnabledJobs limits which jobs run. Empty runs all of them.
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:       time.Minute,
		BatchSize:         50,
		PendingPaymentTTL: 15 * time.Minute,
		JobTimeout:        30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.PendingPaymentTTL <= 0 {
		c.PendingPaymentTTL = defaults.PendingPaymentTTL
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}

// ProvideConfig reads the scheduler knobs from the hot-reloadable billing config.
func ProvideConfig(holder *config.BillingConfigHolder) Config {
	billing := holder.Get()
	return Config{
		RunInterval:       billing.SchedulerInterval,
		BatchSize:         billing.SchedulerBatchSize,
		PendingPaymentTTL: billing.PendingPaymentTTL,
	}.withDefaults()
}
