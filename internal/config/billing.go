package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// BillingConfig holds tunables that can change without a restart.
type BillingConfig struct {
	DefaultCurrency     string        `mapstructure:"defaultCurrency"`
	DefaultPaymentTerms int           `mapstructure:"defaultPaymentTerms"`
	InvoiceNumberPrefix string        `mapstructure:"invoiceNumberPrefix"`
	PendingPaymentTTL   time.Duration `mapstructure:"pendingPaymentTTL"`
	SchedulerInterval   time.Duration `mapstructure:"schedulerInterval"`
	SchedulerBatchSize  int           `mapstructure:"schedulerBatchSize"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		DefaultCurrency:     "USD",
		DefaultPaymentTerms: 30,
		InvoiceNumberPrefix: "INV",
		PendingPaymentTTL:   15 * time.Minute,
		SchedulerInterval:   time.Minute,
		SchedulerBatchSize:  50,
	}
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

// NewStaticBillingConfigHolder returns a holder that never reloads.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewBillingConfigHolder(log *zap.Logger) (*BillingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/tally")
	v.AddConfigPath(".")

	v.SetEnvPrefix("TALLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.defaultCurrency", defaults.DefaultCurrency)
	v.SetDefault("billing.defaultPaymentTerms", defaults.DefaultPaymentTerms)
	v.SetDefault("billing.invoiceNumberPrefix", defaults.InvoiceNumberPrefix)
	v.SetDefault("billing.pendingPaymentTTL", defaults.PendingPaymentTTL)
	v.SetDefault("billing.schedulerInterval", defaults.SchedulerInterval)
	v.SetDefault("billing.schedulerBatchSize", defaults.SchedulerBatchSize)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	if err := validateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticBillingConfigHolder(cfg)
	if !fileLoaded {
		return holder, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingConfig
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Warn("billing config reload failed", zap.Error(err))
			return
		}
		if err := validateBillingConfig(updated); err != nil {
			log.Warn("invalid billing config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("billing config reloaded", zap.String("file", e.Name))
	})
	v.WatchConfig()

	return holder, nil
}

func (h *BillingConfigHolder) Get() BillingConfig {
	return h.current.Load().(BillingConfig)
}

func validateBillingConfig(cfg BillingConfig) error {
	if len(strings.TrimSpace(cfg.DefaultCurrency)) != 3 {
		return errors.New("billing.defaultCurrency must be an ISO 4217 code")
	}
	if cfg.DefaultPaymentTerms < 0 {
		return errors.New("billing.defaultPaymentTerms cannot be negative")
	}
	if strings.TrimSpace(cfg.InvoiceNumberPrefix) == "" {
		return errors.New("billing.invoiceNumberPrefix cannot be empty")
	}
	if cfg.PendingPaymentTTL <= 0 {
		return errors.New("billing.pendingPaymentTTL must be positive")
	}
	if cfg.SchedulerInterval <= 0 {
		return errors.New("billing.schedulerInterval must be positive")
	}
	return nil
}
