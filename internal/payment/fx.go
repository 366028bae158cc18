package payment

import (
	"github.com/smallbiznis/tally/internal/config"
	"github.com/smallbiznis/tally/internal/payment/adapters"
	"github.com/smallbiznis/tally/internal/payment/adapters/manual"
	"github.com/smallbiznis/tally/internal/payment/adapters/stripe"
	"github.com/smallbiznis/tally/internal/payment/adapters/wallet"
	"github.com/smallbiznis/tally/internal/payment/domain"
	"github.com/smallbiznis/tally/internal/payment/repository"
	paymentservice "github.com/smallbiznis/tally/internal/payment/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(NewRegistry),
	fx.Provide(paymentservice.NewService),
)

// NewRegistry registers the manual gateway plus every processor that has credentials configured.
func NewRegistry(cfg config.Config, log *zap.Logger) *adapters.Registry {
	gateways := []domain.Gateway{manual.New()}
	if cfg.Stripe.Enabled() {
		gateways = append(gateways, stripe.New(cfg.Stripe.SecretKey, log))
	} else {
		log.Info("stripe gateway disabled, card payments unavailable")
	}
	if cfg.Wallet.Enabled() {
		gateways = append(gateways, wallet.New(cfg.Wallet.BaseURL, cfg.Wallet.AccessToken, nil, log))
	} else {
		log.Info("wallet gateway disabled, wallet payments unavailable")
	}
	return adapters.NewRegistry(gateways...)
}
