package billingcycle

import (
	"github.com/smallbiznis/tally/internal/billingcycle/repository"
	"github.com/smallbiznis/tally/internal/billingcycle/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billingcycle.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
