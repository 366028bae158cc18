package billingmodel

import (
	"github.com/smallbiznis/tally/internal/billingmodel/repository"
	"github.com/smallbiznis/tally/internal/billingmodel/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billingmodel",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
