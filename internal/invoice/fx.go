package invoice

import (
	"github.com/smallbiznis/tally/internal/invoice/builder"
	"github.com/smallbiznis/tally/internal/invoice/domain"
	"github.com/smallbiznis/tally/internal/invoice/render"
	"github.com/smallbiznis/tally/internal/invoice/repository"
	"github.com/smallbiznis/tally/internal/invoice/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice.service",
	fx.Provide(repository.Provide),
	fx.Provide(builder.New),
	fx.Provide(render.NewRenderer),
	fx.Provide(service.NewService),
	fx.Provide(
		func(s *service.Service) domain.Service { return s },
		func(s *service.Service) domain.Sweeper { return s },
	),
)
