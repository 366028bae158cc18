package profitability

import (
	"github.com/smallbiznis/tally/internal/profitability/service"
	"go.uber.org/fx"
)

var Module = fx.Module("profitability",
	fx.Provide(service.New),
)
