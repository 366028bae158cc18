package export

import (
	"github.com/smallbiznis/tally/internal/report"
	"go.uber.org/fx"
)

var Module = fx.Module("report.export",
	fx.Provide(report.Default),
	fx.Provide(NewService),
)
