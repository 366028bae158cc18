package project

import (
	"github.com/smallbiznis/tally/internal/project/repository"
	"github.com/smallbiznis/tally/internal/project/service"
	"go.uber.org/fx"
)

var Module = fx.Module("project",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
