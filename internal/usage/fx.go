package usage

import (
	"github.com/versiful/versiful/internal/usage/repository"
	"github.com/versiful/versiful/internal/usage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usage",
	fx.Provide(repository.New),
	fx.Provide(service.NewService),
)
