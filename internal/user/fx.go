package user

import (
	"github.com/versiful/versiful/internal/user/repository"
	"github.com/versiful/versiful/internal/user/service"
	"go.uber.org/fx"
)

var Module = fx.Module("user",
	fx.Provide(repository.New),
	fx.Provide(service.NewService),
)
