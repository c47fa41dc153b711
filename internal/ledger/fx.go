package ledger

import (
	"github.com/versiful/versiful/internal/ledger/repository"
	"github.com/versiful/versiful/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger",
	fx.Provide(repository.New),
	fx.Provide(service.NewService),
)
