package billing

import (
	"github.com/versiful/versiful/internal/billing/domain"
	"github.com/versiful/versiful/internal/billing/service"
	"github.com/versiful/versiful/internal/billing/stripe"
	userdomain "github.com/versiful/versiful/internal/user/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("billing",
	fx.Provide(stripe.NewAdapter),
	fx.Provide(stripe.NewClient),
	fx.Provide(service.NewService),
	fx.Provide(func(c domain.Client) userdomain.SubscriptionCanceler { return c }),
)
