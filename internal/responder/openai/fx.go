package openai

import "go.uber.org/fx"

var Module = fx.Module("responder",
	fx.Provide(NewClient),
)
