package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/versiful/versiful/internal/billing"
	"github.com/versiful/versiful/internal/clock"
	"github.com/versiful/versiful/internal/config"
	"github.com/versiful/versiful/internal/ledger"
	"github.com/versiful/versiful/internal/migration"
	"github.com/versiful/versiful/internal/notify"
	"github.com/versiful/versiful/internal/observability"
	"github.com/versiful/versiful/internal/responder/openai"
	"github.com/versiful/versiful/internal/server"
	"github.com/versiful/versiful/internal/transport/twilio"
	"github.com/versiful/versiful/internal/usage"
	"github.com/versiful/versiful/internal/user"
	"github.com/versiful/versiful/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		user.Module,
		usage.Module,
		ledger.Module,
		billing.Module,
		twilio.Module,
		openai.Module,
		notify.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
