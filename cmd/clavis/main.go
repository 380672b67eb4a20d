package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clavis/internal/clock"
	"github.com/smallbiznis/clavis/internal/config"
	"github.com/smallbiznis/clavis/internal/discount"
	"github.com/smallbiznis/clavis/internal/event"
	"github.com/smallbiznis/clavis/internal/membership"
	"github.com/smallbiznis/clavis/internal/migration"
	"github.com/smallbiznis/clavis/internal/notification"
	"github.com/smallbiznis/clavis/internal/observability"
	"github.com/smallbiznis/clavis/internal/payment"
	"github.com/smallbiznis/clavis/internal/plan"
	"github.com/smallbiznis/clavis/internal/rolesync"
	"github.com/smallbiznis/clavis/internal/server"
	"github.com/smallbiznis/clavis/internal/sweeper"
	"github.com/smallbiznis/clavis/pkg/db"
	"github.com/smallbiznis/clavis/pkg/log"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		log.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Functional domains
		event.Module,
		plan.Module,
		discount.Module,
		membership.Module,
		payment.Module,
		rolesync.Module,
		notification.Module,
		sweeper.Module,

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
