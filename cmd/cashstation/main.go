package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/cashstation/internal/clock"
	"github.com/smallbiznis/cashstation/internal/config"
	"github.com/smallbiznis/cashstation/internal/device"
	"github.com/smallbiznis/cashstation/internal/devicelock"
	"github.com/smallbiznis/cashstation/internal/fleetmetrics"
	"github.com/smallbiznis/cashstation/internal/migration"
	"github.com/smallbiznis/cashstation/internal/observability"
	"github.com/smallbiznis/cashstation/internal/scheduler"
	"github.com/smallbiznis/cashstation/internal/server"
	"github.com/smallbiznis/cashstation/pkg/db"
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

		device.Module,
		devicelock.Module,
		server.Module,

		scheduler.Module,
		fleetmetrics.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
