package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/smallbiznis/quotameter/internal/clock"
	"github.com/smallbiznis/quotameter/internal/config"
	"github.com/smallbiznis/quotameter/internal/gate"
	"github.com/smallbiznis/quotameter/internal/ledger"
	"github.com/smallbiznis/quotameter/internal/lock"
	"github.com/smallbiznis/quotameter/internal/logger"
	"github.com/smallbiznis/quotameter/internal/migration"
	"github.com/smallbiznis/quotameter/internal/observability"
	"github.com/smallbiznis/quotameter/internal/reclaim"
	"github.com/smallbiznis/quotameter/internal/refresh"
	"github.com/smallbiznis/quotameter/internal/server"
	"github.com/smallbiznis/quotameter/internal/session"
	"github.com/smallbiznis/quotameter/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		lock.Module,

		ledger.Module,
		session.Module,
		gate.Module,
		refresh.Module,
		reclaim.Module,

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
