package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/gridsense/gridwatch/internal/alert"
	"github.com/gridsense/gridwatch/internal/baseline"
	"github.com/gridsense/gridwatch/internal/clock"
	"github.com/gridsense/gridwatch/internal/config"
	"github.com/gridsense/gridwatch/internal/events"
	"github.com/gridsense/gridwatch/internal/logger"
	"github.com/gridsense/gridwatch/internal/migration"
	"github.com/gridsense/gridwatch/internal/peak"
	"github.com/gridsense/gridwatch/internal/reading"
	"github.com/gridsense/gridwatch/internal/rollup"
	"github.com/gridsense/gridwatch/internal/rollup/worker"
	"github.com/gridsense/gridwatch/internal/server"
	"github.com/gridsense/gridwatch/internal/settings"
	"github.com/gridsense/gridwatch/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var version = "dev"

func main() {
	app := fx.New(
		logger.Module,
		config.Module,
		clock.Module,
		fx.Provide(func() *snowflake.Node {
			node, err := snowflake.NewNode(1)
			if err != nil {
				panic(err)
			}
			return node
		}),
		db.Module,
		fx.Invoke(func(conn *gorm.DB) error {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return migration.RunMigrations(sqlDB)
		}),
		events.Module,
		reading.Module,
		settings.Module,
		baseline.Module,
		peak.Module,
		rollup.Module,
		alert.Module,
		worker.Module,
		server.Module,
	)
	app.Run()
}
