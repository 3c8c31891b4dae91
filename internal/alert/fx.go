package alert

import (
	"github.com/bwmarrin/snowflake"
	"github.com/gridsense/gridwatch/internal/alert/alertlog"
	"github.com/gridsense/gridwatch/internal/alert/notify"
	"github.com/gridsense/gridwatch/internal/alert/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("alert.service",
	fx.Provide(func(db *gorm.DB, genID *snowflake.Node, log *zap.Logger) *alertlog.Log {
		return alertlog.New(db, genID, log, alertlog.DefaultDedupeWindow)
	}),
	fx.Provide(func(log *zap.Logger) notify.Notifier {
		return notify.NewLogNotifier(log)
	}),
	fx.Provide(func(notifier notify.Notifier, log *zap.Logger) *notify.Gate {
		return notify.NewGate(notifier, nil, log)
	}),
	fx.Provide(service.NewService),
)
