// Package logger provides the process-wide zap logger.
package logger

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewLogger() (*zap.Logger, error) {
	log, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(log)
	return log, nil
}

var Module = fx.Module("logger",
	fx.Provide(NewLogger),
	fx.Invoke(registerFlush),
)

func registerFlush(lc fx.Lifecycle, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			// Sync can fail on stderr; the process is exiting anyway.
			_ = log.Sync()
			return nil
		},
	})
}
