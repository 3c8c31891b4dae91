package rollup

import (
	"github.com/gridsense/gridwatch/internal/rollup/service"
	"go.uber.org/fx"
)

var Module = fx.Module("rollup.service",
	fx.Provide(service.NewService),
)
