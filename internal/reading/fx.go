package reading

import (
	"github.com/gridsense/gridwatch/internal/reading/service"
	"go.uber.org/fx"
)

var Module = fx.Module("reading.service",
	fx.Provide(service.NewService),
)
