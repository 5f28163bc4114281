package metering

import (
	"github.com/smallbiznis/quotaguard/internal/metering/service"
	"go.uber.org/fx"
)

var Module = fx.Module("metering.pipeline",
	fx.Provide(service.NewPipeline),
)
