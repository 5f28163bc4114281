package protection

import (
	"github.com/smallbiznis/quotaguard/internal/protection/service"
	"go.uber.org/fx"
)

var Module = fx.Module("protection.registry",
	fx.Provide(service.NewRegistry),
)
