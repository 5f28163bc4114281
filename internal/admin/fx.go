package admin

import (
	"github.com/smallbiznis/quotaguard/internal/admin/service"
	"go.uber.org/fx"
)

var Module = fx.Module("admin.service",
	fx.Provide(service.NewService),
)
