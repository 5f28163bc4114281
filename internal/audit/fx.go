package audit

import (
	"github.com/smallbiznis/quotaguard/internal/audit/repository"
	"github.com/smallbiznis/quotaguard/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
