package blocking

import (
	"github.com/smallbiznis/quotaguard/internal/blocking/repository"
	"github.com/smallbiznis/quotaguard/internal/blocking/service"
	"go.uber.org/fx"
)

var Module = fx.Module("blocking.orchestrator",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
