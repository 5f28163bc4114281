package limits

import (
	"github.com/smallbiznis/quotaguard/internal/limits/service"
	"go.uber.org/fx"
)

var Module = fx.Module("limits.evaluator",
	fx.Provide(service.NewEvaluator),
)
