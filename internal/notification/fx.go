package notification

import (
	"context"

	"github.com/smallbiznis/quotaguard/internal/cache"
	notificationdomain "github.com/smallbiznis/quotaguard/internal/notification/domain"
	"github.com/smallbiznis/quotaguard/internal/notification/service"
	"github.com/smallbiznis/quotaguard/internal/providers/email"
	"go.uber.org/fx"
)

var Module = fx.Module("notification.dispatcher",
	email.Module,
	fx.Provide(func() cache.Dedupe { return cache.NewDedupe(0) }),
	fx.Provide(service.NewDispatcher),
	fx.Provide(func(d *service.EmailDispatcher) notificationdomain.Dispatcher { return d }),
	fx.Invoke(drainOnStop),
)

func drainOnStop(lc fx.Lifecycle, d *service.EmailDispatcher) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return d.Wait(ctx)
		},
	})
}
