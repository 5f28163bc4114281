package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/quotaguard/internal/audit"
	"github.com/smallbiznis/quotaguard/internal/blocking"
	"github.com/smallbiznis/quotaguard/internal/clock"
	"github.com/smallbiznis/quotaguard/internal/config"
	"github.com/smallbiznis/quotaguard/internal/enforcement"
	"github.com/smallbiznis/quotaguard/internal/notification"
	"github.com/smallbiznis/quotaguard/internal/observability"
	"github.com/smallbiznis/quotaguard/internal/protection"
	"github.com/smallbiznis/quotaguard/internal/quota"
	"github.com/smallbiznis/quotaguard/internal/ratelimit"
	"github.com/smallbiznis/quotaguard/internal/scheduler"
	"github.com/smallbiznis/quotaguard/internal/usage"
	"github.com/smallbiznis/quotaguard/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Domain services required by the daily sweep
		quota.Module,
		usage.Module,
		audit.Module,
		protection.Module,
		enforcement.Module,
		notification.Module,
		blocking.Module,
		ratelimit.Module,

		// Sweep jobs only. The api binary owns the HTTP surface.
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
