package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/quotaguard/internal/admin"
	"github.com/smallbiznis/quotaguard/internal/audit"
	"github.com/smallbiznis/quotaguard/internal/blocking"
	"github.com/smallbiznis/quotaguard/internal/clock"
	"github.com/smallbiznis/quotaguard/internal/config"
	"github.com/smallbiznis/quotaguard/internal/enforcement"
	"github.com/smallbiznis/quotaguard/internal/limits"
	"github.com/smallbiznis/quotaguard/internal/metering"
	"github.com/smallbiznis/quotaguard/internal/notification"
	"github.com/smallbiznis/quotaguard/internal/observability"
	"github.com/smallbiznis/quotaguard/internal/protection"
	"github.com/smallbiznis/quotaguard/internal/quota"
	"github.com/smallbiznis/quotaguard/internal/ratelimit"
	"github.com/smallbiznis/quotaguard/internal/server"
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

		// Ingest and admin surface
		quota.Module,
		usage.Module,
		limits.Module,
		audit.Module,
		protection.Module,
		enforcement.Module,
		notification.Module,
		blocking.Module,
		metering.Module,
		admin.Module,
		ratelimit.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
