package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"helpdesk-gamification/pkg/config"
	"helpdesk-gamification/pkg/db"
	"helpdesk-gamification/pkg/gen"
	"helpdesk-gamification/pkg/lock"
	"helpdesk-gamification/pkg/logger"
	"helpdesk-gamification/pkg/otelcol"
	"helpdesk-gamification/pkg/profiling"
	"helpdesk-gamification/pkg/redis"
	"helpdesk-gamification/pkg/task"
	"helpdesk-gamification/services/achievement"
	"helpdesk-gamification/services/helpdesk"
	"helpdesk-gamification/services/ledger"
	"helpdesk-gamification/services/notify"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		lock.Module,
		gen.Module,
		task.Client,
		task.Server,
		otelcol.Module,
		profiling.Module,
		helpdesk.Module,
		notify.Module,
		ledger.Module,
		achievement.Module,
		achievement.WorkerModule,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
