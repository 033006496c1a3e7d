package achievement

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("achievement.service",
	fx.Provide(NewEvaluator),
	fx.Invoke(migrate),
)

var Routes = fx.Module("achievement.routes",
	fx.Provide(NewHandler),
	fx.Invoke(func(r *gin.Engine, h *Handler) { h.RegisterRoutes(r) }),
)

// WorkerModule consumes evaluation tasks and runs the daily scheduler.
var WorkerModule = fx.Module("achievement.worker",
	fx.Provide(NewTaskHandler, NewScheduler),
	fx.Invoke(registerTasks, StartScheduler),
)

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}
