package notify

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("notify.service",
	fx.Provide(
		NewService,
		func(s *Service) Publisher { return s },
	),
	fx.Invoke(migrate),
)

var Routes = fx.Module("notify.routes",
	fx.Provide(NewHandler),
	fx.Invoke(func(r *gin.Engine, h *Handler) { h.RegisterRoutes(r) }),
)

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}
