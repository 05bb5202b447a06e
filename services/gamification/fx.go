package gamification

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("gamification.module",
	fx.Provide(
		NewService,
		NewHandler,
	),
)

var Server = fx.Module("gamification.server",
	Module,
	fx.Invoke(RegisterRoutes),
)

func RegisterRoutes(r *gin.Engine, h *Handler) {
	h.Register(r)
}
