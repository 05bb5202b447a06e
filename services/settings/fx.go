package settings

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("settings.module",
	fx.Provide(
		NewService,
		NewHandler,
	),
)

var Server = fx.Module("settings.server",
	Module,
	fx.Invoke(RegisterRoutes),
)

func RegisterRoutes(r *gin.Engine, h *Handler) {
	h.Register(r)
}
