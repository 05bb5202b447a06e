package events

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("events",
	fx.Provide(
		NewService,
		NewHandler,
	),
)

var Server = fx.Module("events.server",
	Module,
	fx.Invoke(RegisterRoutes),
)

func RegisterRoutes(r *gin.Engine, h *Handler) {
	h.Register(r)
}
