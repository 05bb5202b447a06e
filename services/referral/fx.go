package referral

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("referral",
	fx.Provide(
		NewService,
		NewHandler,
	),
)

var Server = fx.Module("referral.server",
	Module,
	fx.Invoke(RegisterRoutes),
)

func RegisterRoutes(r *gin.Engine, h *Handler) {
	h.Register(r)
}
