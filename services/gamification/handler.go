package gamification

import (
	"errors"
	"net/http"

	"feedloop-engagement/pkg/errutil"
	"feedloop-engagement/pkg/middleware"
	"feedloop-engagement/services/settings"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(r *gin.Engine) {
	g := r.Group("/v1/profile", middleware.RequireIdentity())
	g.GET("", h.profile)
}

func (h *Handler) profile(c *gin.Context) {
	id, _ := middleware.GetIdentity(c.Request.Context())

	profile, err := h.svc.Profile(c.Request.Context(), id.BusinessID, id.UserID)
	if err != nil {
		if errors.Is(err, settings.ErrSettingsNotFound) {
			_ = c.Error(errutil.NotFound("gamification settings not provisioned for business", err))
			return
		}
		_ = c.Error(errutil.Internal("failed to load profile", err))
		return
	}

	c.JSON(http.StatusOK, profile)
}
