package settings

import (
	"errors"
	"net/http"

	"feedloop-engagement/pkg/errutil"
	"feedloop-engagement/pkg/middleware"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(r *gin.Engine) {
	g := r.Group("/v1/settings", middleware.RequireIdentity())
	g.GET("", h.get)
	g.PUT("", h.update)
	g.POST("/provision", h.provision)
}

func (h *Handler) get(c *gin.Context) {
	id, _ := middleware.GetIdentity(c.Request.Context())

	cfg, err := h.svc.Get(c.Request.Context(), id.BusinessID)
	if err != nil {
		_ = c.Error(asAPIError(err))
		return
	}

	c.JSON(http.StatusOK, cfg)
}

func (h *Handler) update(c *gin.Context) {
	id, _ := middleware.GetIdentity(c.Request.Context())

	var in UpdateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	cfg, err := h.svc.Update(c.Request.Context(), id.BusinessID, in)
	if err != nil {
		_ = c.Error(asAPIError(err))
		return
	}

	c.JSON(http.StatusOK, cfg)
}

// provision installs the default configuration for the caller's business.
// Calling it again is harmless; an existing row is returned unchanged.
func (h *Handler) provision(c *gin.Context) {
	id, _ := middleware.GetIdentity(c.Request.Context())

	cfg, err := h.svc.EnsureDefaults(c.Request.Context(), id.BusinessID)
	if err != nil {
		_ = c.Error(asAPIError(err))
		return
	}

	c.JSON(http.StatusOK, cfg)
}

func asAPIError(err error) error {
	switch {
	case errors.Is(err, ErrSettingsNotFound):
		return errutil.NotFound("gamification settings not provisioned for business", err)
	case errors.Is(err, ErrInvalidSettings):
		return errutil.ValidationFailed(err.Error(), nil)
	default:
		return errutil.Internal("failed to access gamification settings", err)
	}
}
