package leaderboard

import (
	"errors"
	"net/http"
	"strconv"

	"feedloop-engagement/pkg/errutil"
	"feedloop-engagement/pkg/middleware"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r *gin.Engine) {
	r.GET("/v1/leaderboard", middleware.RequireIdentity(), h.rank)
}

const defaultLimit = 10

func (h *Handler) rank(c *gin.Context) {
	identity, _ := middleware.GetIdentity(c.Request.Context())

	metric := Metric(c.DefaultQuery("metric", string(MetricPoints)))

	limit := defaultLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.Error(errutil.BadRequest("limit must be an integer", err))
			return
		}
		limit = parsed
	}

	entries, err := h.service.Rank(c.Request.Context(), identity.BusinessID, metric, limit)
	if err != nil {
		c.Error(asAPIError(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"metric":  string(metric),
		"entries": entries,
	})
}

func asAPIError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidMetric):
		return errutil.BadRequest("unknown leaderboard metric", err)
	case errors.Is(err, ErrInvalidLimit):
		return errutil.BadRequest("limit must be positive", err)
	default:
		return errutil.Internal("internal error", err)
	}
}
