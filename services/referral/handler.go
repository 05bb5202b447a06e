package referral

import (
	"errors"
	"net/http"
	"time"

	"feedloop-engagement/pkg/errutil"
	"feedloop-engagement/pkg/middleware"
	"feedloop-engagement/services/settings"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r *gin.Engine) {
	g := r.Group("/v1/referrals")
	g.POST("", middleware.RequireIdentity(), h.create)
	g.GET("", middleware.RequireIdentity(), h.list)
	g.GET("/:code", h.get)
	g.POST("/:code/clicks", h.click)
	g.POST("/:code/complete", middleware.RequireIdentity(), h.complete)
}

type referralView struct {
	ID              string     `json:"id"`
	BusinessID      string     `json:"business_id"`
	ReferringUserID string     `json:"referring_user_id"`
	ReferredEmail   string     `json:"referred_email"`
	Code            string     `json:"code"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	ExpiresAt       time.Time  `json:"expires_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	ClickCount      *int64     `json:"click_count,omitempty"`
}

func toView(ref *Referral) referralView {
	return referralView{
		ID:              ref.ID,
		BusinessID:      ref.BusinessID,
		ReferringUserID: ref.ReferringUserID,
		ReferredEmail:   ref.ReferredEmail,
		Code:            ref.Code,
		Status:          ref.Status.String(),
		CreatedAt:       ref.CreatedAt,
		ExpiresAt:       ref.ExpiresAt,
		CompletedAt:     ref.CompletedAt,
	}
}

type createRequest struct {
	ReferredEmail string `json:"referred_email" binding:"required"`
}

func (h *Handler) create(c *gin.Context) {
	identity, _ := middleware.GetIdentity(c.Request.Context())

	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	ref, err := h.service.Create(c.Request.Context(), CreateInput{
		BusinessID:      identity.BusinessID,
		ReferringUserID: identity.UserID,
		ReferringEmail:  identity.Email,
		ReferredEmail:   req.ReferredEmail,
	})
	if err != nil {
		c.Error(asAPIError(err))
		return
	}

	c.JSON(http.StatusCreated, toView(ref))
}

func (h *Handler) list(c *gin.Context) {
	identity, _ := middleware.GetIdentity(c.Request.Context())

	refs, err := h.service.ListByReferrer(c.Request.Context(), identity.BusinessID, identity.UserID)
	if err != nil {
		c.Error(asAPIError(err))
		return
	}

	views := make([]referralView, 0, len(refs))
	for i := range refs {
		views = append(views, toView(&refs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"referrals": views})
}

func (h *Handler) get(c *gin.Context) {
	ref, err := h.service.GetByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		c.Error(asAPIError(err))
		return
	}
	if ref == nil {
		c.Error(asAPIError(ErrReferralNotFound))
		return
	}

	view := toView(ref)
	if count, err := h.service.ClickCount(c.Request.Context(), ref.ID); err == nil {
		view.ClickCount = &count
	}
	c.JSON(http.StatusOK, view)
}

type clickRequest struct {
	Metadata map[string]string `json:"metadata"`
}

// click always answers 202. Whether the code exists is not the visitor's
// business, and a lost click is not worth an error page.
func (h *Handler) click(c *gin.Context) {
	var req clickRequest
	_ = c.ShouldBindJSON(&req)

	if err := h.service.RecordClick(c.Request.Context(), c.Param("code"), req.Metadata); err != nil {
		c.Error(asAPIError(err))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (h *Handler) complete(c *gin.Context) {
	identity, _ := middleware.GetIdentity(c.Request.Context())

	ref, err := h.service.Complete(c.Request.Context(), c.Param("code"), identity.UserID)
	if err != nil {
		c.Error(asAPIError(err))
		return
	}

	c.JSON(http.StatusOK, toView(ref))
}

func asAPIError(err error) error {
	switch {
	case errors.Is(err, ErrReferralNotFound):
		return errutil.NotFound("referral not found", err)
	case errors.Is(err, ErrReferralNotPending):
		return errutil.Conflict("referral is not pending", err)
	case errors.Is(err, ErrReferralExpired):
		return errutil.Conflict("referral has expired", err)
	case errors.Is(err, ErrSelfReferral):
		return errutil.UnprocessableEntity("self-referral is not allowed", err)
	case errors.Is(err, ErrReferralsDisabled):
		return errutil.UnprocessableEntity("referrals are disabled for this business", err)
	case errors.Is(err, ErrDuplicatePendingReferral):
		return errutil.Conflict("a pending referral to this email already exists", err)
	case errors.Is(err, ErrInvalidEmail):
		return errutil.ValidationFailed("invalid referred email", err)
	case errors.Is(err, ErrGenerationExhausted):
		return errutil.Unavailable("could not allocate a referral code", err)
	case errors.Is(err, settings.ErrSettingsNotFound):
		return errutil.NotFound("business settings not found", err)
	default:
		return errutil.Internal("internal error", err)
	}
}
