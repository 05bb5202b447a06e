package events

import (
	"errors"
	"io"
	"net/http"

	"feedloop-engagement/pkg/errutil"
	"feedloop-engagement/pkg/middleware"
	"feedloop-engagement/services/gamification"
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
	g := r.Group("/v1/events", middleware.RequireIdentity())
	g.POST("/feedback", h.feedback)
	g.POST("/registration", h.registration)
}

type feedbackRequest struct {
	FeedbackID   string `json:"feedback_id" binding:"required"`
	ReferralCode string `json:"referral_code"`
}

func (h *Handler) feedback(c *gin.Context) {
	identity, _ := middleware.GetIdentity(c.Request.Context())

	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	err := h.service.FeedbackSubmitted(c.Request.Context(), FeedbackSubmittedInput{
		BusinessID:   identity.BusinessID,
		UserID:       identity.UserID,
		FeedbackID:   req.FeedbackID,
		ReferralCode: req.ReferralCode,
	})
	if err != nil {
		c.Error(asAPIError(err))
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "processed"})
}

type registrationRequest struct {
	Email        string `json:"email"`
	ReferralCode string `json:"referral_code"`
}

func (h *Handler) registration(c *gin.Context) {
	identity, _ := middleware.GetIdentity(c.Request.Context())

	// Every field is optional here, so an empty body is a valid request.
	var req registrationRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	email := req.Email
	if email == "" {
		email = identity.Email
	}

	err := h.service.UserRegistered(c.Request.Context(), UserRegisteredInput{
		BusinessID:   identity.BusinessID,
		UserID:       identity.UserID,
		Email:        email,
		ReferralCode: req.ReferralCode,
	})
	if err != nil {
		c.Error(asAPIError(err))
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "processed"})
}

func asAPIError(err error) error {
	switch {
	case errors.Is(err, settings.ErrSettingsNotFound):
		return errutil.NotFound("business settings not found", err)
	case errors.Is(err, gamification.ErrNegativeAmount):
		return errutil.UnprocessableEntity("award amount must not be negative", err)
	default:
		return errutil.Internal("internal error", err)
	}
}
