package events

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"feedloop-engagement/pkg/middleware"
	"feedloop-engagement/services/referral"
)

func newRouter(f *fixture) *gin.Engine {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(middleware.Error())
	NewHandler(f.svc).Register(r)
	return r
}

func identified(req *http.Request, userID, email string) *http.Request {
	req.Header.Set(middleware.HeaderUserID, userID)
	req.Header.Set(middleware.HeaderUserEmail, email)
	req.Header.Set(middleware.HeaderBusinessID, "biz-1")
	return req
}

func TestHandler_RegistrationEmptyBody(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)

	req := identified(httptest.NewRequest(http.MethodPost, "/v1/events/registration", nil),
		"new-user", "new@example.com")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, int64(25), f.balance(t, "new-user"))
}

func TestHandler_RegistrationIdentityEmailCompletesReferral(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)

	ref := f.newReferral(t, "bob@example.com")

	// Empty body: the gateway identity carries the email.
	req := identified(httptest.NewRequest(http.MethodPost, "/v1/events/registration", nil),
		"bob-user", "bob@example.com")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)

	stored, err := f.referral.GetByCode(req.Context(), ref.Code)
	require.NoError(t, err)
	require.Equal(t, referral.StatusCompleted, stored.Status)
}

func TestHandler_RegistrationMalformedBody(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)

	req := identified(httptest.NewRequest(http.MethodPost, "/v1/events/registration",
		strings.NewReader("{not-json")), "new-user", "new@example.com")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_FeedbackMissingID(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)

	req := identified(httptest.NewRequest(http.MethodPost, "/v1/events/feedback",
		strings.NewReader(`{}`)), "user-1", "user@example.com")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}
