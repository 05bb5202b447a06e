package middleware

import (
	"context"
	"strings"

	"feedloop-engagement/pkg/errutil"

	"github.com/gin-gonic/gin"
)

// Identity headers are set by the upstream auth gateway after it has resolved
// the caller's credential. The engine never parses tokens itself.
const (
	HeaderUserID     = "X-USER-ID"
	HeaderUserEmail  = "X-USER-EMAIL"
	HeaderBusinessID = "X-BUSINESS-ID"
)

type identityKey struct{}

// Identity is the resolved caller attached to the request context.
type Identity struct {
	UserID     string
	Email      string
	BusinessID string
}

// RequireIdentity rejects requests that arrive without a resolved caller.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := Identity{
			UserID:     strings.TrimSpace(c.GetHeader(HeaderUserID)),
			Email:      strings.TrimSpace(c.GetHeader(HeaderUserEmail)),
			BusinessID: strings.TrimSpace(c.GetHeader(HeaderBusinessID)),
		}

		if id.UserID == "" || id.BusinessID == "" {
			_ = c.Error(errutil.New(errutil.StatusUnauthorized, "missing identity headers"))
			c.Abort()
			return
		}

		ctx := context.WithValue(c.Request.Context(), identityKey{}, id)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// GetIdentity returns the caller identity stored by RequireIdentity.
func GetIdentity(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
