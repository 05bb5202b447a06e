package middleware

import (
	"net/http"

	"feedloop-engagement/pkg/errutil"

	"github.com/gin-gonic/gin"
)

// Error renders the last error attached to the context. Handlers translate
// domain sentinels into errutil.BaseError before calling c.Error.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		err := c.Errors.Last()
		if err == nil {
			return
		}

		if v, ok := err.Err.(errutil.BaseError); ok {
			c.JSON(v.Code.HTTPStatus(), v.JSON())
			return
		}

		c.JSON(http.StatusInternalServerError, errutil.BaseError{
			Code:    errutil.StatusInternal,
			Message: "internal error",
		}.JSON())
	}
}
