package apierrors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Auth builds an auth-family error (spec.md §7: 401/403/422 depending on cause).
func Auth(status int, message string, details map[string]interface{}) *Error {
	return newError(KindAuth, status, message, details)
}

// AbortWithAuth sends the error response and aborts the request.
func AbortWithAuth(c *gin.Context, status int, message string, details map[string]interface{}) {
	err := Auth(status, message, details)
	c.AbortWithStatusJSON(err.HTTPStatus, err)
}

// Unauthorized is the common 401 case: no resolvable principal.
func Unauthorized(message string) *Error {
	return Auth(http.StatusUnauthorized, message, nil)
}
