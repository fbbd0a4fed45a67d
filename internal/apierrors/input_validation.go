package apierrors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// InputValidation builds a 400 error for a malformed or missing request parameter
// (spec.md §7 kind "input-validation", e.g. a streamresponse request missing `input`).
func InputValidation(message string, details map[string]interface{}) *Error {
	return newError(KindInputValidation, http.StatusBadRequest, message, details)
}

// AbortWithInputValidation sends the error response and aborts the request.
func AbortWithInputValidation(c *gin.Context, message string, details map[string]interface{}) {
	err := InputValidation(message, details)
	c.AbortWithStatusJSON(err.HTTPStatus, err)
}
