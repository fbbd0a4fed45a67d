package apierrors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// UpstreamUnreachable builds a 503 error for a completion proxy or tool server that
// could not be reached at all (connection refused, DNS failure, dial timeout).
func UpstreamUnreachable(message string, details map[string]interface{}) *Error {
	return newError(KindUpstreamUnreachable, http.StatusServiceUnavailable, message, details)
}

// UpstreamProtocol builds a 502 error for a reachable upstream that returned a
// malformed or unexpected response (bad JSON-RPC framing, missing SSE data line).
func UpstreamProtocol(message string, details map[string]interface{}) *Error {
	return newError(KindUpstreamProtocol, http.StatusBadGateway, message, details)
}

// AbortWithUpstreamUnreachable sends the error response and aborts the request.
func AbortWithUpstreamUnreachable(c *gin.Context, message string, details map[string]interface{}) {
	err := UpstreamUnreachable(message, details)
	c.AbortWithStatusJSON(err.HTTPStatus, err)
}

// AbortWithUpstreamProtocol sends the error response and aborts the request.
func AbortWithUpstreamProtocol(c *gin.Context, message string, details map[string]interface{}) {
	err := UpstreamProtocol(message, details)
	c.AbortWithStatusJSON(err.HTTPStatus, err)
}
