package middleware

import (
	"github.com/gin-gonic/gin"
)

// Machine-readable error codes in HTTP error bodies.
const (
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeIPBlocked         = "IP_BLOCKED"
	CodeBadRequest        = "BAD_REQUEST"
	CodeNotFound          = "NOT_FOUND"
	CodeConflict          = "CONFLICT"
	CodeInternal          = "INTERNAL"
)

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Permission string `json:"permission,omitempty"`
	RetryAfter int64  `json:"retry_after,omitempty"`
}

// Abort writes an error body and stops the chain.
func Abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorBody{Code: code, Message: message})
}
