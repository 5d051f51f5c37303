// Package handlers provides HTTP handler implementations for the public API.
//
// This file holds the response writers every handler goes through. Errors
// always leave as an ErrorResponse carrying the request id, so a student
// reporting "it said something went wrong" can be matched to server logs.
//
//	HTTP/1.1 409 Conflict
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "session_inactive",
//	  "message": "session is not active"
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/homework-tutor-backend/internal/http/middleware"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Echo of X-Request-ID
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go)
	Code string `json:"code" example:"not_found"`
	// Safe to show to students
	Message string `json:"message" example:"session not found"`
}

// fail aborts with an ErrorResponse. 5xx outcomes are logged with the last
// error recorded on the context (serviceError records it); an unavailable
// upstream is a warning, anything else an error.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		ev := lg.Error()
		if status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout {
			ev = lg.Warn()
		}
		if last := c.Errors.Last(); last != nil {
			ev = ev.Err(last.Err)
		}
		ev.Int("status", status).Str("code", code).Msg(msg)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// Fail is fail for the router's fallback handlers.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes body as JSON with status.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// created answers 201 (or 202 for queued work) and points Location at the
// new resource.
func created(c *gin.Context, status int, location string, body any) {
	if location != "" {
		c.Header("Location", location)
	}
	c.JSON(status, body)
}

// noContent writes an HTTP 204 No Content response.
func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
