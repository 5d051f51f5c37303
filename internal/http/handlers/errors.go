package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/homework-tutor-backend/internal/services"
)

// Error codes carried in ErrorResponse.Code. Clients branch on these, never
// on messages.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeValidation   = "validation_error"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"
	ErrCodeUnavailable  = "service_unavailable"
	ErrCodeTimeout      = "timeout"

	// Domain outcomes the status alone cannot convey.
	ErrCodeSessionInactive     = "session_inactive"
	ErrCodeInvalidCredentials  = "invalid_credentials"
	ErrCodeUpstreamUnavailable = "upstream_unavailable"
	ErrCodePayloadTooLarge     = "payload_too_large"
	ErrCodeUnsupportedMedia    = "unsupported_media_type"
	ErrCodeUploadFailed        = "upload_failed"
	ErrCodeMethodNotAllowed    = "method_not_allowed"
)

const internalMessage = "internal server error"

// unavailable answers 503 for routes whose backing service is not configured.
func unavailable(c *gin.Context, what string) {
	fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, what+" is not configured")
}

// serviceError maps a service error to its HTTP status and code. The error
// is recorded on the context so the access log and fail see the cause even
// when the client only gets a generic message.
func serviceError(c *gin.Context, err error) {
	_ = c.Error(err)
	status, code, msg := classify(err)
	fail(c, status, code, msg)
}

func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, services.ErrSessionNotFound),
		errors.Is(err, services.ErrSubmissionNotFound),
		errors.Is(err, services.ErrHomeworkNotFound),
		errors.Is(err, services.ErrMistakeNotFound),
		errors.Is(err, services.ErrAnswerNotFound),
		errors.Is(err, services.ErrQuestionNotFound):
		return http.StatusNotFound, ErrCodeNotFound, err.Error()

	case errors.Is(err, services.ErrEmptyContent),
		errors.Is(err, services.ErrTooLong),
		errors.Is(err, services.ErrInvalidImageURL),
		errors.Is(err, services.ErrTooManyImages),
		errors.Is(err, services.ErrNoImages),
		errors.Is(err, services.ErrInvalidReviewResult),
		errors.Is(err, services.ErrInvalidFeedback),
		errors.Is(err, services.ErrInvalidStatus),
		errors.Is(err, services.ErrInvalidSubject),
		errors.Is(err, services.ErrInvalidQuestionType),
		errors.Is(err, services.ErrInvalidSourceKind),
		errors.Is(err, services.ErrInvalidPhone),
		errors.Is(err, services.ErrInvalidGrade),
		errors.Is(err, services.ErrWeakPassword):
		return http.StatusBadRequest, ErrCodeValidation, err.Error()

	case errors.Is(err, services.ErrInvalidStatusTransition),
		errors.Is(err, services.ErrDuplicateFeedback),
		errors.Is(err, services.ErrPhoneTaken):
		return http.StatusConflict, ErrCodeConflict, err.Error()

	case errors.Is(err, services.ErrSessionInactive):
		return http.StatusConflict, ErrCodeSessionInactive, err.Error()

	case errors.Is(err, services.ErrInvalidCredentials):
		return http.StatusUnauthorized, ErrCodeInvalidCredentials, err.Error()

	case errors.Is(err, services.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable, ErrCodeUpstreamUnavailable, services.BusyMessage

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrCodeTimeout, "request timed out"
	}
	// Storage and driver errors stay in the logs.
	return http.StatusInternalServerError, ErrCodeInternal, internalMessage
}
