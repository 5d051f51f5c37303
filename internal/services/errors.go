// Package services holds the use cases of the tutoring backend: sessions,
// the question-answering orchestrator, homework correction, the mistake
// book, answer feedback and accounts. This file centralizes the
// service-level error values so handlers can map them to HTTP results
// consistently.
package services

import (
	"errors"
	"strings"

	"github.com/tbourn/homework-tutor-backend/internal/repo"
)

// Not-found errors. Ownership failures are reported as not found.
var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrHomeworkNotFound   = errors.New("homework not found")
	ErrMistakeNotFound    = errors.New("mistake not found")
	ErrAnswerNotFound     = errors.New("answer not found")
	ErrQuestionNotFound   = errors.New("question not found")
)

// Validation errors.
var (
	// ErrEmptyContent is returned when a question has no text.
	ErrEmptyContent = errors.New("content is empty")

	// ErrTooLong is returned when a question exceeds the configured length.
	ErrTooLong = errors.New("content too long")

	// ErrInvalidImageURL is returned for image URLs that are not absolute http(s).
	ErrInvalidImageURL = errors.New("image url must be an absolute http(s) URL")

	// ErrTooManyImages is returned when a request carries more images than allowed.
	ErrTooManyImages = errors.New("too many images")

	// ErrNoImages is returned when a homework submission has no image.
	ErrNoImages = errors.New("at least one image is required")

	// ErrInvalidReviewResult is returned for review results outside correct|partial|incorrect.
	ErrInvalidReviewResult = errors.New("review result must be correct, partial or incorrect")

	// ErrInvalidFeedback is returned when a rating is outside 1..5.
	ErrInvalidFeedback = errors.New("rating must be between 1 and 5")

	// ErrInvalidStatusTransition is returned when a session cannot move to the requested status.
	ErrInvalidStatusTransition = errors.New("invalid session status transition")

	// ErrInvalidStatus is returned for session statuses outside active|closed|archived.
	ErrInvalidStatus = errors.New("unknown session status")

	// ErrInvalidSubject is returned for subjects the service does not know.
	ErrInvalidSubject = errors.New("unknown subject")

	// ErrInvalidQuestionType is returned for question types outside the known set.
	ErrInvalidQuestionType = errors.New("unknown question type")

	// ErrInvalidSourceKind is returned for mistake source filters outside the known set.
	ErrInvalidSourceKind = errors.New("source must be homework, qa or manual")

	// ErrInvalidPhone is returned for phones that are not 6-20 digits with an optional leading +.
	ErrInvalidPhone = errors.New("invalid phone number")

	// ErrInvalidGrade is returned for grade levels outside the known set.
	ErrInvalidGrade = errors.New("unknown grade level")

	// ErrWeakPassword is returned for passwords shorter than MinPasswordLen.
	ErrWeakPassword = errors.New("password too short")
)

// Conflict errors.
var (
	// ErrDuplicateFeedback is returned when an answer was already rated.
	ErrDuplicateFeedback = errors.New("feedback already exists")

	// ErrPhoneTaken is returned when registering a phone that already has an account.
	ErrPhoneTaken = errors.New("phone already registered")

	// ErrSessionInactive is returned when asking in a closed or archived session.
	ErrSessionInactive = errors.New("session is not active")
)

// Auth errors.
var (
	// ErrInvalidCredentials covers unknown phones, wrong passwords and inactive accounts.
	ErrInvalidCredentials = errors.New("invalid phone or password")
)

// ErrUpstreamUnavailable is returned when the LLM provider failed after retries.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

func isNotFound(err error) bool { return errors.Is(err, repo.ErrNotFound) }

// isDuplicate detects unique-constraint violations, including drivers that
// do not translate to gorm.ErrDuplicatedKey.
func isDuplicate(err error) bool {
	if errors.Is(err, repo.ErrDuplicate) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}
