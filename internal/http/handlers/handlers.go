// Package handlers provides HTTP handler implementations for the public API.
//
// Handlers are transport-thin: they validate input, call application
// services, and translate results and service errors into HTTP responses.
// Each resource depends on a narrow service interface so tests can stub it.
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/homework-tutor-backend/internal/domain"
	"github.com/tbourn/homework-tutor-backend/internal/learning"
	"github.com/tbourn/homework-tutor-backend/internal/services"
	"github.com/tbourn/homework-tutor-backend/internal/storage"
	"github.com/tbourn/homework-tutor-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// SessionService defines session lifecycle operations.
type SessionService interface {
	Create(ctx context.Context, userID, title string, subject *string) (*domain.ChatSession, error)
	ListPage(ctx context.Context, userID string, q services.SessionQuery) ([]domain.ChatSession, int64, error)
	Get(ctx context.Context, userID, id string, history int) (*services.SessionView, error)
	UpdateTitle(ctx context.Context, userID, id, title string) error
	UpdateStatus(ctx context.Context, userID, id, status string) (*domain.ChatSession, error)
}

// QAService runs tutoring turns.
type QAService interface {
	Ask(ctx context.Context, userID string, req services.AskRequest) (*services.AskResponse, error)
	AskStream(ctx context.Context, userID string, req services.AskRequest, emit services.Emitter) (*services.AskResponse, error)
	Turn(ctx context.Context, userID, questionID string) (*services.AskResponse, error)
}

// FeedbackService rates answers.
type FeedbackService interface {
	Leave(ctx context.Context, userID, answerID string, in services.FeedbackInput) (*domain.Answer, error)
}

// HomeworkService accepts and reports homework submissions.
type HomeworkService interface {
	Submit(ctx context.Context, userID, homeworkID string, imageURLs []string) (*domain.HomeworkSubmission, error)
	Get(ctx context.Context, userID, id string) (*domain.HomeworkSubmission, error)
}

// MistakeService manages the mistake book.
type MistakeService interface {
	List(ctx context.Context, userID string, q services.MistakeQuery) ([]domain.MistakeRecord, int64, error)
	Due(ctx context.Context, userID string, limit int) ([]domain.MistakeRecord, error)
	Get(ctx context.Context, userID, id string) (*domain.MistakeRecord, error)
	CreateManual(ctx context.Context, userID string, in services.ManualMistake) (*domain.MistakeRecord, error)
	Review(ctx context.Context, userID, id, result string) (*services.ReviewOutcome, error)
}

// AuthService registers and signs in users.
type AuthService interface {
	Register(ctx context.Context, in services.RegisterInput) (*services.AuthResult, error)
	Login(ctx context.Context, phone, password string) (*services.AuthResult, error)
}

// ContextBuilder exposes the learning context.
type ContextBuilder interface {
	Build(ctx context.Context, userID, subject string, kind learning.SessionType) *learning.Context
}

// Idempotency stores and resolves Idempotency-Key replays for a route scope.
type Idempotency interface {
	Lookup(ctx context.Context, userID, scope, key string) (resourceID string, ok bool)
	Remember(ctx context.Context, userID, scope, key, resourceID string, status int)
}

// ETagSource returns the change marker of a user-scoped collection.
type ETagSource func(ctx context.Context, userID string) (count int64, latest *time.Time, err error)

//
// Handler wiring
//

// Deps bundles the services mounted by the router. Nil services leave their
// routes answering 503.
type Deps struct {
	Sessions SessionService
	QA       QAService
	Feedback FeedbackService
	Homework HomeworkService
	Mistakes MistakeService
	Auth     AuthService
	Learning ContextBuilder
	Store    storage.Store
	Idem     Idempotency

	SessionsETag ETagSource
	MistakesETag ETagSource

	MaxImageBytes  int64
	AllowedOrigins []string
}

// Handlers groups the HTTP endpoints of the API.
type Handlers struct {
	Deps
}

// New constructs Handlers bound to the given services.
func New(d Deps) *Handlers {
	if d.MaxImageBytes <= 0 {
		d.MaxImageBytes = 10 << 20
	}
	return &Handlers{Deps: d}
}

// userID extracts the authenticated user id set by the auth middleware.
// Outside the middleware (tests) it falls back to the X-User-ID header and
// finally to "demo-user".
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

//
// Shared DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := utils.TotalPages(total, pageSize)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// clampPagination reads page (>= 1) and page_size (1..100, default 20).
func clampPagination(c *gin.Context) (page, pageSize int) {
	page = utils.AtoiDefault(c.Query("page"), 1)
	if page < 1 {
		page = 1
	}
	return page, utils.AtoiClamp(c.Query("page_size"), 20, 1, 100)
}

// checkETag sets a weak ETag for the user's collection and answers 304 when
// the client already holds it. It reports whether the response was written.
func checkETag(c *gin.Context, src ETagSource, kind, uid, extra string) bool {
	if src == nil {
		return false
	}
	count, maxTS, err := src(c.Request.Context(), uid)
	if err != nil {
		return false
	}
	var ts int64
	if maxTS != nil {
		ts = maxTS.UnixNano()
	}
	etag := fmt.Sprintf(`W/"%s:%s:%d:%d:%s"`, kind, uid, count, ts, extra)
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}
