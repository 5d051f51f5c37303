// Session HTTP handlers.
//
// This file exposes REST endpoints for tutoring sessions:
//   - POST  /sessions               (create)
//   - GET   /sessions               (list, paginated, filters, ETag support)
//   - GET   /sessions/{id}          (detail with recent history)
//   - PUT   /sessions/{id}/title    (rename)
//   - PATCH /sessions/{id}/status   (close or archive)
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/homework-tutor-backend/internal/domain"
	"github.com/tbourn/homework-tutor-backend/internal/services"
	"github.com/tbourn/homework-tutor-backend/internal/utils"
)

// maxHistory caps the turns returned with a session.
const maxHistory = 50

//
// DTOs
//

// CreateSessionRequest is the JSON payload for creating a session.
type CreateSessionRequest struct {
	// Title optionally sets the session title; the first question names it otherwise.
	Title   string  `json:"title" example:"期中复习"`
	Subject *string `json:"subject,omitempty" example:"math"`
}

// UpdateSessionTitleRequest is the JSON payload for renaming a session.
type UpdateSessionTitleRequest struct {
	Title string `json:"title" binding:"required,min=1,max=255" example:"勾股定理专题"`
}

// UpdateSessionStatusRequest is the JSON payload for a status transition.
type UpdateSessionStatusRequest struct {
	Status string `json:"status" binding:"required" example:"closed"`
}

// ListSessionsResponse wraps a page of sessions and pagination information.
type ListSessionsResponse struct {
	Sessions   []domain.ChatSession `json:"sessions"`
	Pagination Pagination           `json:"pagination"`
}

func sessionID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "session id must be a UUID")
		return "", false
	}
	return id, true
}

// CreateSession godoc
// @ID          createSession
// @Summary     Create a tutoring session
// @Tags        Sessions
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.CreateSessionRequest  true  "Create session payload"
// @Success     201  {object}  domain.ChatSession
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Security    BearerAuth
// @Router      /sessions [post]
func (h *Handlers) CreateSession(c *gin.Context) {
	if h.Sessions == nil {
		unavailable(c, "sessions")
		return
	}
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	s, err := h.Sessions.Create(c.Request.Context(), userID(c), req.Title, req.Subject)
	if err != nil {
		serviceError(c, err)
		return
	}
	created(c, http.StatusCreated, "/sessions/"+s.ID, s)
}

// ListSessions godoc
// @ID          listSessions
// @Summary     List sessions (paginated)
// @Description Returns a page of the user's sessions. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Sessions
// @Produce     json
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       status         query   string  false "active, closed or archived"
// @Param       subject        query   string  false "Subject key"  example(math)
// @Param       q              query   string  false "Title search"
// @Param       order          query   string  false "Sort field, prefix - for descending"  example(-updated_at)
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object} handlers.ListSessionsResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse
// @Failure     500  {object} handlers.ErrorResponse
// @Security    BearerAuth
// @Router      /sessions [get]
func (h *Handlers) ListSessions(c *gin.Context) {
	if h.Sessions == nil {
		unavailable(c, "sessions")
		return
	}
	uid := userID(c)
	page, pageSize := clampPagination(c)
	q := services.SessionQuery{
		Status:   strings.TrimSpace(c.Query("status")),
		Subject:  strings.TrimSpace(c.Query("subject")),
		Search:   strings.TrimSpace(c.Query("q")),
		Order:    strings.TrimSpace(c.Query("order")),
		Page:     page,
		PageSize: pageSize,
	}

	if checkETag(c, h.SessionsETag, "sessions", uid, c.Request.URL.RawQuery) {
		return
	}

	items, total, err := h.Sessions.ListPage(c.Request.Context(), uid, q)
	if err != nil {
		serviceError(c, err)
		return
	}
	ok(c, http.StatusOK, ListSessionsResponse{Sessions: items, Pagination: newPagination(page, pageSize, total)})
}

// GetSession godoc
// @ID          getSession
// @Summary     Get a session with its recent turns
// @Tags        Sessions
// @Produce     json
// @Param       id       path   string  true  "Session ID (UUID)"  format(uuid)
// @Param       history  query  int     false "Number of recent turns to include"  minimum(0) maximum(50) default(10)
// @Success     200  {object} services.SessionView
// @Failure     400  {object} handlers.ErrorResponse
// @Failure     404  {object} handlers.ErrorResponse
// @Security    BearerAuth
// @Router      /sessions/{id} [get]
func (h *Handlers) GetSession(c *gin.Context) {
	if h.Sessions == nil {
		unavailable(c, "sessions")
		return
	}
	id, valid := sessionID(c)
	if !valid {
		return
	}
	history := utils.AtoiClamp(c.Query("history"), 10, 0, maxHistory)
	v, err := h.Sessions.Get(c.Request.Context(), userID(c), id, history)
	if err != nil {
		serviceError(c, err)
		return
	}
	ok(c, http.StatusOK, v)
}

// UpdateSessionTitle godoc
// @ID          updateSessionTitle
// @Summary     Rename a session
// @Tags        Sessions
// @Accept      json
// @Param       id    path  string  true  "Session ID (UUID)"  format(uuid)
// @Param       body  body  handlers.UpdateSessionTitleRequest  true  "New title"
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse
// @Failure     404  {object} handlers.ErrorResponse
// @Security    BearerAuth
// @Router      /sessions/{id}/title [put]
func (h *Handlers) UpdateSessionTitle(c *gin.Context) {
	if h.Sessions == nil {
		unavailable(c, "sessions")
		return
	}
	id, valid := sessionID(c)
	if !valid {
		return
	}
	var req UpdateSessionTitleRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title required (1–255 chars)")
		return
	}
	if err := h.Sessions.UpdateTitle(c.Request.Context(), userID(c), id, req.Title); err != nil {
		serviceError(c, err)
		return
	}
	noContent(c)
}

// UpdateSessionStatus godoc
// @ID          updateSessionStatus
// @Summary     Change a session's status
// @Description Allowed transitions: active→closed, active→archived, closed→archived.
// @Tags        Sessions
// @Accept      json
// @Produce     json
// @Param       id    path  string  true  "Session ID (UUID)"  format(uuid)
// @Param       body  body  handlers.UpdateSessionStatusRequest  true  "Target status"
// @Success     200  {object} domain.ChatSession
// @Failure     400  {object} handlers.ErrorResponse
// @Failure     404  {object} handlers.ErrorResponse
// @Failure     409  {object} handlers.ErrorResponse "Transition not allowed"
// @Security    BearerAuth
// @Router      /sessions/{id}/status [patch]
func (h *Handlers) UpdateSessionStatus(c *gin.Context) {
	if h.Sessions == nil {
		unavailable(c, "sessions")
		return
	}
	id, valid := sessionID(c)
	if !valid {
		return
	}
	var req UpdateSessionStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "status required")
		return
	}
	s, err := h.Sessions.UpdateStatus(c.Request.Context(), userID(c), id, req.Status)
	if err != nil {
		serviceError(c, err)
		return
	}
	ok(c, http.StatusOK, s)
}
