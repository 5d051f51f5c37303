// Mistake book HTTP handlers.
//
//   - GET  /mistakes               (list, paginated, filters, ETag support)
//   - GET  /mistakes/due           (due for review)
//   - GET  /mistakes/{id}          (detail)
//   - POST /mistakes               (manual entry)
//   - POST /mistakes/{id}/reviews  (record a review outcome)
package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/homework-tutor-backend/internal/domain"
	"github.com/tbourn/homework-tutor-backend/internal/services"
	"github.com/tbourn/homework-tutor-backend/internal/utils"
)

// ListMistakesResponse wraps a page of mistakes.
type ListMistakesResponse struct {
	Mistakes   []domain.MistakeRecord `json:"mistakes"`
	Pagination Pagination             `json:"pagination"`
}

// CreateMistakeRequest is a manual mistake entry.
type CreateMistakeRequest struct {
	Subject         *string  `json:"subject,omitempty" example:"math"`
	Title           string   `json:"title,omitempty" example:"分式方程漏检验"`
	Content         string   `json:"content" binding:"required" example:"解 1/(x-1)=2/(x^2-1) 时忘记检验增根"`
	KnowledgePoints []string `json:"knowledge_points,omitempty"`
}

// ReviewMistakeRequest carries one review outcome.
type ReviewMistakeRequest struct {
	Result string `json:"result" binding:"required" example:"correct"`
}

// ListMistakes godoc
// @ID          listMistakes
// @Summary     List the mistake book (paginated)
// @Tags        Mistakes
// @Produce     json
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       subject    query  string  false "Subject key"
// @Param       mastered   query  bool    false "Filter on mastery"
// @Param       source     query  string  false "question, homework or manual"
// @Param       q          query  string  false "Search in title and content"
// @Param       order      query  string  false "Sort field, prefix - for descending"  example(-created_at)
// @Param       page       query  int     false "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object} handlers.ListMistakesResponse
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse
// @Security    BearerAuth
// @Router      /mistakes [get]
func (h *Handlers) ListMistakes(c *gin.Context) {
	if h.Mistakes == nil {
		unavailable(c, "mistakes")
		return
	}
	uid := userID(c)
	page, pageSize := clampPagination(c)
	q := services.MistakeQuery{
		Subject:  strings.TrimSpace(c.Query("subject")),
		Source:   strings.TrimSpace(c.Query("source")),
		Search:   strings.TrimSpace(c.Query("q")),
		Order:    strings.TrimSpace(c.Query("order")),
		Page:     page,
		PageSize: pageSize,
	}
	if raw := strings.TrimSpace(c.Query("mastered")); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "mastered must be true or false")
			return
		}
		q.Mastered = &b
	}

	if checkETag(c, h.MistakesETag, "mistakes", uid, c.Request.URL.RawQuery) {
		return
	}

	items, total, err := h.Mistakes.List(c.Request.Context(), uid, q)
	if err != nil {
		serviceError(c, err)
		return
	}
	ok(c, http.StatusOK, ListMistakesResponse{Mistakes: items, Pagination: newPagination(page, pageSize, total)})
}

// DueMistakes godoc
// @ID          dueMistakes
// @Summary     Mistakes due for review
// @Tags        Mistakes
// @Produce     json
// @Param       limit  query  int  false "Maximum items"  minimum(1) maximum(50) default(20)
// @Success     200  {array} domain.MistakeRecord
// @Security    BearerAuth
// @Router      /mistakes/due [get]
func (h *Handlers) DueMistakes(c *gin.Context) {
	if h.Mistakes == nil {
		unavailable(c, "mistakes")
		return
	}
	items, err := h.Mistakes.Due(c.Request.Context(), userID(c), utils.AtoiClamp(c.Query("limit"), 20, 1, 50))
	if err != nil {
		serviceError(c, err)
		return
	}
	ok(c, http.StatusOK, items)
}

// GetMistake godoc
// @ID          getMistake
// @Summary     Get a mistake record
// @Tags        Mistakes
// @Produce     json
// @Param       id  path  string  true  "Mistake ID"
// @Success     200  {object} domain.MistakeRecord
// @Failure     404  {object} handlers.ErrorResponse
// @Security    BearerAuth
// @Router      /mistakes/{id} [get]
func (h *Handlers) GetMistake(c *gin.Context) {
	if h.Mistakes == nil {
		unavailable(c, "mistakes")
		return
	}
	m, err := h.Mistakes.Get(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		serviceError(c, err)
		return
	}
	ok(c, http.StatusOK, m)
}

// CreateMistake godoc
// @ID          createMistake
// @Summary     Add a mistake by hand
// @Tags        Mistakes
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.CreateMistakeRequest  true  "Mistake"
// @Success     201  {object} domain.MistakeRecord
// @Failure     400  {object} handlers.ErrorResponse
// @Security    BearerAuth
// @Router      /mistakes [post]
func (h *Handlers) CreateMistake(c *gin.Context) {
	if h.Mistakes == nil {
		unavailable(c, "mistakes")
		return
	}
	var req CreateMistakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}
	m, err := h.Mistakes.CreateManual(c.Request.Context(), userID(c), services.ManualMistake{
		Subject:         req.Subject,
		Title:           req.Title,
		Content:         sanitizeContent(req.Content),
		KnowledgePoints: req.KnowledgePoints,
	})
	if err != nil {
		serviceError(c, err)
		return
	}
	created(c, http.StatusCreated, "/mistakes/"+m.ID, m)
}

// ReviewMistake godoc
// @ID          reviewMistake
// @Summary     Record a review of a mistake
// @Description Result is correct, partial or incorrect. Returns the updated record and the stored review.
// @Tags        Mistakes
// @Accept      json
// @Produce     json
// @Param       id    path  string  true  "Mistake ID"
// @Param       body  body  handlers.ReviewMistakeRequest  true  "Review outcome"
// @Success     200  {object} services.ReviewOutcome
// @Failure     400  {object} handlers.ErrorResponse
// @Failure     404  {object} handlers.ErrorResponse
// @Security    BearerAuth
// @Router      /mistakes/{id}/reviews [post]
func (h *Handlers) ReviewMistake(c *gin.Context) {
	if h.Mistakes == nil {
		unavailable(c, "mistakes")
		return
	}
	var req ReviewMistakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "result required")
		return
	}
	out, err := h.Mistakes.Review(c.Request.Context(), userID(c), c.Param("id"), strings.TrimSpace(req.Result))
	if err != nil {
		serviceError(c, err)
		return
	}
	ok(c, http.StatusOK, out)
}
