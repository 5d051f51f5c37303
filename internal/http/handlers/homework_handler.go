// Homework HTTP handlers.
//
//   - POST /homework/{id}/submissions  (accept page photos, grade in background)
//   - GET  /submissions/{id}           (poll a submission)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/homework-tutor-backend/internal/http/middleware"
)

// SubmitHomeworkRequest lists the uploaded page photos of one submission.
type SubmitHomeworkRequest struct {
	ImageURLs []string `json:"image_urls" binding:"required,min=1"`
}

// SubmitHomework godoc
// @ID          submitHomework
// @Summary     Submit homework pages for correction
// @Description Stores the submission and queues it for OCR and grading. Poll GET /submissions/{id}.
// @Tags        Homework
// @Accept      json
// @Produce     json
// @Param       id    path  string  true  "Homework ID"
// @Param       body  body  handlers.SubmitHomeworkRequest  true  "Page photos"
// @Success     202  {object} domain.HomeworkSubmission
// @Failure     400  {object} handlers.ErrorResponse
// @Failure     404  {object} handlers.ErrorResponse "Homework not found"
// @Security    BearerAuth
// @Router      /homework/{id}/submissions [post]
func (h *Handlers) SubmitHomework(c *gin.Context) {
	if h.Homework == nil {
		unavailable(c, "homework")
		return
	}
	var req SubmitHomeworkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "image_urls required")
		return
	}
	ctx := c.Request.Context()
	uid := userID(c)

	idemKey, _ := middleware.GetIdempotencyKey(c)
	scope := middleware.IdempotencyScope(c)
	if idemKey != "" {
		sid, found := middleware.ReplayedResource(c)
		if !found && h.Idem != nil {
			sid, found = h.Idem.Lookup(ctx, uid, scope, idemKey)
		}
		if found {
			if prev, err := h.Homework.Get(ctx, uid, sid); err == nil {
				c.Header("Idempotency-Replayed", "true")
				created(c, http.StatusAccepted, "/submissions/"+prev.ID, prev)
				return
			}
		}
	}

	sub, err := h.Homework.Submit(ctx, uid, c.Param("id"), req.ImageURLs)
	if err != nil {
		serviceError(c, err)
		return
	}
	if idemKey != "" && h.Idem != nil {
		h.Idem.Remember(ctx, uid, scope, idemKey, sub.ID, http.StatusAccepted)
	}
	created(c, http.StatusAccepted, "/submissions/"+sub.ID, sub)
}

// GetSubmission godoc
// @ID          getSubmission
// @Summary     Get a homework submission
// @Tags        Homework
// @Produce     json
// @Param       id  path  string  true  "Submission ID"
// @Success     200  {object} domain.HomeworkSubmission
// @Failure     404  {object} handlers.ErrorResponse
// @Security    BearerAuth
// @Router      /submissions/{id} [get]
func (h *Handlers) GetSubmission(c *gin.Context) {
	if h.Homework == nil {
		unavailable(c, "homework")
		return
	}
	sub, err := h.Homework.Get(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		serviceError(c, err)
		return
	}
	ok(c, http.StatusOK, sub)
}
