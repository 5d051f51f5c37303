// Feedback HTTP handlers.
//
// This file exposes the REST endpoint for rating tutor answers:
//   - POST /answers/{id}/feedback  (rate an answer once)
//
// Ratings are constrained to 1..5; an optional helpful flag and a short
// free-text note may accompany them.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/homework-tutor-backend/internal/services"
)

// LeaveFeedbackRequest is the JSON payload for rating an answer.
type LeaveFeedbackRequest struct {
	// Rating is the score from 1 (poor) to 5 (excellent).
	Rating    int     `json:"rating" binding:"required,min=1,max=5" example:"5"`
	IsHelpful *bool   `json:"is_helpful,omitempty" example:"true"`
	Text      *string `json:"text,omitempty" example:"讲得很清楚"`
}

// LeaveFeedback godoc
// @ID          leaveFeedback
// @Summary     Rate an answer
// @Description Records a 1..5 rating for a tutor answer. Each answer can be rated once.
// @Tags        Feedback
// @Accept      json
// @Produce     json
// @Param       id    path  string  true  "Answer ID (UUID)"  format(uuid) example(fa4dfbe0-c3bf-47bd-b32f-d7de221cf43b)
// @Param       body  body  handlers.LeaveFeedbackRequest true "Feedback payload"
// @Success     200  {object} domain.Answer
// @Failure     400  {object} handlers.ErrorResponse "Invalid payload"
// @Failure     404  {object} handlers.ErrorResponse "Answer not found"
// @Failure     409  {object} handlers.ErrorResponse "Already rated"
// @Failure     500  {object} handlers.ErrorResponse "Internal server error"
// @Security    BearerAuth
// @Router      /answers/{id}/feedback [post]
func (h *Handlers) LeaveFeedback(c *gin.Context) {
	if h.Feedback == nil {
		unavailable(c, "feedback")
		return
	}
	var req LeaveFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "rating must be between 1 and 5")
		return
	}

	a, err := h.Feedback.Leave(c.Request.Context(), userID(c), c.Param("id"), services.FeedbackInput{
		Rating:    req.Rating,
		IsHelpful: req.IsHelpful,
		Text:      req.Text,
	})
	if err != nil {
		serviceError(c, err)
		return
	}
	ok(c, http.StatusOK, a)
}
