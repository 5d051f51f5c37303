package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/homework-tutor-backend/internal/learning"
)

// GetLearningContext godoc
// @ID          getLearningContext
// @Summary     Personalized learning context
// @Description Weak points, preferences, recent errors and study patterns used to tailor answers.
// @Tags        Learning
// @Produce     json
// @Param       subject       query  string  false "Subject key"  example(math)
// @Param       session_type  query  string  false "learning or homework"  default(learning)
// @Success     200  {object} learning.Context
// @Security    BearerAuth
// @Router      /learning/context [get]
func (h *Handlers) GetLearningContext(c *gin.Context) {
	if h.Learning == nil {
		unavailable(c, "learning context")
		return
	}
	kind := learning.ParseSessionType(strings.TrimSpace(c.Query("session_type")))
	lc := h.Learning.Build(c.Request.Context(), userID(c), strings.TrimSpace(c.Query("subject")), kind)
	ok(c, http.StatusOK, lc)
}
