// Auth HTTP handlers.
//
//   - POST /auth/register  (phone + password account)
//   - POST /auth/login     (returns a bearer token)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/homework-tutor-backend/internal/services"
)

// RegisterRequest creates a student account.
type RegisterRequest struct {
	Phone       string `json:"phone" binding:"required" example:"13800000000"`
	Password    string `json:"password" binding:"required" example:"secret1"`
	DisplayName string `json:"display_name,omitempty" example:"小明"`
	GradeLevel  string `json:"grade_level,omitempty" example:"junior_2"`
}

// LoginRequest signs a user in.
type LoginRequest struct {
	Phone    string `json:"phone" binding:"required" example:"13800000000"`
	Password string `json:"password" binding:"required" example:"secret1"`
}

// Register godoc
// @ID          register
// @Summary     Register a student account
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.RegisterRequest  true  "Account"
// @Success     201  {object} services.AuthResult
// @Failure     400  {object} handlers.ErrorResponse
// @Failure     409  {object} handlers.ErrorResponse "Phone already registered"
// @Router      /auth/register [post]
func (h *Handlers) Register(c *gin.Context) {
	if h.Auth == nil {
		unavailable(c, "auth")
		return
	}
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "phone and password required")
		return
	}
	res, err := h.Auth.Register(c.Request.Context(), services.RegisterInput(req))
	if err != nil {
		serviceError(c, err)
		return
	}
	ok(c, http.StatusCreated, res)
}

// Login godoc
// @ID          login
// @Summary     Sign in
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.LoginRequest  true  "Credentials"
// @Success     200  {object} services.AuthResult
// @Failure     400  {object} handlers.ErrorResponse
// @Failure     401  {object} handlers.ErrorResponse
// @Router      /auth/login [post]
func (h *Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		unavailable(c, "auth")
		return
	}
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "phone and password required")
		return
	}
	res, err := h.Auth.Login(c.Request.Context(), req.Phone, req.Password)
	if err != nil {
		serviceError(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}
