package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"realsync/api/internal/middleware"
	"realsync/api/internal/models"
	"realsync/api/internal/response"
	"realsync/api/internal/service"
)

type registerRequest struct {
	Email     string  `json:"email" binding:"required,email"`
	Password  string  `json:"password" binding:"required,min=8,max=72"`
	FirstName string  `json:"first_name" binding:"required,max=100"`
	LastName  string  `json:"last_name" binding:"required,max=100"`
	Role      string  `json:"role" binding:"required,oneof=OWNER BUYER AGENT CO_AGENT ADMIN_AGENCY"`
	Phone     *string `json:"phone" binding:"omitempty,e164"`
}

func (h HandlerSet) RegisterUser(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	role, err := models.ParseRole(req.Role)
	if err != nil {
		h.writeError(c, service.ErrInvalidRole)
		return
	}

	result, err := h.auth.Register(c.Request.Context(), service.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      role,
		Phone:     req.Phone,
	}, requestMeta(c))
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.OK(c, http.StatusCreated, result)
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (h HandlerSet) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	result, err := h.auth.Login(c.Request.Context(), service.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	}, requestMeta(c))
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.OK(c, http.StatusOK, result)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h HandlerSet) Refresh(c *gin.Context) {
	var req refreshRequest
	// an empty body is answered by the service as a missing token
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBindError(c, err)
		return
	}

	pair, err := h.auth.RefreshTokens(c.Request.Context(), req.RefreshToken, requestMeta(c))
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.OK(c, http.StatusOK, pair)
}

func (h HandlerSet) Logout(c *gin.Context) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, "Authentication required")
		return
	}

	if err := h.auth.Logout(c.Request.Context(), identity.UserID, requestMeta(c)); err != nil {
		h.writeError(c, err)
		return
	}

	response.Message(c, http.StatusOK, "Logged out successfully")
}

func (h HandlerSet) Me(c *gin.Context) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, "Authentication required")
		return
	}

	profile, err := h.auth.WhoAmI(c.Request.Context(), identity.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.OK(c, http.StatusOK, gin.H{"user": profile})
}
