package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"realsync/api/internal/middleware"
	"realsync/api/internal/response"
)

func (h HandlerSet) DeactivateUser(c *gin.Context) {
	h.setUserActive(c, false)
}

func (h HandlerSet) ActivateUser(c *gin.Context) {
	h.setUserActive(c, true)
}

func (h HandlerSet) setUserActive(c *gin.Context, active bool) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, "Authentication required")
		return
	}

	profile, err := h.auth.SetUserActive(c.Request.Context(), identity, c.Param("id"), active, requestMeta(c))
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.OK(c, http.StatusOK, gin.H{"user": profile})
}
