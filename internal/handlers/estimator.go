package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"realsync/api/internal/estimator"
	"realsync/api/internal/middleware"
	"realsync/api/internal/response"
)

func (h HandlerSet) Calculate(c *gin.Context) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, "Authentication required")
		return
	}

	var input estimator.Input
	if err := c.ShouldBindJSON(&input); err != nil {
		writeBindError(c, err)
		return
	}
	if errs := input.Validate(); len(errs) > 0 {
		details := make(map[string]string, len(errs))
		for _, fe := range errs {
			details[fe.Field] = fe.Message
		}
		response.Invalid(c, http.StatusBadRequest, "Validation failed", details)
		return
	}

	run, err := h.estimator.Calculate(c.Request.Context(), identity, input)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.OK(c, http.StatusOK, gin.H{"run": run})
}

func (h HandlerSet) ListRuns(c *gin.Context) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, "Authentication required")
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			response.Invalid(c, http.StatusBadRequest, "Validation failed", map[string]string{"limit": "must be a number"})
			return
		}
		limit = v
	}

	runs, err := h.estimator.ListRuns(c.Request.Context(), identity.UserID, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.OK(c, http.StatusOK, gin.H{"runs": runs})
}

func (h HandlerSet) UITValue(c *gin.Context) {
	response.OK(c, http.StatusOK, h.estimator.UIT())
}
