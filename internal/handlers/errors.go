package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"realsync/api/internal/estimator"
	"realsync/api/internal/response"
	"realsync/api/internal/service"
)

type errorMapping struct {
	err     error
	status  int
	message string
}

// Messages are deliberately generic for authentication failures.
var errorMappings = []errorMapping{
	{service.ErrDuplicateEmail, http.StatusBadRequest, "User with this email already exists"},
	{service.ErrInvalidRole, http.StatusBadRequest, "Invalid role"},
	{service.ErrMissingToken, http.StatusBadRequest, "Refresh token is required"},
	{service.ErrSelfDeactivation, http.StatusBadRequest, "Cannot deactivate your own account"},
	{service.ErrInvalidCredentials, http.StatusUnauthorized, "Invalid credentials"},
	{service.ErrInvalidOrExpiredToken, http.StatusUnauthorized, "Invalid or expired token"},
	{service.ErrTokenRevokedOrSuperseded, http.StatusUnauthorized, "Invalid refresh token"},
	{service.ErrUserNotFoundOrInactive, http.StatusUnauthorized, "User not found or inactive"},
	{service.ErrAccountDeactivated, http.StatusForbidden, "Account is deactivated"},
	{service.ErrInsufficientPermissions, http.StatusForbidden, "Insufficient permissions"},
	{service.ErrUserNotFound, http.StatusNotFound, "User not found"},
	{estimator.ErrInvalidInput, http.StatusBadRequest, "Invalid estimator input"},
}

func (h HandlerSet) writeError(c *gin.Context, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			response.Fail(c, m.status, m.message)
			return
		}
	}

	_ = c.Error(err)
	h.log.Error().
		Err(err).
		Str("path", c.FullPath()).
		Str("request_id", c.Writer.Header().Get("X-Request-Id")).
		Msg("request failed")
	response.Fail(c, http.StatusInternalServerError, "Internal server error")
}

// writeBindError answers a request whose body could not be bound.
func writeBindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		response.Invalid(c, http.StatusBadRequest, "Validation failed", validationDetails(verrs))
		return
	}
	response.Fail(c, http.StatusBadRequest, "Invalid request body")
}

func validationDetails(verrs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		details[fe.Field()] = describe(fe)
	}
	return details
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "e164":
		return "must be a phone number in international format"
	default:
		return "is invalid"
	}
}

var registerTagsOnce sync.Once

// registerValidatorTags makes validation errors name fields by their JSON key.
func registerValidatorTags() {
	registerTagsOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			if name == "" {
				return field.Name
			}
			return name
		})
	})
}
