package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"lingocrowd/core/internal/services"
)

// Error codes returned to clients next to the message.
const (
	CodeValidation         = "validation"
	CodeUnauthorized       = "unauthorized"
	CodeForbidden          = "forbidden"
	CodeNotFound           = "not_found"
	CodePreconditionFailed = "precondition_failed"
	CodeGateway            = "gateway_error"
	CodeWebhookRejected    = "webhook_rejected"
	CodeConflict           = "conflict"
	CodeInternal           = "internal"
)

type ApiError struct {
	Status  int
	Code    string
	Message string
}

func (e *ApiError) Error() string {
	return e.Message
}

func (e *ApiError) status() int {
	if e.Status == 0 {
		return http.StatusBadRequest
	}
	return e.Status
}

// NewApiError reports a malformed call.
func NewApiError(message string) *ApiError {
	return &ApiError{Status: http.StatusBadRequest, Code: CodeValidation, Message: message}
}

// FromServiceError maps the service error kinds onto HTTP statuses.
func FromServiceError(err error) *ApiError {
	var (
		valErr  *services.ValidationError
		authErr *services.AuthorizationError
		nfErr   *services.NotFoundError
		preErr  *services.PreconditionError
		gwErr   *services.GatewayError
		whErr   *services.WebhookError
	)
	switch {
	case errors.As(err, &valErr):
		return &ApiError{Status: http.StatusBadRequest, Code: CodeValidation, Message: valErr.Error()}
	case errors.As(err, &authErr):
		return &ApiError{Status: http.StatusForbidden, Code: CodeForbidden, Message: authErr.Error()}
	case errors.As(err, &nfErr):
		return &ApiError{Status: http.StatusNotFound, Code: CodeNotFound, Message: nfErr.Error()}
	case errors.As(err, &preErr):
		return &ApiError{Status: http.StatusConflict, Code: CodePreconditionFailed, Message: preErr.Error()}
	case errors.As(err, &gwErr):
		return &ApiError{Status: http.StatusBadGateway, Code: CodeGateway, Message: "Payment provider unavailable, please retry"}
	case errors.As(err, &whErr):
		return &ApiError{Status: http.StatusBadRequest, Code: CodeWebhookRejected, Message: whErr.Reason}
	case errors.Is(err, services.ErrEmailExists):
		return &ApiError{Status: http.StatusConflict, Code: CodeConflict, Message: err.Error()}
	default:
		return &ApiError{Status: http.StatusInternalServerError, Code: CodeInternal, Message: "Internal error"}
	}
}

// abortWithError writes a REST error body.
func abortWithError(c *gin.Context, err error) {
	apiErr, ok := err.(*ApiError)
	if !ok {
		_ = c.Error(err)
		apiErr = FromServiceError(err)
	}
	c.AbortWithStatusJSON(apiErr.status(), gin.H{"error": apiErr.Message, "code": apiErr.Code})
}
