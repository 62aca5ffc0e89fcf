package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	tokendomain "github.com/sabihub/tokenledger/internal/token/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type      string            `json:"type"`
	Message   string            `json:"message"`
	Errors    []ValidationError `json:"errors,omitempty"`
	Required  int64             `json:"required,omitempty"`
	Available int64             `json:"available,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrTooManyRequests = errors.New("too_many_requests")
	ErrInternal        = errors.New("internal_error")
	ErrInvalidRequest  = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	var insufficient *tokendomain.InsufficientTokensError
	if errors.As(err, &insufficient) {
		return http.StatusPaymentRequired, errorPayload{
			Type:      "insufficient_tokens",
			Message:   "not enough tokens for this action",
			Required:  insufficient.Required,
			Available: insufficient.Available,
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, tokendomain.ErrNotAuthenticated):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, tokendomain.ErrInsufficientTokens):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "insufficient_tokens",
			Message: "not enough tokens for this action",
		}
	case errors.Is(err, tokendomain.ErrBalanceConflict):
		return http.StatusConflict, errorPayload{
			Type:    "balance_conflict",
			Message: "balance changed concurrently, try again",
		}
	case errors.Is(err, ErrTooManyRequests):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "too_many_requests",
			Message: "too many requests",
		}
	case isTokenValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   "request",
					Code:    err.Error(),
					Message: validationErrorMessage(err),
				},
			},
		}
	case errors.Is(err, tokendomain.ErrBalanceNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isTokenValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, tokendomain.ErrInvalidAmount),
		errors.Is(err, tokendomain.ErrInvalidFeature),
		errors.Is(err, tokendomain.ErrInvalidTransactionType):
		return true
	default:
		return false
	}
}

func validationErrorMessage(err error) string {
	switch {
	case errors.Is(err, tokendomain.ErrInvalidAmount):
		return "amount must be a positive integer"
	case errors.Is(err, tokendomain.ErrInvalidFeature):
		return "feature is required"
	case errors.Is(err, tokendomain.ErrInvalidTransactionType):
		return "transaction type must be purchase, refund, or reset"
	default:
		return "invalid request"
	}
}
