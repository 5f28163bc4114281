package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	admindomain "github.com/smallbiznis/quotaguard/internal/admin/domain"
	auditdomain "github.com/smallbiznis/quotaguard/internal/audit/domain"
	blockingdomain "github.com/smallbiznis/quotaguard/internal/blocking/domain"
	enforcementdomain "github.com/smallbiznis/quotaguard/internal/enforcement/domain"
	protectiondomain "github.com/smallbiznis/quotaguard/internal/protection/domain"
	quotadomain "github.com/smallbiznis/quotaguard/internal/quota/domain"
	usagedomain "github.com/smallbiznis/quotaguard/internal/usage/domain"
	pkgdb "github.com/smallbiznis/quotaguard/pkg/db"
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
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
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

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
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

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, blockingdomain.ErrIdentityProtected):
		return http.StatusConflict, errorPayload{
			Type:    "identity_protected",
			Message: "identity is under administrative protection",
		}
	case errors.Is(err, blockingdomain.ErrTransitionConflict):
		return http.StatusConflict, errorPayload{
			Type:    "transition_conflict",
			Message: "transition not applied, concurrent modification",
		}
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, pkgdb.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "store_unavailable",
			Message: "transition not applied, store unavailable",
		}
	case errors.Is(err, enforcementdomain.ErrEnforcementFailed):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "enforcement_unavailable",
			Message: "enforcement point unavailable",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the error type and code logged with a request.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	status, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	if status >= http.StatusInternalServerError && payload.Type == "internal_error" {
		return "internal", code
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return true
	case isIdentityValidationError(err),
		isBlockingValidationError(err),
		isQuotaValidationError(err),
		isAuditValidationError(err),
		errors.Is(err, usagedomain.ErrInvalidPageToken):
		return true
	default:
		return false
	}
}

func isIdentityValidationError(err error) bool {
	switch {
	case errors.Is(err, admindomain.ErrInvalidIdentity),
		errors.Is(err, blockingdomain.ErrInvalidIdentity),
		errors.Is(err, quotadomain.ErrInvalidIdentity),
		errors.Is(err, auditdomain.ErrInvalidIdentity),
		errors.Is(err, usagedomain.ErrInvalidIdentity),
		errors.Is(err, protectiondomain.ErrInvalidIdentity),
		errors.Is(err, enforcementdomain.ErrInvalidIdentity):
		return true
	default:
		return false
	}
}

func isBlockingValidationError(err error) bool {
	switch {
	case errors.Is(err, admindomain.ErrInvalidDuration),
		errors.Is(err, blockingdomain.ErrInvalidExpiry),
		errors.Is(err, blockingdomain.ErrInvalidBlockType):
		return true
	default:
		return false
	}
}

func isQuotaValidationError(err error) bool {
	switch {
	case errors.Is(err, quotadomain.ErrInvalidLimit),
		errors.Is(err, quotadomain.ErrInvalidThresholds),
		errors.Is(err, quotadomain.ErrInvalidEmail):
		return true
	default:
		return false
	}
}

func isAuditValidationError(err error) bool {
	switch {
	case errors.Is(err, auditdomain.ErrInvalidOperation),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidTimeRange):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, quotadomain.ErrQuotaNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	var code string
	switch {
	case errors.Is(err, ErrInvalidRequest):
		code = "invalid_request"
	case isIdentityValidationError(err):
		code = "invalid_identity"
	case errors.Is(err, admindomain.ErrInvalidDuration):
		code = "invalid_duration"
	case errors.Is(err, blockingdomain.ErrInvalidExpiry):
		code = "invalid_expiry"
	default:
		code = err.Error()
	}
	return code
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "invalid_identity":
		return "identity is required"
	case "invalid_duration":
		return "duration must be one of 1day, 30days, 90days, indefinite, custom"
	case "invalid_expiry":
		return "expiry must be in the future"
	default:
		return "invalid value"
	}
}
