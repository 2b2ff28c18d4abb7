package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/cashstation/internal/audit/domain"
	"github.com/smallbiznis/cashstation/internal/authorization"
	cashdomain "github.com/smallbiznis/cashstation/internal/cashsession/domain"
	denomdomain "github.com/smallbiznis/cashstation/internal/denomination/domain"
	depositdomain "github.com/smallbiznis/cashstation/internal/deposit/domain"
	devicedomain "github.com/smallbiznis/cashstation/internal/device/domain"
	"github.com/smallbiznis/cashstation/internal/devicelock"
	inventorydomain "github.com/smallbiznis/cashstation/internal/inventory/domain"
	"github.com/smallbiznis/cashstation/internal/money"
	productdomain "github.com/smallbiznis/cashstation/internal/product/domain"
	"github.com/smallbiznis/cashstation/internal/ratelimit"
	shiftdomain "github.com/smallbiznis/cashstation/internal/shiftaudit/domain"
	withdrawaldomain "github.com/smallbiznis/cashstation/internal/withdrawal/domain"
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

// classifyErrorForLog feeds the request logger the envelope type and status.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	return payload.Type, strconv.Itoa(status)
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

	// Checked before the generic state conflict because it also matches
	// cashdomain.ErrInvalidState.
	if errors.Is(err, cashdomain.ErrDispenseFailed) || errors.Is(err, cashdomain.ErrNeedsIntervention) {
		return http.StatusConflict, errorPayload{
			Type:    "needs_staff_intervention",
			Message: "dispense failed, staff intervention required",
		}
	}

	if errors.Is(err, cashdomain.ErrRecordFailed) {
		return http.StatusInternalServerError, errorPayload{
			Type:    "record_failed",
			Message: "cash dispensed but the transaction was not recorded",
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
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authorization.ErrInvalidActor):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, cashdomain.ErrSessionBusy):
		return http.StatusConflict, errorPayload{
			Type:    "session_busy",
			Message: "a cash session is already active",
		}
	case errors.Is(err, cashdomain.ErrInvalidState),
		errors.Is(err, cashdomain.ErrNothingCounted):
		return http.StatusConflict, errorPayload{
			Type:    "invalid_state",
			Message: "operation not allowed in the current session state",
		}
	case errors.Is(err, shiftdomain.ErrPendingPos):
		return http.StatusConflict, errorPayload{
			Type:    "pending_pos_transactions",
			Message: "pos transactions are still pending, retry or force the close",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, depositdomain.ErrTransactionIDConflict),
		errors.Is(err, depositdomain.ErrNotRetryable),
		errors.Is(err, productdomain.ErrDuplicateCode),
		errors.Is(err, withdrawaldomain.ErrInvalidTransition),
		errors.Is(err, shiftdomain.ErrInvalidTransition),
		errors.Is(err, devicelock.ErrLocked):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case errors.Is(err, ratelimit.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many retries, try again later",
		}
	case errors.Is(err, denomdomain.ErrInsufficientStock):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "insufficient_stock",
			Message: "not enough stock to dispense the amount",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, cashdomain.ErrDeviceUnavailable),
		errors.Is(err, devicedomain.ErrUnavailable),
		errors.Is(err, inventorydomain.ErrInventoryUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "device_unavailable",
			Message: "cash recycler unavailable",
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

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, authorization.ErrInvalidRole),
		errors.Is(err, authorization.ErrInvalidInput):
		return true
	case isSessionValidationError(err),
		isAmountValidationError(err),
		isTransactionValidationError(err),
		isProductValidationError(err),
		isWithdrawalValidationError(err),
		isShiftValidationError(err),
		isAuditValidationError(err):
		return true
	default:
		return false
	}
}

func isSessionValidationError(err error) bool {
	switch {
	case errors.Is(err, cashdomain.ErrInvalidPlan),
		errors.Is(err, cashdomain.ErrInvalidPurpose),
		errors.Is(err, cashdomain.ErrInvalidStaff):
		return true
	}
	return false
}

func isAmountValidationError(err error) bool {
	switch {
	case errors.Is(err, money.ErrInvalidAmount),
		errors.Is(err, money.ErrNegativeAmount),
		errors.Is(err, money.ErrFractionalAmount),
		errors.Is(err, denomdomain.ErrInvalidAmount):
		return true
	}
	return false
}

func isTransactionValidationError(err error) bool {
	switch {
	case errors.Is(err, depositdomain.ErrInvalidAmount),
		errors.Is(err, depositdomain.ErrInvalidDepositType),
		errors.Is(err, depositdomain.ErrInvalidStaff),
		errors.Is(err, depositdomain.ErrInvalidID),
		errors.Is(err, depositdomain.ErrInvalidPageToken):
		return true
	}
	return false
}

func isProductValidationError(err error) bool {
	switch {
	case errors.Is(err, productdomain.ErrInvalidCode),
		errors.Is(err, productdomain.ErrInvalidName),
		errors.Is(err, productdomain.ErrInvalidCategory),
		errors.Is(err, productdomain.ErrInvalidDepositType),
		errors.Is(err, productdomain.ErrInvalidID):
		return true
	}
	return false
}

func isWithdrawalValidationError(err error) bool {
	switch {
	case errors.Is(err, withdrawaldomain.ErrInvalidType),
		errors.Is(err, withdrawaldomain.ErrInvalidAmount),
		errors.Is(err, withdrawaldomain.ErrInvalidStaff),
		errors.Is(err, withdrawaldomain.ErrInvalidStatus),
		errors.Is(err, withdrawaldomain.ErrInvalidID),
		errors.Is(err, withdrawaldomain.ErrInvalidPageToken):
		return true
	}
	return false
}

func isShiftValidationError(err error) bool {
	switch {
	case errors.Is(err, shiftdomain.ErrInvalidStaff),
		errors.Is(err, shiftdomain.ErrInvalidAuditType),
		errors.Is(err, shiftdomain.ErrInvalidState),
		errors.Is(err, shiftdomain.ErrInvalidAmount),
		errors.Is(err, shiftdomain.ErrInvalidID),
		errors.Is(err, shiftdomain.ErrInvalidPageToken):
		return true
	}
	return false
}

func isAuditValidationError(err error) bool {
	switch {
	case errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidTimeRange),
		errors.Is(err, auditdomain.ErrInvalidAction):
		return true
	}
	return false
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, cashdomain.ErrSessionNotFound),
		errors.Is(err, depositdomain.ErrNotFound),
		errors.Is(err, productdomain.ErrNotFound),
		errors.Is(err, withdrawaldomain.ErrNotFound),
		errors.Is(err, shiftdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		// Wrapped sentinels carry context after the first colon.
		code, _, _ := strings.Cut(err.Error(), ":")
		return code
	}
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
	default:
		return "invalid value"
	}
}
