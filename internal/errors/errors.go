package errors

import (
	stderrors "errors"
	"net/http"
	"time"

	"github.com/aimerfeng/CourseChain/internal/models"
)

// ErrorCode represents a standardized error code
type ErrorCode string

const (
	// Authentication errors (401xx)
	ErrUnauthorized       ErrorCode = "40100"
	ErrInvalidCredentials ErrorCode = "40101"
	ErrTokenExpired       ErrorCode = "40102"

	// Authorization errors (403xx)
	ErrForbidden      ErrorCode = "40301"
	ErrNotCourseOwner ErrorCode = "40302"

	// Resource errors (404xx)
	ErrNotFound       ErrorCode = "40401"
	ErrCourseNotFound ErrorCode = "40402"

	// Request errors (400xx)
	ErrInvalidRequest   ErrorCode = "40001"
	ErrValidationFailed ErrorCode = "40002"
	ErrInvalidJSON      ErrorCode = "40003"

	// Ledger state errors
	ErrConflict          ErrorCode = "40901"
	ErrInsufficientFunds ErrorCode = "40201"
	ErrWindowExpired     ErrorCode = "41001"

	// Rate limiting (429xx)
	ErrRateLimited ErrorCode = "42901"

	// Server errors (500xx)
	ErrInternalServer ErrorCode = "50001"
	ErrStoreError     ErrorCode = "50002"
	ErrPaused         ErrorCode = "50301"
)

// APIError represents a standardized API error
type APIError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Details    any       `json:"details,omitempty"`
	HTTPStatus int       `json:"-"`
	Timestamp  time.Time `json:"-"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// WithDetails returns a copy of the error carrying details
func (e *APIError) WithDetails(details any) *APIError {
	cp := *e
	cp.Details = details
	cp.Timestamp = time.Now().UTC()
	return &cp
}

// WithMessage returns a copy of the error with a different message
func (e *APIError) WithMessage(message string) *APIError {
	cp := *e
	cp.Message = message
	cp.Timestamp = time.Now().UTC()
	return &cp
}

// ErrorBody is the serialized error inside an ErrorResponse
type ErrorBody struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Details   any       `json:"details,omitempty"`
	Timestamp string    `json:"timestamp"`
	Path      string    `json:"path,omitempty"`
	Method    string    `json:"method,omitempty"`
}

// ErrorResponse represents the error response format
type ErrorResponse struct {
	Error         ErrorBody `json:"error"`
	RequestID     string    `json:"request_id"`
	CorrelationID string    `json:"correlation_id"`
}

// NewErrorResponse builds the response envelope for err
func NewErrorResponse(err *APIError, requestID, correlationID, path, method string) *ErrorResponse {
	ts := err.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return &ErrorResponse{
		Error: ErrorBody{
			Code:      err.Code,
			Message:   err.Message,
			Details:   err.Details,
			Timestamp: ts.Format(time.RFC3339),
			Path:      path,
			Method:    method,
		},
		RequestID:     requestID,
		CorrelationID: correlationID,
	}
}

// Common errors
var (
	ErrUnauthorizedError = &APIError{
		Code:       ErrUnauthorized,
		Message:    "Authentication required",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrInvalidCredentialsError = &APIError{
		Code:       ErrInvalidCredentials,
		Message:    "Invalid or malformed credentials",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrTokenExpiredError = &APIError{
		Code:       ErrTokenExpired,
		Message:    "Token has expired",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrForbiddenError = &APIError{
		Code:       ErrForbidden,
		Message:    "Access denied",
		HTTPStatus: http.StatusForbidden,
	}

	ErrNotFoundError = &APIError{
		Code:       ErrNotFound,
		Message:    "Resource not found",
		HTTPStatus: http.StatusNotFound,
	}

	ErrCourseNotFoundError = &APIError{
		Code:       ErrCourseNotFound,
		Message:    "Course not found",
		HTTPStatus: http.StatusNotFound,
	}

	ErrInternalServerError = &APIError{
		Code:       ErrInternalServer,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
	}

	ErrRateLimitedError = &APIError{
		Code:       ErrRateLimited,
		Message:    "Rate limit exceeded",
		HTTPStatus: http.StatusTooManyRequests,
	}

	ErrPausedError = &APIError{
		Code:       ErrPaused,
		Message:    "Contract is paused",
		HTTPStatus: http.StatusServiceUnavailable,
	}
)

// NewValidationError creates a validation error with details
func NewValidationError(details any) *APIError {
	return &APIError{
		Code:       ErrValidationFailed,
		Message:    "Validation failed",
		Details:    details,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string) *APIError {
	return &APIError{
		Code:       ErrInvalidRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// FromLedgerError maps a ledger error onto an API error by its kind. The
// ledger's own message is kept so clients can tell e.g. AlreadyPurchased
// apart from AlreadyCompleted inside the same Conflict code.
func FromLedgerError(err error) *APIError {
	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr
	}

	var code ErrorCode
	switch models.KindOf(err) {
	case models.KindInvalidInput:
		code = ErrInvalidRequest
	case models.KindNotFound:
		code = ErrNotFound
	case models.KindForbidden:
		code = ErrForbidden
	case models.KindConflict:
		code = ErrConflict
	case models.KindInsufficientFunds:
		code = ErrInsufficientFunds
	case models.KindWindowExpired:
		code = ErrWindowExpired
	case models.KindPaused:
		code = ErrPaused
	default:
		return ErrInternalServerError
	}

	return &APIError{
		Code:       code,
		Message:    err.Error(),
		HTTPStatus: GetHTTPStatusFromCode(code),
	}
}

// GetHTTPStatusFromCode returns the HTTP status for an error code
func GetHTTPStatusFromCode(code ErrorCode) int {
	switch code {
	case ErrUnauthorized, ErrInvalidCredentials, ErrTokenExpired:
		return http.StatusUnauthorized
	case ErrForbidden, ErrNotCourseOwner:
		return http.StatusForbidden
	case ErrNotFound, ErrCourseNotFound:
		return http.StatusNotFound
	case ErrInvalidRequest, ErrValidationFailed, ErrInvalidJSON:
		return http.StatusBadRequest
	case ErrConflict:
		return http.StatusConflict
	case ErrInsufficientFunds:
		return http.StatusPaymentRequired
	case ErrWindowExpired:
		return http.StatusGone
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrPaused:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsRetryable reports whether a client may retry the same request later.
// Ledger state errors will fail the same way again.
func IsRetryable(err *APIError) bool {
	switch err.Code {
	case ErrPaused, ErrStoreError, ErrRateLimited:
		return true
	default:
		return false
	}
}

// IsClientError reports a 4xx error
func IsClientError(err *APIError) bool {
	return err.HTTPStatus >= 400 && err.HTTPStatus < 500
}

// IsServerError reports a 5xx error
func IsServerError(err *APIError) bool {
	return err.HTTPStatus >= 500 && err.HTTPStatus < 600
}
