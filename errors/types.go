package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode represents a specific error condition
type ErrorCode string

const (
	// Configuration errors
	ErrCodeConfigNotFound   ErrorCode = "CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid    ErrorCode = "CONFIG_INVALID"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Transport errors
	ErrCodeHTTP         ErrorCode = "HTTP_ERROR"
	ErrCodeNetwork      ErrorCode = "NETWORK_ERROR"
	ErrCodeDecode       ErrorCode = "DECODE_ERROR"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// Session errors
	ErrCodeSessionExpired ErrorCode = "SESSION_EXPIRED"
	ErrCodeNotLoggedIn    ErrorCode = "NOT_LOGGED_IN"

	// Realtime errors
	ErrCodeNotConnected   ErrorCode = "NOT_CONNECTED"
	ErrCodeNoActiveThread ErrorCode = "NO_ACTIVE_THREAD"

	// General errors
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// MercureError represents a structured error with context.
// Status is the HTTP status for transport errors and zero otherwise.
type MercureError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Status  int                    `json:"status,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *MercureError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap implements the errors.Unwrap interface
func (e *MercureError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a detail to the error
func (e *MercureError) WithDetail(key string, value interface{}) *MercureError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ToJSON converts the error to JSON
func (e *MercureError) ToJSON() string {
	data, _ := json.MarshalIndent(e, "", "  ")
	return string(data)
}

// New creates a new MercureError
func New(code ErrorCode, message string) *MercureError {
	return &MercureError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a MercureError
func Wrap(err error, code ErrorCode, message string) *MercureError {
	return &MercureError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// As returns the first MercureError in err's chain.
func As(err error) (*MercureError, bool) {
	for err != nil {
		if me, ok := err.(*MercureError); ok {
			return me, true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = unwrapper.Unwrap()
	}
	return nil, false
}

// Is checks if an error is a specific MercureError code
func Is(err error, code ErrorCode) bool {
	me, ok := As(err)
	if !ok {
		return false
	}
	if me.Code == code {
		return true
	}
	// A wrapped cause may carry the code we're looking for.
	return me.Cause != nil && Is(me.Cause, code)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	me, ok := As(err)
	if !ok {
		return ""
	}
	return me.Code
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	me, ok := As(err)
	if !ok {
		return 0
	}
	return me.Status
}
