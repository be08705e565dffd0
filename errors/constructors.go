package errors

import (
	"fmt"
	"net/http"
)

// ConfigNotFound creates a configuration not found error
func ConfigNotFound(path string) *MercureError {
	return New(ErrCodeConfigNotFound, fmt.Sprintf("configuration file not found: %s", path)).
		WithDetail("path", path)
}

// ConfigInvalid creates an invalid configuration error
func ConfigInvalid(reason string) *MercureError {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", reason))
}

// HTTPStatus creates a transport error for a non-2xx response.
// An empty message falls back to "HTTP error {status}".
func HTTPStatus(status int, message string) *MercureError {
	if message == "" {
		message = fmt.Sprintf("HTTP error %d", status)
	}
	code := ErrCodeHTTP
	if status == http.StatusUnauthorized {
		code = ErrCodeUnauthorized
	}
	return &MercureError{
		Code:    code,
		Message: message,
		Status:  status,
	}
}

// NetworkFailure wraps a failure to reach the backend at all.
func NetworkFailure(method, path string, err error) *MercureError {
	return Wrap(err, ErrCodeNetwork, fmt.Sprintf("%s %s failed", method, path)).
		WithDetail("method", method).
		WithDetail("path", path)
}

// DecodeFailure wraps a response body that could not be decoded.
func DecodeFailure(path string, err error) *MercureError {
	return Wrap(err, ErrCodeDecode, fmt.Sprintf("failed to decode response from %s", path)).
		WithDetail("path", path)
}

// SessionExpired reports that the session could not be refreshed.
func SessionExpired(reason string) *MercureError {
	return New(ErrCodeSessionExpired, fmt.Sprintf("session expired: %s", reason))
}

// NotLoggedIn reports an operation that needs credentials.
func NotLoggedIn() *MercureError {
	return New(ErrCodeNotLoggedIn, "not logged in")
}

// NotConnected reports a realtime operation on a closed channel.
func NotConnected() *MercureError {
	return New(ErrCodeNotConnected, "realtime channel is not connected")
}

// NoActiveThread reports an operation that needs a selected thread.
func NoActiveThread() *MercureError {
	return New(ErrCodeNoActiveThread, "no active channel or direct message")
}

// InvalidInput reports a caller error.
func InvalidInput(reason string) *MercureError {
	return New(ErrCodeInvalidInput, reason)
}
