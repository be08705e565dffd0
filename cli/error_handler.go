package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/mercure-chat/core/errors"
)

// ErrorHandler provides user-friendly error messages
type ErrorHandler struct {
	Verbose bool
	Out     io.Writer
}

// NewErrorHandler creates a new error handler writing to stderr
func NewErrorHandler(verbose bool) *ErrorHandler {
	return &ErrorHandler{
		Verbose: verbose,
		Out:     os.Stderr,
	}
}

// Handle prints a message for err based on its code and returns err.
func (h *ErrorHandler) Handle(err error) error {
	if err == nil {
		return nil
	}
	out := h.Out
	if out == nil {
		out = os.Stderr
	}

	switch errors.GetCode(err) {
	case errors.ErrCodeNotLoggedIn:
		fmt.Fprintln(out, "Not logged in. Run 'mercure login' first.")

	case errors.ErrCodeUnauthorized, errors.ErrCodeSessionExpired:
		fmt.Fprintln(out, "Your session has expired. Run 'mercure login' again.")

	case errors.ErrCodeNetwork:
		fmt.Fprintf(out, "Cannot reach the backend: %v\n", err)
		fmt.Fprintln(out, "Check api.base_url in mercure.yml or MERCURE_API_URL.")

	case errors.ErrCodeNoActiveThread:
		fmt.Fprintln(out, "No channel or DM selected. Pass --channel or --dm.")

	case errors.ErrCodeConfigNotFound:
		if me, ok := errors.As(err); ok {
			fmt.Fprintf(out, "Configuration file not found: %v\n", me.Details["path"])
		} else {
			fmt.Fprintf(out, "Configuration file not found: %v\n", err)
		}

	case errors.ErrCodeConfigValidation, errors.ErrCodeConfigInvalid:
		fmt.Fprintf(out, "Invalid configuration: %v\n", err)
		fmt.Fprintln(out, "Run 'mercure config validate' for details.")

	case errors.ErrCodeHTTP:
		me, _ := errors.As(err)
		fmt.Fprintf(out, "Request failed (%d): %s\n", me.Status, me.Message)

	default:
		fmt.Fprintf(out, "Error: %v\n", err)
	}

	if h.Verbose {
		if me, ok := errors.As(err); ok {
			fmt.Fprintf(out, "\nError details:\n%s\n", me.ToJSON())
		}
	}
	return err
}
