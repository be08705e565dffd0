package cli

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/mercure-chat/core/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorHandlerMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"not logged in", errors.NotLoggedIn(), "Not logged in. Run 'mercure login' first."},
		{"unauthorized", errors.HTTPStatus(401, "bad token"), "Your session has expired."},
		{"expired", errors.SessionExpired("refresh rejected"), "Your session has expired."},
		{"network", errors.NetworkFailure("GET", "/accounts", fmt.Errorf("dial tcp: refused")), "Cannot reach the backend"},
		{"no thread", errors.NoActiveThread(), "No channel or DM selected."},
		{"config not found", errors.ConfigNotFound("/tmp/x.yml"), "Configuration file not found: /tmp/x.yml"},
		{"config invalid", errors.ConfigInvalid("api.base_url is empty"), "Invalid configuration"},
		{"http", errors.HTTPStatus(403, "forbidden"), "Request failed (403): forbidden"},
		{"plain", fmt.Errorf("boom"), "Error: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := &ErrorHandler{Out: &buf}
			returned := h.Handle(tt.err)
			assert.Equal(t, tt.err, returned)
			assert.Contains(t, buf.String(), tt.want)
			assert.NotContains(t, buf.String(), "Error details")
		})
	}
}

func TestErrorHandlerVerbose(t *testing.T) {
	var buf bytes.Buffer
	h := &ErrorHandler{Verbose: true, Out: &buf}
	_ = h.Handle(errors.InvalidInput("email is required").WithDetail("field", "email"))

	assert.Contains(t, buf.String(), "Error details")
	assert.Contains(t, buf.String(), `"field"`)
}

func TestErrorHandlerNil(t *testing.T) {
	var buf bytes.Buffer
	assert.NoError(t, (&ErrorHandler{Out: &buf}).Handle(nil))
	assert.Empty(t, buf.String())
}
