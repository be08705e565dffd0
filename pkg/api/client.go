// Package api is the HTTP transport to the chat backend. Authenticated calls
// carry the session credential and recover from one 401 by refreshing it.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mercure-chat/core/errors"
	"github.com/mercure-chat/core/pkg/models"
	"github.com/mercure-chat/core/pkg/session"
	"github.com/sirupsen/logrus"
)

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "X-Request-ID"

// Endpoints locates the backend namespaces.
type Endpoints struct {
	BaseURL       string
	AccountsPath  string
	MessagingPath string
	ProfilePath   string
}

// DefaultEndpoints returns the production backend.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		BaseURL:       "https://api.astracode.dev",
		AccountsPath:  "/accounts",
		MessagingPath: "/accounts/messaging",
		ProfilePath:   "/accounts/profile",
	}
}

// Response is the raw outcome of an authenticated call.
type Response struct {
	Status    int
	Body      []byte
	RequestID string
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// Decode unmarshals the body into out.
func (r *Response) Decode(out interface{}) error {
	if out == nil || len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, out)
}

// Client issues JSON requests against the backend.
type Client struct {
	httpClient *http.Client
	endpoints  Endpoints
	session    *session.Manager
	userAgent  string
	logger     *logrus.Entry
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Entry) Option {
	return func(c *Client) { c.logger = l }
}

// WithUserAgent sets the User-Agent header of every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// New creates a Client. sess supplies and refreshes credentials for
// authenticated calls and may be nil for a client that only logs in.
func New(endpoints Endpoints, sess *session.Manager, opts ...Option) *Client {
	endpoints.BaseURL = strings.TrimRight(endpoints.BaseURL, "/")
	c := &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		endpoints:  endpoints,
		session:    sess,
		logger:     logrus.NewEntry(logrus.StandardLogger()).WithField("component", "api"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoints returns the configured backend locations.
func (c *Client) Endpoints() Endpoints {
	return c.endpoints
}

// payload produces a request body. It is called once per attempt so a
// retried request gets a fresh reader.
type payload func(creds models.Credentials) (io.Reader, string, error)

func jsonPayload(body interface{}) payload {
	return func(creds models.Credentials) (io.Reader, string, error) {
		b := body
		if creds.Kind() == models.CredentialLegacy {
			b = withCookie(b, creds.Cookie)
		}
		if b == nil {
			return nil, "", nil
		}
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(data), "application/json", nil
	}
}

// withCookie adds the legacy cookie field older backends read from the body.
func withCookie(body interface{}, cookie string) interface{} {
	switch b := body.(type) {
	case nil:
		return map[string]interface{}{"cookie": cookie}
	case map[string]interface{}:
		out := make(map[string]interface{}, len(b)+1)
		for k, v := range b {
			out[k] = v
		}
		out["cookie"] = cookie
		return out
	default:
		return body
	}
}

// Request performs an unauthenticated JSON call. A non-2xx status is
// returned as a *errors.MercureError carrying the status.
func (c *Client) Request(ctx context.Context, method, path string, body, out interface{}) error {
	resp, err := c.do(ctx, method, path, jsonPayload(body), models.Credentials{})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return statusError(resp)
	}
	if err := resp.Decode(out); err != nil {
		return errors.DecodeFailure(path, err)
	}
	return nil
}

// AuthenticatedRequest performs a JSON call with the session credential.
//
// On a 401 the session is refreshed once and the call retried once with the
// new credential. When the refresh fails the original 401 response is
// returned with a nil error and the session has been cleared. Any other
// non-2xx status is returned as an error alongside the response.
func (c *Client) AuthenticatedRequest(ctx context.Context, method, path string, body, out interface{}) (*Response, error) {
	return c.authenticated(ctx, method, path, jsonPayload(body), out)
}

func (c *Client) authenticated(ctx context.Context, method, path string, body payload, out interface{}) (*Response, error) {
	if c.session == nil {
		return nil, errors.NotLoggedIn()
	}
	creds := c.session.Credentials()
	if creds.IsZero() {
		return nil, errors.NotLoggedIn()
	}

	resp, err := c.do(ctx, method, path, body, creds)
	if err != nil {
		return nil, err
	}

	if resp.Status == http.StatusUnauthorized {
		fresh, rerr := c.session.Refresh(ctx, creds.Bearer(), c.RefreshTokens)
		if rerr != nil {
			c.logger.WithError(rerr).WithField("path", path).Warn("Refresh after 401 failed")
			return resp, nil
		}

		c.logger.WithField("path", path).Debug("Retrying after token refresh")
		resp, err = c.do(ctx, method, path, body, fresh)
		if err != nil {
			return nil, err
		}
	}

	if !resp.OK() {
		return resp, statusError(resp)
	}
	if err := resp.Decode(out); err != nil {
		return resp, errors.DecodeFailure(path, err)
	}
	return resp, nil
}

// post is the typed-endpoint helper: an authenticated POST whose 401 after a
// failed refresh is reported as an error.
func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	resp, err := c.AuthenticatedRequest(ctx, http.MethodPost, path, body, out)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return statusError(resp)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body payload, creds models.Credentials) (*Response, error) {
	reader, contentType, err := body(creds)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidInput, "failed to encode request body").
			WithDetail("path", path)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoints.BaseURL+path, reader)
	if err != nil {
		return nil, errors.NetworkFailure(method, path, err)
	}

	requestID := uuid.NewString()
	req.Header.Set(RequestIDHeader, requestID)
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if bearer := creds.Bearer(); bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	start := time.Now()
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NetworkFailure(method, path, err).WithDetail("request_id", requestID)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.NetworkFailure(method, path, err).WithDetail("request_id", requestID)
	}

	c.logger.WithFields(logrus.Fields{
		"method":     method,
		"path":       path,
		"status":     res.StatusCode,
		"request_id": requestID,
		"duration":   time.Since(start).Round(time.Millisecond),
	}).Debug("HTTP request")

	return &Response{Status: res.StatusCode, Body: data, RequestID: requestID}, nil
}

// statusError builds the transport error for a non-2xx response. The
// message comes from the JSON "message" field, then "detail".
func statusError(resp *Response) error {
	var body struct {
		Message interface{} `json:"message"`
		Detail  interface{} `json:"detail"`
	}
	message := ""
	if err := json.Unmarshal(resp.Body, &body); err == nil {
		if s, ok := body.Message.(string); ok && s != "" {
			message = s
		} else if s, ok := body.Detail.(string); ok && s != "" {
			message = s
		}
	}
	return errors.HTTPStatus(resp.Status, message).WithDetail("request_id", resp.RequestID)
}

func (c *Client) accounts(path string) string {
	return c.endpoints.AccountsPath + path
}

func (c *Client) messaging(path string) string {
	return c.endpoints.MessagingPath + path
}

func (c *Client) profile(path string) string {
	return c.endpoints.ProfilePath + path
}
