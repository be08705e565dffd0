// Package session owns the credentials of the local user. It persists them,
// restores them at startup, and coalesces token refreshes so only one is in
// flight at a time.
package session

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mercure-chat/core/errors"
	"github.com/mercure-chat/core/pkg/avatar"
	"github.com/mercure-chat/core/pkg/models"
	"github.com/mercure-chat/core/state"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Storage keys. They are stable across releases.
const (
	KeyAccessToken  = "mercure.session.access_token"
	KeyRefreshToken = "mercure.session.refresh_token"
	KeyCookie       = "mercure.session.cookie"
	KeyUser         = "mercure.session.user"
	KeyLoginEmail   = "mercure.login.email"
)

var sessionKeys = []string{KeyAccessToken, KeyRefreshToken, KeyCookie, KeyUser}

// EventType identifies a session transition.
type EventType string

const (
	EventSessionSet     EventType = "session_set"
	EventTokensRotated  EventType = "tokens_rotated"
	EventUserUpdated    EventType = "user_updated"
	EventSessionCleared EventType = "session_cleared"
)

// Event is published to subscribers after every transition.
type Event struct {
	Type    EventType
	Session models.Session
}

// RefreshState reports whether a refresh is outstanding.
type RefreshState int

const (
	RefreshIdle RefreshState = iota
	RefreshInFlight
)

func (s RefreshState) String() string {
	if s == RefreshInFlight {
		return "in_flight"
	}
	return "idle"
}

// RefreshFunc exchanges a refresh token for a new credential pair.
type RefreshFunc func(ctx context.Context, refreshToken string) (models.Credentials, error)

// Manager is the single source of truth for the local session.
type Manager struct {
	mu          sync.RWMutex
	storage     state.Storage
	avatars     avatar.Resolver
	logger      *logrus.Entry
	current     models.Session
	subscribers map[chan Event]struct{}

	group    singleflight.Group
	inFlight atomic.Bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithAvatarResolver sets the rules used to normalize profile avatars.
func WithAvatarResolver(r avatar.Resolver) Option {
	return func(m *Manager) { m.avatars = r }
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Entry) Option {
	return func(m *Manager) { m.logger = l }
}

// New creates a Manager backed by storage. Call Restore to load a persisted session.
func New(storage state.Storage, opts ...Option) *Manager {
	m := &Manager{
		storage:     storage,
		avatars:     avatar.Default,
		logger:      logrus.NewEntry(logrus.StandardLogger()).WithField("component", "session"),
		subscribers: make(map[chan Event]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Restore rebuilds the session from storage. It never fails: anything
// missing or unreadable yields the empty session.
func (m *Manager) Restore() models.Session {
	sess := m.readStored()

	m.mu.Lock()
	m.current = sess
	m.mu.Unlock()

	if sess.IsAuthenticated() {
		fields := logrus.Fields{"kind": sess.Credentials.Kind().String()}
		if exp, ok := tokenExpiry(sess.Credentials.AccessToken); ok {
			fields["expires_at"] = exp.Format(time.RFC3339)
		}
		m.logger.WithFields(fields).Debug("Restored session")
	}
	return sess
}

func (m *Manager) readStored() models.Session {
	get := func(key string) string {
		v, _, err := m.storage.Get(key)
		if err != nil {
			m.logger.WithError(err).WithField("key", key).Debug("Failed to read session key")
			return ""
		}
		return v
	}

	creds := models.Credentials{
		AccessToken:  get(KeyAccessToken),
		RefreshToken: get(KeyRefreshToken),
	}
	if creds.AccessToken == "" {
		// Older clients stored a single opaque cookie.
		creds = models.Credentials{Cookie: get(KeyCookie)}
	}
	if creds.IsZero() {
		return models.Session{}
	}

	sess := models.Session{Credentials: creds}
	if raw := get(KeyUser); raw != "" && raw != "null" {
		var user models.User
		if err := json.Unmarshal([]byte(raw), &user); err != nil {
			m.logger.WithError(err).Debug("Discarding session with unreadable user")
			return models.Session{}
		}
		sess.User = &user
	}
	return sess
}

// Reload re-reads storage after another process changed it. A transition to
// or from the empty session is published like a local one.
func (m *Manager) Reload() {
	sess := m.readStored()

	m.mu.Lock()
	prev := m.current
	m.current = sess
	m.mu.Unlock()

	switch {
	case prev.IsAuthenticated() && !sess.IsAuthenticated():
		m.logger.Info("Session cleared by another process")
		m.publish(Event{Type: EventSessionCleared})
	case prev.Credentials != sess.Credentials && sess.IsAuthenticated():
		m.logger.Debug("Session changed by another process")
		m.publish(Event{Type: EventSessionSet, Session: sess})
	}
}

// SetSession persists and publishes a new authenticated identity.
func (m *Manager) SetSession(creds models.Credentials, user *models.User) error {
	if creds.IsZero() {
		return errors.InvalidInput("session requires a credential")
	}
	// Exactly one credential shape is kept.
	if creds.Kind() == models.CredentialToken {
		creds.Cookie = ""
	} else {
		creds.AccessToken, creds.RefreshToken = "", ""
	}
	user = m.normalizeUser(user)

	userJSON := "null"
	if user != nil {
		data, err := json.Marshal(user)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to encode user")
		}
		userJSON = string(data)
	}

	if err := m.storage.SetMany(map[string]string{
		KeyAccessToken:  creds.AccessToken,
		KeyRefreshToken: creds.RefreshToken,
		KeyCookie:       creds.Cookie,
		KeyUser:         userJSON,
	}); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to persist session")
	}

	sess := models.Session{Credentials: creds, User: user}
	m.mu.Lock()
	m.current = sess
	m.mu.Unlock()

	m.logger.WithField("kind", creds.Kind().String()).Info("Session established")
	m.publish(Event{Type: EventSessionSet, Session: sess})
	return nil
}

// SetTokens rotates the credential pair and keeps the cached user.
func (m *Manager) SetTokens(access, refresh string) error {
	if access == "" {
		return errors.InvalidInput("access token is required")
	}
	if err := m.storage.SetMany(map[string]string{
		KeyAccessToken:  access,
		KeyRefreshToken: refresh,
		KeyCookie:       "",
	}); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to persist tokens")
	}

	m.mu.Lock()
	m.current.Credentials = models.Credentials{AccessToken: access, RefreshToken: refresh}
	sess := m.current
	m.mu.Unlock()

	m.publish(Event{Type: EventTokensRotated, Session: sess})
	return nil
}

// UpdateUser replaces the cached profile without touching credentials.
func (m *Manager) UpdateUser(user models.User) error {
	u := m.normalizeUser(&user)
	data, err := json.Marshal(u)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to encode user")
	}
	if err := m.storage.Set(KeyUser, string(data)); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to persist user")
	}

	m.mu.Lock()
	m.current.User = u
	sess := m.current
	m.mu.Unlock()

	m.publish(Event{Type: EventUserUpdated, Session: sess})
	return nil
}

// ClearSession wipes persisted and in-memory credentials.
func (m *Manager) ClearSession() error {
	m.mu.Lock()
	m.current = models.Session{}
	m.mu.Unlock()

	err := m.storage.Delete(sessionKeys...)
	if err != nil {
		err = errors.Wrap(err, errors.ErrCodeInternal, "failed to clear persisted session")
	}

	m.logger.Info("Session cleared")
	m.publish(Event{Type: EventSessionCleared})
	return err
}

func (m *Manager) normalizeUser(user *models.User) *models.User {
	if user == nil {
		return nil
	}
	u := *user
	u.Avatar = m.avatars.Resolve(u.Avatar)
	return &u
}

// Current returns a copy of the session.
func (m *Manager) Current() models.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess := m.current
	if sess.User != nil {
		u := *sess.User
		sess.User = &u
	}
	return sess
}

// Credentials returns the current credentials.
func (m *Manager) Credentials() models.Credentials {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Credentials
}

// User returns a copy of the cached profile, or nil.
func (m *Manager) User() *models.User {
	return m.Current().User
}

// IsAuthenticated reports whether a credential is held.
func (m *Manager) IsAuthenticated() bool {
	return !m.Credentials().IsZero()
}

// ExpiresAt returns the expiry claimed by the access token. The token is
// not verified; the backend remains the authority.
func (m *Manager) ExpiresAt() (time.Time, bool) {
	return tokenExpiry(m.Credentials().AccessToken)
}

func tokenExpiry(token string) (time.Time, bool) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, false
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// State reports whether a refresh is outstanding.
func (m *Manager) State() RefreshState {
	if m.inFlight.Load() {
		return RefreshInFlight
	}
	return RefreshIdle
}

// Refresh obtains new credentials after a request authenticated with stale
// was rejected. Concurrent callers share one call to fn. When the current
// access token already differs from stale, another caller has refreshed and
// the current credentials are returned without calling fn.
//
// A missing refresh token or a failed refresh clears the session.
func (m *Manager) Refresh(ctx context.Context, stale string, fn RefreshFunc) (models.Credentials, error) {
	if creds := m.Credentials(); !creds.IsZero() && creds.Bearer() != stale {
		return creds, nil
	}

	v, err, shared := m.group.Do("refresh", func() (interface{}, error) {
		m.inFlight.Store(true)
		defer m.inFlight.Store(false)

		// Re-check under the group: a flight that finished just before this
		// one started may already have rotated the pair.
		creds := m.Credentials()
		if !creds.IsZero() && creds.Bearer() != stale {
			return creds, nil
		}
		if creds.RefreshToken == "" {
			_ = m.ClearSession()
			return nil, errors.SessionExpired("no refresh token")
		}

		m.logger.Debug("Refreshing access token")
		fresh, err := fn(ctx, creds.RefreshToken)
		if err == nil && fresh.AccessToken == "" {
			err = errors.New(errors.ErrCodeDecode, "refresh response carried no access token")
		}
		if err != nil {
			m.logger.WithError(err).Warn("Token refresh failed")
			_ = m.ClearSession()
			return nil, errors.Wrap(err, errors.ErrCodeSessionExpired, "session expired: refresh failed")
		}

		if fresh.RefreshToken == "" {
			fresh.RefreshToken = creds.RefreshToken
		}
		if err := m.SetTokens(fresh.AccessToken, fresh.RefreshToken); err != nil {
			return nil, err
		}
		return m.Credentials(), nil
	})
	if err != nil {
		return models.Credentials{}, err
	}
	if shared {
		m.logger.Debug("Joined in-flight token refresh")
	}
	return v.(models.Credentials), nil
}

// RememberEmail stores the login email for the next login form. An empty
// email forgets it.
func (m *Manager) RememberEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return m.storage.Delete(KeyLoginEmail)
	}
	return m.storage.Set(KeyLoginEmail, email)
}

// RememberedEmail returns the stored login email, or "".
func (m *Manager) RememberedEmail() string {
	v, _, err := m.storage.Get(KeyLoginEmail)
	if err != nil {
		return ""
	}
	return v
}

// Subscribe creates a new subscription channel for session events.
func (m *Manager) Subscribe() chan Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan Event, 16)
	m.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (m *Manager) Unsubscribe(ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscribers[ch]; !ok {
		return
	}
	delete(m.subscribers, ch)
	close(ch)
}

func (m *Manager) publish(ev Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for ch := range m.subscribers {
		select {
		case ch <- ev:
		default:
			// Slow subscribers miss events rather than stall the session.
		}
	}
}
