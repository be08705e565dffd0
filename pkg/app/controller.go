// Package app routes selection changes between the session, the scope
// loader, the realtime channel and the store the way the chat page does.
package app

import (
	"context"
	"strings"
	"sync"

	"github.com/mercure-chat/core/errors"
	"github.com/mercure-chat/core/pkg/api"
	"github.com/mercure-chat/core/pkg/models"
	"github.com/mercure-chat/core/pkg/realtime"
	"github.com/mercure-chat/core/pkg/scope"
	"github.com/mercure-chat/core/pkg/session"
	"github.com/mercure-chat/core/pkg/store"
	"github.com/sirupsen/logrus"
)

// Deps are the components a Controller drives.
type Deps struct {
	Session  *session.Manager
	API      *api.Client
	Store    *store.Store
	Loader   *scope.Loader
	Realtime *realtime.Channel
	Logger   *logrus.Entry

	// Closers run on Close after the realtime channel is shut down.
	Closers []func() error
}

// Controller owns one instance of each component.
type Controller struct {
	session  *session.Manager
	api      *api.Client
	store    *store.Store
	loader   *scope.Loader
	realtime *realtime.Channel
	logger   *logrus.Entry
	closers  []func() error

	// mu orders session transitions against the follower's reaction to a
	// cleared session.
	mu sync.Mutex

	events    chan session.Event
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New wires the components and starts following session events.
func New(d Deps) *Controller {
	logger := d.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger()).WithField("component", "app")
	}
	c := &Controller{
		session:  d.Session,
		api:      d.API,
		store:    d.Store,
		loader:   d.Loader,
		realtime: d.Realtime,
		logger:   logger,
		closers:  d.Closers,
		events:   d.Session.Subscribe(),
	}
	c.wg.Add(1)
	go c.followSession()
	return c
}

// followSession keeps the realtime channel in step with the session: a
// cleared session (logout here, in another process, or a failed refresh)
// disconnects for good, and rotated tokens are used by later reconnects.
func (c *Controller) followSession() {
	defer c.wg.Done()
	for ev := range c.events {
		switch ev.Type {
		case session.EventSessionCleared:
			c.logger.Debug("Session cleared")
			c.endSession()
		case session.EventTokensRotated, session.EventSessionSet:
			c.realtime.SetCredentials(ev.Session.Credentials)
		}
	}
}

// endSession tears down realtime and the store unless a new session was set
// after the clear was published.
func (c *Controller) endSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.IsAuthenticated() {
		c.logger.Debug("Session restored, keeping connection")
		return
	}
	c.logger.Info("Session ended, disconnecting")
	c.realtime.Disconnect(true)
	c.store.Reset()
}

// Session returns the session manager.
func (c *Controller) Session() *session.Manager { return c.session }

// API returns the transport.
func (c *Controller) API() *api.Client { return c.api }

// Store returns the domain store.
func (c *Controller) Store() *store.Store { return c.store }

// Loader returns the scope loader.
func (c *Controller) Loader() *scope.Loader { return c.loader }

// Realtime returns the realtime channel.
func (c *Controller) Realtime() *realtime.Channel { return c.realtime }

// Login authenticates and persists the session. The profile is fetched
// separately when the login response carries none. The email is remembered
// for the next login only when remember is set.
func (c *Controller) Login(ctx context.Context, email, password string, remember bool) (models.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return models.User{}, errors.InvalidInput("email and password are required")
	}

	res, err := c.api.Login(ctx, email, password)
	if err != nil {
		return models.User{}, err
	}
	c.mu.Lock()
	err = c.session.SetSession(res.Credentials, res.User)
	c.mu.Unlock()
	if err != nil {
		return models.User{}, err
	}

	if res.User == nil {
		user, err := c.api.AccountInfo(ctx)
		if err != nil {
			c.logger.WithError(err).Warn("Failed to fetch account info after login")
		} else if err := c.session.UpdateUser(user); err != nil {
			c.logger.WithError(err).Warn("Failed to store account info")
		}
	}

	remembered := ""
	if remember {
		remembered = email
	}
	if err := c.session.RememberEmail(remembered); err != nil {
		c.logger.WithError(err).Debug("Failed to store login email")
	}

	if u := c.session.User(); u != nil {
		return *u, nil
	}
	return models.User{Email: email}, nil
}

// Start connects the realtime channel, loads the workspace list and opens
// the active workspace. A failed dial is not fatal: the channel keeps
// retrying on its own.
func (c *Controller) Start(ctx context.Context) error {
	creds := c.session.Credentials()
	if creds.IsZero() {
		return errors.NotLoggedIn()
	}

	if err := c.realtime.Connect(ctx, creds); err != nil {
		c.logger.WithError(err).Warn("Realtime unavailable, will retry")
	}

	if _, err := c.loader.LoadWorkspaces(ctx); err != nil {
		return err
	}
	id := c.store.ActiveWorkspaceID()
	if id == 0 {
		c.logger.Info("No workspace available")
		return nil
	}
	return c.SelectWorkspace(ctx, id)
}

// SelectWorkspace makes id active, loads its scope and presence, then
// selects a thread: the current one when it still belongs to the loaded
// scope, else the first channel, else the first DM, else none.
func (c *Controller) SelectWorkspace(ctx context.Context, id int64) error {
	c.store.SetActiveWorkspace(id)

	res, err := c.loader.LoadWorkspaceScope(ctx, id)
	if err != nil {
		return err
	}
	if res.Stale {
		// Another selection took over while loading.
		return nil
	}

	if err := c.loader.LoadPresence(ctx, id); err != nil {
		c.logger.WithError(err).WithField("workspace_id", id).Warn("Failed to load presence")
	}

	return c.SelectThread(ctx, c.defaultThread())
}

func (c *Controller) defaultThread() models.Thread {
	if current := c.store.ActiveThread(); !current.IsZero() && c.store.HasThread(current) {
		return current
	}
	if channels := c.store.Channels(); len(channels) > 0 {
		return models.ChannelThread(channels[0].ID)
	}
	if dms := c.store.DMs(); len(dms) > 0 {
		return models.DMThread(dms[0].ID)
	}
	return models.Thread{}
}

// SelectThread makes thread active, resubscribes the realtime channel and
// loads its latest messages. A zero thread clears the selection.
func (c *Controller) SelectThread(ctx context.Context, thread models.Thread) error {
	c.store.SetActiveThread(thread)

	if err := c.realtime.SubscribeCurrentThread(); err != nil {
		c.logger.WithError(err).WithField("thread", thread.String()).Warn("Failed to subscribe")
	}

	if _, err := c.loader.LoadMessages(ctx); err != nil {
		return err
	}
	return nil
}

// Send posts content to the active thread and appends the echoed message.
// The websocket echo of the same message is deduplicated by the store.
func (c *Controller) Send(ctx context.Context, content string) (models.Message, error) {
	thread := c.store.ActiveThread()
	if thread.IsZero() {
		return models.Message{}, errors.NoActiveThread()
	}

	msg, err := c.api.SendMessage(ctx, thread, content)
	if err != nil {
		return models.Message{}, err
	}
	msg = c.loader.Enrich(msg)
	c.store.AppendToThread(thread, msg)
	return msg, nil
}

// Logout disconnects for good, then clears the session and the store.
func (c *Controller) Logout() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.realtime.Disconnect(true)
	err := c.session.ClearSession()
	c.store.Reset()
	return err
}

// Close stops the realtime channel and the session follower. The session
// itself is kept.
func (c *Controller) Close() error {
	var firstErr error
	c.closeOnce.Do(func() {
		c.session.Unsubscribe(c.events)
		c.wg.Wait()
		if err := c.realtime.Close(); err != nil {
			firstErr = err
		}
		for _, closeFn := range c.closers {
			if err := closeFn(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}
