// Package realtime keeps the websocket to the messaging backend open,
// subscribes it to the active thread and merges inbound events into the
// domain store.
package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mercure-chat/core/errors"
	"github.com/mercure-chat/core/internal/clock"
	"github.com/mercure-chat/core/pkg/api"
	"github.com/mercure-chat/core/pkg/models"
	"github.com/mercure-chat/core/pkg/store"
	"github.com/sirupsen/logrus"
)

// DefaultURL is the production websocket endpoint.
const DefaultURL = "wss://api.astracode.dev/accounts/messaging/ws"

// DefaultReconnectDelay is the fixed wait before reconnecting after an
// unexpected close.
const DefaultReconnectDelay = 2500 * time.Millisecond

// State is the connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Channel is the single realtime connection of a session.
//
// Every connection attempt gets a new epoch. Read loops, reconnect timers
// and keepalive timers carry the epoch they were started under and do
// nothing once it is superseded, so a replaced or manually closed
// connection can never act on the store or schedule another attempt.
type Channel struct {
	url            string
	dialer         Dialer
	store          *store.Store
	clock          clock.Clock
	reconnectDelay time.Duration
	pingInterval   time.Duration
	enrich         func(models.Message) models.Message
	logger         *logrus.Entry

	mu        sync.Mutex
	state     State
	conn      Conn
	creds     models.Credentials
	manual    bool
	epoch     uint64
	reconnect clock.Timer
	keepalive clock.Timer
	hooks     []func(State)

	writeMu sync.Mutex
	loops   sync.WaitGroup
}

// Option configures a Channel.
type Option func(*Channel)

// WithURL sets the websocket endpoint.
func WithURL(u string) Option {
	return func(c *Channel) { c.url = u }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Channel) { c.dialer = d }
}

// WithClock replaces the clock driving reconnect and keepalive timers.
func WithClock(clk clock.Clock) Option {
	return func(c *Channel) { c.clock = clk }
}

// WithReconnectDelay sets the wait before reconnecting.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.reconnectDelay = d
		}
	}
}

// WithPingInterval enables keepalive pings. Zero disables them.
func WithPingInterval(d time.Duration) Option {
	return func(c *Channel) { c.pingInterval = d }
}

// WithEnricher sets a function applied to every inbound message before it
// reaches the store.
func WithEnricher(fn func(models.Message) models.Message) Option {
	return func(c *Channel) { c.enrich = fn }
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Entry) Option {
	return func(c *Channel) { c.logger = l }
}

// New creates a disconnected Channel feeding st.
func New(st *store.Store, opts ...Option) *Channel {
	c := &Channel{
		url:            DefaultURL,
		dialer:         DefaultDialer,
		store:          st,
		clock:          clock.Real(),
		reconnectDelay: DefaultReconnectDelay,
		logger:         logrus.NewEntry(logrus.StandardLogger()).WithField("component", "realtime"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnStateChange registers fn to be called after every state transition.
// fn runs on the goroutine that caused the transition.
func (c *Channel) OnStateChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

// State returns the connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect replaces any existing connection with a new one authenticated by
// creds, then subscribes to the active thread. A failed dial is treated like
// an unexpected close: a reconnect is scheduled and the error returned.
func (c *Channel) Connect(ctx context.Context, creds models.Credentials) error {
	return c.connect(ctx, creds, nil)
}

// connect dials with creds. A reconnect passes the epoch its timer was armed
// under and gives up when a disconnect superseded it; only an explicit
// Connect (from == nil) lifts a manual disconnect.
func (c *Channel) connect(ctx context.Context, creds models.Credentials, from *uint64) error {
	name, value := creds.QueryParam()
	if name == "" {
		return errors.NotLoggedIn()
	}
	target, err := c.endpoint(name, value)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if from != nil && (c.manual || *from != c.epoch) {
		c.mu.Unlock()
		return nil
	}
	if from == nil {
		c.manual = false
	}
	c.creds = creds
	c.stopTimersLocked()
	c.epoch++
	epoch := c.epoch
	old := c.conn
	c.conn = nil
	changed := c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	c.notify(changed)

	conn, err := c.dialer.Dial(ctx, target)

	c.mu.Lock()
	if epoch != c.epoch {
		// Disconnected or reconnected while dialing.
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return nil
	}
	if err != nil {
		changed = c.setStateLocked(StateDisconnected)
		if !c.manual {
			c.scheduleReconnectLocked()
		}
		c.mu.Unlock()
		c.notify(changed)
		c.logger.WithError(err).Warn("Realtime dial failed")
		return errors.Wrap(err, errors.ErrCodeNetwork, "realtime dial failed")
	}

	c.conn = conn
	changed = c.setStateLocked(StateConnected)
	c.loops.Add(1)
	go c.readLoop(conn, epoch)
	c.scheduleKeepaliveLocked(epoch)
	c.mu.Unlock()

	c.notify(changed)
	c.logger.WithField("auth", name).Info("Realtime connected")
	return c.SubscribeCurrentThread()
}

func (c *Channel) endpoint(name, value string) (string, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid realtime URL")
	}
	q := u.Query()
	q.Set(name, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// SetCredentials replaces the credentials used by later reconnects. The
// open connection, if any, is kept.
func (c *Channel) SetCredentials(creds models.Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !creds.IsZero() {
		c.creds = creds
	}
}

// Disconnect closes the connection. A manual disconnect also cancels any
// pending reconnect and suppresses automatic reconnects until the next
// Connect. Otherwise one reconnect is scheduled as for an unexpected close.
func (c *Channel) Disconnect(manual bool) {
	c.mu.Lock()
	c.stopTimersLocked()
	c.epoch++
	conn := c.conn
	c.conn = nil
	changed := c.setStateLocked(StateDisconnected)
	if manual {
		c.manual = true
	} else if !c.manual && !c.creds.IsZero() {
		c.scheduleReconnectLocked()
	}
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.notify(changed)
	if manual {
		c.logger.Info("Realtime disconnected")
	}
}

// Close disconnects manually and waits for the read loop to exit.
func (c *Channel) Close() error {
	c.Disconnect(true)
	c.loops.Wait()
	return nil
}

// SubscribeCurrentThread tells the server which thread to stream. It does
// nothing when not connected or when no thread is active.
func (c *Channel) SubscribeCurrentThread() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	thread := c.store.ActiveThread()
	if thread.IsZero() {
		return nil
	}
	frame := map[string]interface{}{"type": "subscribe_channel", "channelId": thread.ID}
	if thread.Kind == models.ThreadDM {
		frame = map[string]interface{}{"type": "subscribe_dm", "dmId": thread.ID}
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to encode subscribe frame")
	}

	if err := c.write(conn, websocket.TextMessage, data); err != nil {
		c.logger.WithError(err).WithField("thread", thread.String()).Debug("Subscribe failed")
		return errors.Wrap(err, errors.ErrCodeNotConnected, "failed to send subscribe frame")
	}
	c.logger.WithField("thread", thread.String()).Debug("Subscribed")
	return nil
}

func (c *Channel) write(conn Conn, messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(messageType, data)
}

func (c *Channel) readLoop(conn Conn, epoch uint64) {
	defer c.loops.Done()
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, epoch, err)
			return
		}
		if !c.current(epoch) {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		c.handleFrame(data)
	}
}

func (c *Channel) current(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return epoch == c.epoch
}

func (c *Channel) handleClose(conn Conn, epoch uint64, cause error) {
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	c.epoch++
	c.stopTimersLocked()
	c.conn = nil
	changed := c.setStateLocked(StateDisconnected)
	if !c.manual {
		c.scheduleReconnectLocked()
	}
	c.mu.Unlock()

	_ = conn.Close()
	c.notify(changed)
	c.logger.WithError(cause).Warn("Realtime connection lost")
}

// scheduleReconnectLocked arms exactly one reconnect for the current epoch.
func (c *Channel) scheduleReconnectLocked() {
	if c.reconnect != nil {
		c.reconnect.Stop()
	}
	epoch := c.epoch
	c.reconnect = c.clock.AfterFunc(c.reconnectDelay, func() {
		c.mu.Lock()
		if c.manual || epoch != c.epoch {
			c.mu.Unlock()
			return
		}
		c.reconnect = nil
		creds := c.creds
		c.mu.Unlock()

		c.logger.Debug("Reconnecting")
		_ = c.connect(context.Background(), creds, &epoch)
	})
}

func (c *Channel) scheduleKeepaliveLocked(epoch uint64) {
	if c.pingInterval <= 0 {
		return
	}
	c.keepalive = c.clock.AfterFunc(c.pingInterval, func() {
		c.mu.Lock()
		conn := c.conn
		if epoch != c.epoch || conn == nil {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		var err error
		if cw, ok := conn.(controlWriter); ok {
			err = cw.WriteControl(websocket.PingMessage, nil, c.clock.Now().Add(10*time.Second))
		} else {
			err = c.write(conn, websocket.PingMessage, nil)
		}
		if err != nil {
			c.logger.WithError(err).Debug("Keepalive ping failed")
		}

		c.mu.Lock()
		if epoch == c.epoch {
			c.scheduleKeepaliveLocked(epoch)
		}
		c.mu.Unlock()
	})
}

func (c *Channel) stopTimersLocked() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	if c.keepalive != nil {
		c.keepalive.Stop()
		c.keepalive = nil
	}
}

func (c *Channel) setStateLocked(s State) bool {
	if c.state == s {
		return false
	}
	c.state = s
	return true
}

func (c *Channel) notify(changed bool) {
	if !changed {
		return
	}
	c.mu.Lock()
	s := c.state
	hooks := make([]func(State), len(c.hooks))
	copy(hooks, c.hooks)
	c.mu.Unlock()
	for _, fn := range hooks {
		fn(s)
	}
}

type envelope struct {
	Type  string `json:"type"`
	Event string `json:"event"`
}

type presenceFrame struct {
	WorkspaceID models.FlexInt `json:"workspaceId"`
	UserID      models.FlexInt `json:"userId"`
	Online      bool           `json:"online"`
}

// handleFrame applies one inbound text frame. Frames that are not JSON or
// lack required fields are dropped.
func (c *Channel) handleFrame(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.WithError(err).Debug("Dropping malformed frame")
		return
	}
	kind := models.EventType(env.Type)
	if kind == "" {
		kind = models.EventType(env.Event)
	}
	if kind.IsAck() {
		return
	}

	ev := models.Event{Type: kind, Raw: json.RawMessage(bytes.Clone(data))}

	switch kind {
	case models.EventMessage:
		msg, err := api.DecodeMessage(data)
		if err != nil || msg.ID <= 0 || msg.Content == "" {
			c.logger.Debug("Dropping message frame without id or content")
			return
		}
		if c.enrich != nil {
			msg = c.enrich(msg)
		}
		ev.Message = &msg
		c.store.SetLastEvent(ev)
		if !c.store.AppendToThread(msg.Thread(), msg) {
			c.logger.WithField("message_id", msg.ID).Debug("Ignoring message for inactive thread")
		}

	case models.EventPresence:
		var p presenceFrame
		if err := json.Unmarshal(data, &p); err != nil || p.UserID == 0 {
			c.logger.Debug("Dropping malformed presence frame")
			return
		}
		ev.WorkspaceID, ev.UserID, ev.Online = p.WorkspaceID.Int64(), p.UserID.Int64(), p.Online
		c.store.SetLastEvent(ev)
		if ev.WorkspaceID == c.store.ActiveWorkspaceID() {
			c.store.SetUserOnline(ev.UserID, ev.Online)
		}

	default:
		c.store.SetLastEvent(ev)
	}
}
