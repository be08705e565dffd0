package realtime

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mercure-chat/core/errors"
	"github.com/mercure-chat/core/internal/clock"
	"github.com/mercure-chat/core/pkg/models"
	"github.com/mercure-chat/core/pkg/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type frame struct {
	messageType int
	data        []byte
}

type fakeConn struct {
	inbox     chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written []frame
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbox: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.inbox:
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, io.EOF
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.closed:
		return websocket.ErrCloseSent
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, frame{messageType, append([]byte(nil), data...)})
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) frames(messageType int) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, f := range c.written {
		if f.messageType == messageType {
			out = append(out, string(f.data))
		}
	}
	return out
}

func (c *fakeConn) send(t *testing.T, v interface{}) {
	t.Helper()
	data, ok := v.(string)
	if !ok {
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		data = string(raw)
	}
	c.inbox <- []byte(data)
}

type fakeDialer struct {
	mu    sync.Mutex
	urls  []string
	conns []*fakeConn
	err   error
}

func (d *fakeDialer) Dial(_ context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if d.err != nil {
		return nil, d.err
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

var tokenCreds = models.Credentials{AccessToken: "a b", RefreshToken: "r"}

func setup(t *testing.T, opts ...Option) (*Channel, *store.Store, *fakeDialer, *clock.FakeClock) {
	t.Helper()
	st := store.New()
	dialer := &fakeDialer{}
	clk := clock.Fake(time.Unix(0, 0))
	opts = append([]Option{WithDialer(dialer), WithClock(clk), WithURL("wss://example.org/ws")}, opts...)
	ch := New(st, opts...)
	// Cleanups run last-in first-out: Close, then the leak check.
	ignore := goleak.IgnoreCurrent()
	t.Cleanup(func() { goleak.VerifyNone(t, ignore) })
	t.Cleanup(func() { _ = ch.Close() })
	return ch, st, dialer, clk
}

func TestConnectSubscribesActiveThread(t *testing.T) {
	ch, st, dialer, _ := setup(t)
	st.SetActiveThread(models.ChannelThread(5))

	var mu sync.Mutex
	var states []State
	ch.OnStateChange(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
	})

	require.NoError(t, ch.Connect(context.Background(), tokenCreds))
	assert.Equal(t, StateConnected, ch.State())
	assert.Equal(t, []string{"wss://example.org/ws?token=a+b"}, dialer.urls)
	assert.Equal(t, []string{`{"channelId":5,"type":"subscribe_channel"}`}, dialer.last().frames(websocket.TextMessage))

	st.SetActiveThread(models.DMThread(8))
	require.NoError(t, ch.SubscribeCurrentThread())
	assert.Contains(t, dialer.last().frames(websocket.TextMessage), `{"dmId":8,"type":"subscribe_dm"}`)

	require.NoError(t, ch.Close())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateConnecting, StateConnected, StateDisconnected}, states)
}

func TestConnectLegacyCookie(t *testing.T) {
	ch, _, dialer, _ := setup(t)

	require.NoError(t, ch.Connect(context.Background(), models.Credentials{Cookie: "c=1"}))
	assert.Equal(t, []string{"wss://example.org/ws?cookie=c%3D1"}, dialer.urls)
	assert.Empty(t, dialer.last().frames(websocket.TextMessage), "no thread, no subscribe")
	require.NoError(t, ch.Close())
}

func TestConnectRequiresCredentials(t *testing.T) {
	ch, _, dialer, _ := setup(t)
	err := ch.Connect(context.Background(), models.Credentials{})
	assert.True(t, errors.Is(err, errors.ErrCodeNotLoggedIn))
	assert.Zero(t, dialer.dials())
}

func TestSubscribeWhenDisconnectedIsNoop(t *testing.T) {
	ch, st, _, _ := setup(t)
	st.SetActiveThread(models.ChannelThread(1))
	assert.NoError(t, ch.SubscribeCurrentThread())
}

func TestInboundMessages(t *testing.T) {
	ch, st, dialer, _ := setup(t)
	st.SetActiveThread(models.ChannelThread(1))
	require.NoError(t, ch.Connect(context.Background(), tokenCreds))
	conn := dialer.last()

	conn.send(t, map[string]interface{}{"type": "ws_ready"})
	conn.send(t, map[string]interface{}{"event": "subscribed"})
	conn.send(t, "{not json")
	conn.send(t, map[string]interface{}{"type": "message", "message": map[string]interface{}{"id": 0, "channelId": 1, "content": "no id"}})
	conn.send(t, map[string]interface{}{"type": "message", "id": 4, "channelId": 1, "content": ""})
	conn.send(t, map[string]interface{}{"type": "message", "id": -3, "channelId": 1, "content": "negative"})
	conn.send(t, map[string]interface{}{"type": "message", "message": map[string]interface{}{"id": 7, "channelId": 2, "content": "other channel"}})
	conn.send(t, map[string]interface{}{"type": "message", "message": map[string]interface{}{"id": 9, "dmId": 1, "content": "dm with same id"}})
	conn.send(t, map[string]interface{}{"event": "message", "id": "3", "channelId": "1", "content": "flat"})
	conn.send(t, map[string]interface{}{"type": "message", "message": map[string]interface{}{"id": 2, "channelId": 1, "content": "wrapped"}})
	conn.send(t, map[string]interface{}{"type": "message", "message": map[string]interface{}{"id": 3, "channelId": 1, "content": "duplicate"}})
	conn.send(t, map[string]interface{}{"type": "message", "message": map[string]interface{}{"id": 5, "channelId": 1, "content": "last"}})

	require.Eventually(t, func() bool { return len(st.Messages()) == 3 && st.Messages()[2].ID == 5 }, time.Second, time.Millisecond)

	msgs := st.Messages()
	assert.Equal(t, []int64{2, 3, 5}, []int64{msgs[0].ID, msgs[1].ID, msgs[2].ID})
	assert.Equal(t, "flat", msgs[1].Content, "first delivery wins")
	assert.Equal(t, StateConnected, ch.State(), "malformed frames keep the connection")

	ev, ok := st.LastEvent()
	require.True(t, ok)
	assert.Equal(t, models.EventMessage, ev.Type)
	require.NotNil(t, ev.Message)
	assert.Equal(t, int64(5), ev.Message.ID)
	require.NoError(t, ch.Close())
}

func TestEnricherRunsBeforeStore(t *testing.T) {
	ch, st, dialer, _ := setup(t, WithEnricher(func(m models.Message) models.Message {
		m.SenderUsername = "enriched"
		return m
	}))
	st.SetActiveThread(models.DMThread(4))
	require.NoError(t, ch.Connect(context.Background(), tokenCreds))

	dialer.last().send(t, map[string]interface{}{"type": "message", "id": 1, "dmId": 4, "content": "hi"})
	require.Eventually(t, func() bool { return len(st.Messages()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "enriched", st.Messages()[0].SenderUsername)
	require.NoError(t, ch.Close())
}

func TestPresenceForActiveWorkspaceOnly(t *testing.T) {
	ch, st, dialer, _ := setup(t)
	st.SetActiveWorkspace(1)
	st.SetOnlineUserIDs([]int64{3})
	require.NoError(t, ch.Connect(context.Background(), tokenCreds))
	conn := dialer.last()

	conn.send(t, map[string]interface{}{"type": "presence", "workspaceId": 2, "userId": 7, "online": true})
	conn.send(t, map[string]interface{}{"type": "presence", "workspaceId": 1, "userId": 3, "online": false})
	conn.send(t, map[string]interface{}{"type": "presence", "workspaceId": "1", "userId": 4, "online": true})

	require.Eventually(t, func() bool { return st.IsOnline(4) }, time.Second, time.Millisecond)
	assert.Equal(t, []int64{4}, st.OnlineUserIDs())

	ev, ok := st.LastEvent()
	require.True(t, ok)
	assert.Equal(t, models.EventPresence, ev.Type)
	assert.Equal(t, int64(4), ev.UserID)
	assert.True(t, ev.Online)
	require.NoError(t, ch.Close())
}

func TestUnknownEventsAreRecorded(t *testing.T) {
	ch, st, dialer, _ := setup(t)
	require.NoError(t, ch.Connect(context.Background(), tokenCreds))

	dialer.last().send(t, map[string]interface{}{"type": "typing", "userId": 2})
	require.Eventually(t, func() bool {
		ev, ok := st.LastEvent()
		return ok && ev.Type == "typing"
	}, time.Second, time.Millisecond)

	ev, _ := st.LastEvent()
	assert.JSONEq(t, `{"type":"typing","userId":2}`, string(ev.Raw))
	require.NoError(t, ch.Close())
}

func TestUnexpectedCloseReconnectsOnce(t *testing.T) {
	ch, st, dialer, clk := setup(t)
	st.SetActiveThread(models.ChannelThread(1))
	require.NoError(t, ch.Connect(context.Background(), tokenCreds))

	// Server drops the socket.
	require.NoError(t, dialer.last().Close())
	require.Eventually(t, func() bool { return ch.State() == StateDisconnected }, time.Second, time.Millisecond)
	assert.Equal(t, 1, clk.Pending())

	clk.Advance(DefaultReconnectDelay - time.Millisecond)
	assert.Equal(t, 1, dialer.dials())

	clk.Advance(time.Millisecond)
	assert.Equal(t, 2, dialer.dials())
	assert.Equal(t, StateConnected, ch.State())
	assert.Equal(t, dialer.urls[0], dialer.urls[1], "same credentials")
	assert.Len(t, dialer.last().frames(websocket.TextMessage), 1, "resubscribed on reconnect")
	assert.Zero(t, clk.Pending())
	require.NoError(t, ch.Close())
}

func TestManualDisconnectCancelsPendingReconnect(t *testing.T) {
	ch, _, dialer, clk := setup(t)
	require.NoError(t, ch.Connect(context.Background(), tokenCreds))

	require.NoError(t, dialer.last().Close())
	require.Eventually(t, func() bool { return clk.Pending() == 1 }, time.Second, time.Millisecond)

	ch.Disconnect(true)
	assert.Zero(t, clk.Pending())

	clk.Advance(time.Hour)
	assert.Equal(t, 1, dialer.dials(), "no reconnect after manual disconnect")
	assert.Equal(t, StateDisconnected, ch.State())
}

// onMessage runs fn when an entry with the given message is logged.
type onMessage struct {
	msg string
	fn  func()
}

func (h onMessage) Levels() []logrus.Level { return logrus.AllLevels }

func (h onMessage) Fire(e *logrus.Entry) error {
	if e.Message == h.msg {
		h.fn()
	}
	return nil
}

func TestManualDisconnectDuringReconnectWins(t *testing.T) {
	var ch *Channel
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.DebugLevel)
	// Logout lands after the timer fired but before it dialed.
	logger.AddHook(onMessage{msg: "Reconnecting", fn: func() { ch.Disconnect(true) }})

	ch, _, dialer, clk := setup(t, WithLogger(logrus.NewEntry(logger)))
	require.NoError(t, ch.Connect(context.Background(), tokenCreds))

	require.NoError(t, dialer.last().Close())
	require.Eventually(t, func() bool { return clk.Pending() == 1 }, time.Second, time.Millisecond)

	clk.Advance(DefaultReconnectDelay)
	assert.Equal(t, 1, dialer.dials(), "no socket after manual disconnect")
	assert.Equal(t, StateDisconnected, ch.State())
	assert.Zero(t, clk.Pending())

	clk.Advance(time.Hour)
	assert.Equal(t, 1, dialer.dials())
}

func TestManualDisconnectWhileConnected(t *testing.T) {
	ch, _, dialer, clk := setup(t)
	require.NoError(t, ch.Connect(context.Background(), tokenCreds))
	conn := dialer.last()

	ch.Disconnect(true)
	assert.True(t, conn.isClosed())

	clk.Advance(time.Hour)
	assert.Equal(t, 1, dialer.dials())
	require.NoError(t, ch.Close())
}

func TestAutomaticDisconnectSchedulesReconnect(t *testing.T) {
	ch, _, dialer, clk := setup(t, WithReconnectDelay(time.Second))
	require.NoError(t, ch.Connect(context.Background(), tokenCreds))

	ch.Disconnect(false)
	assert.Equal(t, 1, clk.Pending())
	clk.Advance(time.Second)
	assert.Equal(t, 2, dialer.dials())
	require.NoError(t, ch.Close())
}

func TestDialFailureSchedulesReconnect(t *testing.T) {
	ch, _, dialer, clk := setup(t)
	dialer.setErr(stderrors.New("refused"))

	err := ch.Connect(context.Background(), tokenCreds)
	assert.True(t, errors.Is(err, errors.ErrCodeNetwork))
	assert.Equal(t, StateDisconnected, ch.State())
	assert.Equal(t, 1, clk.Pending())

	// Still failing: exactly one more attempt is scheduled each time.
	clk.Advance(DefaultReconnectDelay)
	assert.Equal(t, 2, dialer.dials())
	assert.Equal(t, 1, clk.Pending())

	dialer.setErr(nil)
	clk.Advance(DefaultReconnectDelay)
	assert.Equal(t, 3, dialer.dials())
	assert.Equal(t, StateConnected, ch.State())
	require.NoError(t, ch.Close())
}

func TestReconnectClosesPreviousSocket(t *testing.T) {
	ch, st, dialer, clk := setup(t)
	st.SetActiveThread(models.ChannelThread(1))
	require.NoError(t, ch.Connect(context.Background(), tokenCreds))
	first := dialer.last()

	require.NoError(t, ch.Connect(context.Background(), tokenCreds))
	second := dialer.last()
	assert.True(t, first.isClosed())
	assert.False(t, second.isClosed())

	// The superseded read loop neither reconnects nor applies frames.
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, clk.Pending())
	assert.Equal(t, StateConnected, ch.State())

	second.send(t, map[string]interface{}{"type": "message", "id": 1, "channelId": 1, "content": "x"})
	require.Eventually(t, func() bool { return len(st.Messages()) == 1 }, time.Second, time.Millisecond)
	require.NoError(t, ch.Close())
}

func TestKeepalivePing(t *testing.T) {
	ch, _, dialer, clk := setup(t, WithPingInterval(30*time.Second))
	require.NoError(t, ch.Connect(context.Background(), tokenCreds))
	conn := dialer.last()

	clk.Advance(30 * time.Second)
	clk.Advance(30 * time.Second)
	assert.Len(t, conn.frames(websocket.PingMessage), 2)

	require.NoError(t, ch.Close())
	assert.Zero(t, clk.Pending(), "keepalive stopped with the connection")
}

func TestEndpointKeepsExistingQuery(t *testing.T) {
	ch := New(store.New(), WithURL("wss://example.org/ws?v=2"))
	got, err := ch.endpoint("token", "t")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "wss://example.org/ws?"))
	assert.Contains(t, got, "v=2")
	assert.Contains(t, got, "token=t")
}

func TestReconnectUsesRotatedCredentials(t *testing.T) {
	ch, _, dialer, clk := setup(t)
	require.NoError(t, ch.Connect(context.Background(), tokenCreds))

	ch.SetCredentials(models.Credentials{AccessToken: "fresh", RefreshToken: "r2"})
	ch.SetCredentials(models.Credentials{})
	require.NoError(t, dialer.last().Close())
	require.Eventually(t, func() bool { return clk.Pending() == 1 }, time.Second, time.Millisecond)

	clk.Advance(DefaultReconnectDelay)
	require.Equal(t, 2, dialer.dials())
	assert.Equal(t, "wss://example.org/ws?token=fresh", dialer.urls[1])
	require.NoError(t, ch.Close())
}
