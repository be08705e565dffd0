package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/mercure-chat/core/pkg/api"
	"github.com/mercure-chat/core/pkg/models"
)

// Password is the only password the fake backend accepts.
const Password = "correct horse"

// Backend is an in-memory chat backend served over httptest. It speaks the
// accounts, messaging and websocket protocols closely enough for end-to-end
// tests of the client packages.
type Backend struct {
	server *httptest.Server

	mu           sync.Mutex
	user         models.User
	accessToken  string
	refreshToken string
	rotation     int
	refreshes    int
	workspaces   []models.Workspace
	channels     []models.Channel
	dms          []models.DM
	members      map[int64][]models.Member
	online       map[int64][]int64
	messages     []models.Message
	nextID       int64
	sockets      map[*socket]struct{}
	dials        int
	frames       []string

	upgrader websocket.Upgrader
}

type socket struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	thread models.Thread
}

func (s *socket) send(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// NewBackend starts a fake backend whose user is ada@example.org. It is
// closed when the test ends.
func NewBackend(t *testing.T) *Backend {
	t.Helper()
	b := &Backend{
		user:         models.User{ID: 1, Prenom: "Ada", Nom: "Lovelace", Email: "ada@example.org", Username: "ada"},
		accessToken:  "access-0",
		refreshToken: "refresh-0",
		members:      make(map[int64][]models.Member),
		online:       make(map[int64][]int64),
		sockets:      make(map[*socket]struct{}),
		nextID:       1000,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/accounts/login", b.handleLogin)
	mux.HandleFunc("/accounts/refresh", b.handleRefresh)
	mux.HandleFunc("/accounts/account-info", b.authed(b.handleAccountInfo))
	mux.HandleFunc("/accounts/check", b.authed(func(w http.ResponseWriter, _ map[string]interface{}) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"valid": true})
	}))
	mux.HandleFunc("/accounts/users-info", b.authed(b.handleUsersInfo))
	mux.HandleFunc("/accounts/messaging/workspaces/list", b.authed(b.handleWorkspaces))
	mux.HandleFunc("/accounts/messaging/workspaces/members/list", b.authed(b.handleMembers))
	mux.HandleFunc("/accounts/messaging/workspaces/members/online", b.authed(b.handleOnline))
	mux.HandleFunc("/accounts/messaging/channels/list", b.authed(b.handleChannels))
	mux.HandleFunc("/accounts/messaging/channels/create", b.authed(b.handleCreateChannel))
	mux.HandleFunc("/accounts/messaging/dms/list", b.authed(b.handleDMs))
	mux.HandleFunc("/accounts/messaging/messages/list", b.authed(b.handleMessages))
	mux.HandleFunc("/accounts/messaging/messages/send", b.authed(b.handleSend))
	mux.HandleFunc("/accounts/messaging/ws", b.handleSocket)

	b.server = httptest.NewServer(mux)
	t.Cleanup(b.Close)
	return b
}

// Close drops every socket and stops the server.
func (b *Backend) Close() {
	b.DropConnections()
	b.server.Close()
}

// URL is the HTTP base URL.
func (b *Backend) URL() string { return b.server.URL }

// WSURL is the websocket endpoint.
func (b *Backend) WSURL() string {
	return "ws" + strings.TrimPrefix(b.server.URL, "http") + "/accounts/messaging/ws"
}

// Endpoints points an api.Client at the backend.
func (b *Backend) Endpoints() api.Endpoints {
	e := api.DefaultEndpoints()
	e.BaseURL = b.server.URL
	return e
}

// User returns the backend's account.
func (b *Backend) User() models.User {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.user
}

// Tokens returns the currently valid access and refresh tokens.
func (b *Backend) Tokens() (string, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.accessToken, b.refreshToken
}

// ExpireAccessToken invalidates the current access token so the next
// authenticated call gets a 401.
func (b *Backend) ExpireAccessToken() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accessToken = fmt.Sprintf("expired-%d", b.rotation)
}

// RevokeRefreshToken makes the next refresh fail.
func (b *Backend) RevokeRefreshToken() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshToken = "revoked"
}

// Refreshes counts successful and failed refresh calls.
func (b *Backend) Refreshes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refreshes
}

// AddWorkspace registers a workspace with the user as admin member.
func (b *Backend) AddWorkspace(ws models.Workspace) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.workspaces = append(b.workspaces, ws)
	b.members[ws.ID] = append(b.members[ws.ID], models.Member{
		ID: b.user.ID, Username: b.user.Username, Email: b.user.Email, Role: models.RoleAdmin,
	})
}

// AddMember adds a member to a workspace.
func (b *Backend) AddMember(workspaceID int64, m models.Member) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.members[workspaceID] = append(b.members[workspaceID], m)
}

// AddChannel adds a channel.
func (b *Backend) AddChannel(ch models.Channel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels = append(b.channels, ch)
}

// AddDM adds a DM thread.
func (b *Backend) AddDM(dm models.DM) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dms = append(b.dms, dm)
}

// AddMessage stores a message without broadcasting it.
func (b *Backend) AddMessage(msg models.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, msg)
}

// SetOnline sets the online members of a workspace.
func (b *Backend) SetOnline(workspaceID int64, ids ...int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.online[workspaceID] = ids
}

// Channels returns the channels of a workspace.
func (b *Backend) Channels(workspaceID int64) []models.Channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.Channel
	for _, ch := range b.channels {
		if ch.WorkspaceID == workspaceID {
			out = append(out, ch)
		}
	}
	return out
}

// Dials counts accepted websocket connections.
func (b *Backend) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// Connections counts open websocket connections.
func (b *Backend) Connections() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sockets)
}

// Frames returns the raw frames clients sent over the websocket.
func (b *Backend) Frames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.frames...)
}

// Push sends v to every open websocket.
func (b *Backend) Push(v interface{}) {
	for _, s := range b.openSockets() {
		_ = s.send(v)
	}
}

// DropConnections closes every websocket from the server side.
func (b *Backend) DropConnections() {
	for _, s := range b.openSockets() {
		_ = s.conn.Close()
	}
}

func (b *Backend) openSockets() []*socket {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*socket, 0, len(b.sockets))
	for s := range b.sockets {
		out = append(out, s)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request) map[string]interface{} {
	body := map[string]interface{}{}
	_ = json.NewDecoder(r.Body).Decode(&body)
	return body
}

func intField(body map[string]interface{}, key string) int64 {
	if v, ok := body[key].(float64); ok {
		return int64(v)
	}
	return 0
}

func (b *Backend) authed(next func(http.ResponseWriter, map[string]interface{})) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		access, _ := b.Tokens()
		if r.Header.Get("Authorization") != "Bearer "+access {
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"message": "token expired"})
			return
		}
		next(w, readJSON(r))
	}
}

func (b *Backend) handleLogin(w http.ResponseWriter, r *http.Request) {
	body := readJSON(r)
	user := b.User()
	if body["email"] != user.Email || body["password"] != Password {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"message": "invalid credentials"})
		return
	}
	access, refresh := b.Tokens()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  access,
		"refresh_token": refresh,
		"user_info":     user,
	})
}

func (b *Backend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	body := readJSON(r)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshes++
	if body["refresh_token"] != b.refreshToken {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"detail": "invalid refresh token"})
		return
	}
	b.rotation++
	b.accessToken = fmt.Sprintf("access-%d", b.rotation)
	b.refreshToken = fmt.Sprintf("refresh-%d", b.rotation)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  b.accessToken,
		"refresh_token": b.refreshToken,
	})
}

func (b *Backend) handleAccountInfo(w http.ResponseWriter, _ map[string]interface{}) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"user": b.User()})
}

func (b *Backend) handleUsersInfo(w http.ResponseWriter, body map[string]interface{}) {
	emails, _ := body["emails"].([]interface{})
	b.mu.Lock()
	defer b.mu.Unlock()
	var users []map[string]interface{}
	for _, e := range emails {
		for _, list := range b.members {
			for _, m := range list {
				if m.Email == e && m.Avatar != "" {
					users = append(users, map[string]interface{}{"email": m.Email, "avatar": m.Avatar})
				}
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

func (b *Backend) handleWorkspaces(w http.ResponseWriter, _ map[string]interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	// Entries use the nested envelope some backend versions send.
	items := make([]map[string]interface{}, 0, len(b.workspaces))
	for _, ws := range b.workspaces {
		items = append(items, map[string]interface{}{"workspace": ws, "role": models.RoleAdmin})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (b *Backend) handleMembers(w http.ResponseWriter, body map[string]interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	// Nested user shape.
	items := []map[string]interface{}{}
	for _, m := range b.members[intField(body, "workspaceId")] {
		items = append(items, map[string]interface{}{
			"userId": m.ID,
			"role":   m.Role,
			"user":   map[string]interface{}{"id": m.ID, "username": m.Username, "email": m.Email},
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"members": items})
}

func (b *Backend) handleOnline(w http.ResponseWriter, body map[string]interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := append([]int64{}, b.online[intField(body, "workspaceId")]...)
	writeJSON(w, http.StatusOK, map[string]interface{}{"onlineUserIds": ids})
}

func (b *Backend) handleChannels(w http.ResponseWriter, body map[string]interface{}) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"channels": b.Channels(intField(body, "workspaceId"))})
}

func (b *Backend) handleCreateChannel(w http.ResponseWriter, body map[string]interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	name, _ := body["name"].(string)
	ch := models.Channel{ID: b.nextID, WorkspaceID: intField(body, "workspaceId"), Name: name}
	b.channels = append(b.channels, ch)
	writeJSON(w, http.StatusOK, map[string]interface{}{"channel": ch})
}

func (b *Backend) handleDMs(w http.ResponseWriter, body map[string]interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ws := intField(body, "workspaceId")
	out := []models.DM{}
	for _, dm := range b.dms {
		if dm.WorkspaceID == ws {
			out = append(out, dm)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func threadOf(body map[string]interface{}) models.Thread {
	if id := intField(body, "channelId"); id != 0 {
		return models.ChannelThread(id)
	}
	return models.DMThread(intField(body, "dmId"))
}

func (b *Backend) handleMessages(w http.ResponseWriter, body map[string]interface{}) {
	thread := threadOf(body)
	limit := int(intField(body, "limit"))
	b.mu.Lock()
	var out []models.Message
	for _, m := range b.messages {
		if thread.Contains(m) {
			out = append(out, m)
		}
	}
	b.mu.Unlock()

	// Newest first, as the real backend pages.
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": out})
}

func (b *Backend) handleSend(w http.ResponseWriter, body map[string]interface{}) {
	thread := threadOf(body)
	content, _ := body["content"].(string)

	b.mu.Lock()
	b.nextID++
	msg := models.Message{ID: b.nextID, SenderID: b.user.ID, SenderUsername: b.user.Username, Content: content}
	if thread.Kind == models.ThreadChannel {
		msg.ChannelID = thread.ID
	} else {
		msg.DMID = thread.ID
	}
	b.messages = append(b.messages, msg)
	b.mu.Unlock()

	for _, s := range b.openSockets() {
		s.mu.Lock()
		subscribed := s.thread
		s.mu.Unlock()
		if subscribed == thread {
			_ = s.send(map[string]interface{}{"type": "message", "message": msg})
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"message": msg})
}

func (b *Backend) handleSocket(w http.ResponseWriter, r *http.Request) {
	access, _ := b.Tokens()
	if r.URL.Query().Get("token") != access {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s := &socket{conn: conn}
	b.mu.Lock()
	b.sockets[s] = struct{}{}
	b.dials++
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.sockets, s)
		b.mu.Unlock()
		_ = conn.Close()
	}()

	_ = s.send(map[string]interface{}{"type": "ws_ready"})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		b.mu.Lock()
		b.frames = append(b.frames, string(data))
		b.mu.Unlock()

		var frame struct {
			Type      string `json:"type"`
			ChannelID int64  `json:"channelId"`
			DMID      int64  `json:"dmId"`
		}
		if json.Unmarshal(data, &frame) != nil {
			continue
		}
		var thread models.Thread
		switch frame.Type {
		case "subscribe_channel":
			thread = models.ChannelThread(frame.ChannelID)
		case "subscribe_dm":
			thread = models.DMThread(frame.DMID)
		default:
			continue
		}
		s.mu.Lock()
		s.thread = thread
		s.mu.Unlock()
		_ = s.send(map[string]interface{}{"event": "subscribed"})
	}
}
