package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/mercure-chat/core/errors"
	"github.com/mercure-chat/core/pkg/models"
	"github.com/mercure-chat/core/pkg/session"
	"github.com/mercure-chat/core/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEndpoints(url string) Endpoints {
	e := DefaultEndpoints()
	e.BaseURL = url
	return e
}

func newTestClient(t *testing.T, handler http.Handler, creds models.Credentials) (*Client, *session.Manager) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	sess := session.New(state.NewMemoryStorage())
	if !creds.IsZero() {
		require.NoError(t, sess.SetSession(creds, &models.User{Username: "ada"}))
	}
	return New(testEndpoints(srv.URL), sess), sess
}

func readBody(t *testing.T, r *http.Request) map[string]interface{} {
	t.Helper()
	data, err := io.ReadAll(r.Body)
	assert.NoError(t, err)
	out := map[string]interface{}{}
	if len(data) > 0 {
		assert.NoError(t, json.Unmarshal(data, &out))
	}
	return out
}

func TestAuthenticatedRequestSendsBearer(t *testing.T) {
	var gotAuth, gotRequestID string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotRequestID = r.Header.Get(RequestIDHeader)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}), models.Credentials{AccessToken: "a1", RefreshToken: "r1"})

	var out struct {
		OK bool `json:"ok"`
	}
	resp, err := client.AuthenticatedRequest(context.Background(), http.MethodPost, "/x", map[string]interface{}{}, &out)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.True(t, out.OK)
	assert.Equal(t, "Bearer a1", gotAuth)
	assert.NotEmpty(t, gotRequestID)
	assert.Equal(t, gotRequestID, resp.RequestID)
}

func TestAuthenticatedRequestWithoutSession(t *testing.T) {
	client, _ := newTestClient(t, http.NotFoundHandler(), models.Credentials{})
	_, err := client.AuthenticatedRequest(context.Background(), http.MethodPost, "/x", nil, nil)
	assert.True(t, errors.Is(err, errors.ErrCodeNotLoggedIn))
}

func TestRefreshOnceThenRetry(t *testing.T) {
	var refreshes, calls atomic.Int32
	client, sess := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/accounts/refresh":
			refreshes.Add(1)
			body := readBody(t, r)
			assert.Equal(t, "r1", body["refresh_token"])
			_, _ = w.Write([]byte(`{"access_token":"a2","refresh_token":"r2"}`))
		case "/accounts/messaging/thing":
			calls.Add(1)
			if r.Header.Get("Authorization") != "Bearer a2" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"value":42}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}), models.Credentials{AccessToken: "a1", RefreshToken: "r1"})

	var out struct {
		Value int `json:"value"`
	}
	resp, err := client.AuthenticatedRequest(context.Background(), http.MethodPost, "/accounts/messaging/thing", nil, &out)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, 42, out.Value)
	assert.Equal(t, int32(1), refreshes.Load())
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, models.Credentials{AccessToken: "a2", RefreshToken: "r2"}, sess.Credentials())
	assert.Equal(t, "ada", sess.User().Username)
}

func TestConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	var refreshes atomic.Int32
	arrived := make(chan struct{}, 2)
	release := make(chan struct{})

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/accounts/refresh":
			refreshes.Add(1)
			_, _ = w.Write([]byte(`{"access_token":"a2","refresh_token":"r2"}`))
		default:
			if r.Header.Get("Authorization") == "Bearer a2" {
				_, _ = w.Write([]byte(`{}`))
				return
			}
			// Hold both stale requests until each has been seen so they
			// are rejected together.
			arrived <- struct{}{}
			<-release
			w.WriteHeader(http.StatusUnauthorized)
		}
	}), models.Credentials{AccessToken: "a1", RefreshToken: "r1"})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = client.AuthenticatedRequest(context.Background(), http.MethodPost, "/accounts/messaging/x", nil, nil)
		}(i)
	}
	<-arrived
	<-arrived
	close(release)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), refreshes.Load())
}

func TestFailedRefreshReturnsOriginalResponse(t *testing.T) {
	client, sess := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/accounts/refresh" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"refresh token revoked"}`))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"expired"}`))
	}), models.Credentials{AccessToken: "a1", RefreshToken: "r1"})
	events := sess.Subscribe()
	defer sess.Unsubscribe(events)

	resp, err := client.AuthenticatedRequest(context.Background(), http.MethodPost, "/accounts/messaging/x", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.Status)
	assert.JSONEq(t, `{"message":"expired"}`, string(resp.Body))
	assert.False(t, sess.IsAuthenticated())
	assert.Equal(t, session.EventSessionCleared, (<-events).Type)
}

func TestTypedEndpointReportsUnauthorized(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}), models.Credentials{Cookie: "legacy"})

	_, err := client.ListWorkspaces(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeUnauthorized))
	assert.Equal(t, http.StatusUnauthorized, errors.StatusOf(err))
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"message field", http.StatusBadRequest, `{"message":"name taken"}`, "name taken"},
		{"detail field", http.StatusForbidden, `{"detail":"not a member"}`, "not a member"},
		{"fallback", http.StatusInternalServerError, `oops`, "HTTP error 500"},
		{"non-string message", http.StatusConflict, `{"message":{"x":1}}`, "HTTP error 409"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}), models.Credentials{AccessToken: "a"})

			_, err := client.AuthenticatedRequest(context.Background(), http.MethodPost, "/x", nil, nil)
			require.Error(t, err)
			me, ok := errors.As(err)
			require.True(t, ok)
			assert.Equal(t, tt.message, me.Message)
			assert.Equal(t, tt.status, me.Status)
			assert.Equal(t, errors.ErrCodeHTTP, me.Code)
			assert.NotEmpty(t, me.Details["request_id"])
		})
	}
}

func TestNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := New(testEndpoints(url), nil)
	err := client.Request(context.Background(), http.MethodGet, "/x", nil, nil)
	assert.True(t, errors.Is(err, errors.ErrCodeNetwork))
}

func TestLegacyCookieInBody(t *testing.T) {
	var body map[string]interface{}
	var auth string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		body = readBody(t, r)
		_, _ = w.Write([]byte(`{"channels":[]}`))
	}), models.Credentials{Cookie: "c00kie"})

	_, err := client.ListChannels(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "Bearer c00kie", auth)
	assert.Equal(t, "c00kie", body["cookie"])
	assert.Equal(t, float64(3), body["workspaceId"])
}

func TestTokenSessionOmitsCookie(t *testing.T) {
	var body map[string]interface{}
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body = readBody(t, r)
		_, _ = w.Write([]byte(`[]`))
	}), models.Credentials{AccessToken: "a"})

	_, err := client.ListDMs(context.Background(), 3)
	require.NoError(t, err)
	assert.NotContains(t, body, "cookie")
}

func TestLogin(t *testing.T) {
	var body map[string]interface{}
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts/login", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		body = readBody(t, r)
		_, _ = w.Write([]byte(`{"accessToken":"a","refreshToken":"r","user_info":{"id":"9","prenom":"Ada","nom":"L"}}`))
	}), models.Credentials{})

	res, err := client.Login(context.Background(), " ada@example.org ", "pw")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.org", body["email"])
	assert.Equal(t, models.Credentials{AccessToken: "a", RefreshToken: "r"}, res.Credentials)
	require.NotNil(t, res.User)
	assert.Equal(t, int64(9), res.User.ID)
	assert.Equal(t, "Ada L", res.User.DisplayName())
}

func TestLoginRejected(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"bad credentials"}`))
	}), models.Credentials{})

	_, err := client.Login(context.Background(), "ada@example.org", "nope")
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, errors.StatusOf(err))
	assert.Contains(t, err.Error(), "bad credentials")
}

func TestLoginWithoutCredential(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"user_info":{"id":1}}`))
	}), models.Credentials{})

	_, err := client.Login(context.Background(), "ada@example.org", "pw")
	assert.True(t, errors.Is(err, errors.ErrCodeDecode))
}

func TestCheckSession(t *testing.T) {
	var invalid atomic.Bool
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/accounts/refresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if invalid.Load() {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"valid":true}`))
	}), models.Credentials{AccessToken: "a", RefreshToken: "r"})

	ok, err := client.CheckSession(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	invalid.Store(true)
	ok, err = client.CheckSession(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUsersInfoSkipsEntriesWithoutEmail(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := readBody(t, r)
		assert.Equal(t, []interface{}{"a@x.org", "b@x.org"}, body["emails"])
		_, _ = w.Write([]byte(`{"users":[{"email":"a@x.org","avatar":"/a.png"},{"nom":"nobody"}]}`))
	}), models.Credentials{AccessToken: "a"})

	infos, err := client.UsersInfo(context.Background(), []string{"a@x.org", "b@x.org"})
	require.NoError(t, err)
	assert.Equal(t, []UserInfo{{Email: "a@x.org", Avatar: "/a.png"}}, infos)

	infos, err = client.UsersInfo(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestProfileAvatar(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts/profile/avatar", r.URL.Path)
		_, _ = w.Write([]byte(`{"avatarUrl":"/media/me.png"}`))
	}), models.Credentials{AccessToken: "a"})

	got, err := client.ProfileAvatar(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "/media/me.png", got)
}

func TestListMessagesClampsLimit(t *testing.T) {
	var body map[string]interface{}
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body = readBody(t, r)
		_, _ = w.Write([]byte(`{"messages":[
			{"id":3,"channelId":5,"content":"c"},
			{"id":1,"channelId":5,"content":"a"},
			{"id":0,"channelId":5,"content":"skipped"},
			{"id":2,"channelId":5,"content":"b"}]}`))
	}), models.Credentials{AccessToken: "a"})

	msgs, err := client.ListMessages(context.Background(), models.ChannelThread(5), 500)
	require.NoError(t, err)
	assert.Equal(t, float64(MaxMessagePage), body["limit"])
	assert.Equal(t, float64(5), body["channelId"])
	assert.NotContains(t, body, "dmId")

	ids := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []int64{1, 2, 3}, ids)

	_, err = client.ListMessages(context.Background(), models.Thread{}, 10)
	assert.True(t, errors.Is(err, errors.ErrCodeNoActiveThread))
}

func TestSendMessageFillsThread(t *testing.T) {
	var body map[string]interface{}
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body = readBody(t, r)
		_, _ = w.Write([]byte(`{"message":{"id":"11","content":"hi","senderId":2}}`))
	}), models.Credentials{AccessToken: "a"})

	msg, err := client.SendMessage(context.Background(), models.DMThread(4), "hi")
	require.NoError(t, err)
	assert.Equal(t, float64(4), body["dmId"])
	assert.Equal(t, "hi", body["content"])
	assert.Equal(t, int64(11), msg.ID)
	assert.Equal(t, int64(4), msg.DMID)

	_, err = client.SendMessage(context.Background(), models.DMThread(4), "   ")
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}

func TestOnlineMembersAcceptsIDsAndObjects(t *testing.T) {
	responses := []string{
		`{"userIds":[1,"2",0]}`,
		`{"members":[{"userId":3},{"user":{"id":4}}]}`,
	}
	var i atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(responses[i.Add(1)-1]))
	}), models.Credentials{AccessToken: "a"})

	ids, err := client.OnlineMembers(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)

	ids, err = client.OnlineMembers(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4}, ids)
}

func TestRespondFriendRequest(t *testing.T) {
	var actions []string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actions = append(actions, readBody(t, r)["action"].(string))
		_, _ = w.Write([]byte(`{}`))
	}), models.Credentials{AccessToken: "a"})

	require.NoError(t, client.RespondFriendRequest(context.Background(), 1, 9, true))
	require.NoError(t, client.RespondFriendRequest(context.Background(), 1, 9, false))
	assert.Equal(t, []string{"accept", "decline"}, actions)

	_, err := client.ListFriendRequests(context.Background(), 1, "sideways", "")
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}

func TestUploadWorkspaceIconRetriesWithFreshBody(t *testing.T) {
	var uploads atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/accounts/refresh" {
			_, _ = w.Write([]byte(`{"access_token":"a2"}`))
			return
		}
		uploads.Add(1)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "7", r.FormValue("workspaceId"))
		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "icon.png", header.Filename)
		assert.Equal(t, "PNGDATA", string(data))

		if r.Header.Get("Authorization") != "Bearer a2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}), models.Credentials{AccessToken: "a1", RefreshToken: "r1"})

	err := client.UploadWorkspaceIcon(context.Background(), 7, "icon.png", strings.NewReader("PNGDATA"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), uploads.Load())
}
