package tests

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/cinderella/apps/api/echo"
	"github.com/trezcool/cinderella/core"
	"github.com/trezcool/cinderella/core/chat"
	"github.com/trezcool/cinderella/core/user"
	testutil "github.com/trezcool/cinderella/tests"
)

const readTimeout = 2 * time.Second

type wsEvent struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

type wsClient struct {
	t  *testing.T
	ws *websocket.Conn
}

func wsURL(srv *httptest.Server, token string) string {
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/chat/ws"
	if token != "" {
		u += "?token=" + token
	}
	return u
}

func dial(t *testing.T, srv *httptest.Server, token string) *wsClient {
	t.Helper()

	ws, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, token), nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = ws.Close() })
	return &wsClient{t: t, ws: ws}
}

// dialJoined connects as `usr` and consumes the join snapshot.
func dialJoined(t *testing.T, f fixture, srv *httptest.Server, usr user.User) (*wsClient, []chat.Presence) {
	t.Helper()

	c := dial(t, srv, getToken(t, f.conf, usr))
	c.emit(chat.EventJoin, chat.JoinPayload{UserID: usr.ID})
	var snapshot []chat.Presence
	c.expect(chat.EventOnlineSnapshot, &snapshot)
	return c, snapshot
}

func (c *wsClient) emit(name string, data interface{}) {
	c.t.Helper()
	require.NoError(c.t, c.ws.WriteJSON(chat.Event{Name: name, Data: data}))
}

func (c *wsClient) next() wsEvent {
	c.t.Helper()

	var evt wsEvent
	require.NoError(c.t, c.ws.SetReadDeadline(time.Now().Add(readTimeout)))
	require.NoError(c.t, c.ws.ReadJSON(&evt))
	return evt
}

// expect reads the next event, checks its name and decodes its payload into `v` (if not nil).
func (c *wsClient) expect(name string, v interface{}) {
	c.t.Helper()

	evt := c.next()
	require.Equal(c.t, name, evt.Name, "data: %s", evt.Data)
	if v != nil {
		require.NoError(c.t, json.Unmarshal(evt.Data, v))
	}
}

// expectClosed waits for the server to close the socket.
func (c *wsClient) expectClosed() {
	c.t.Helper()

	require.NoError(c.t, c.ws.SetReadDeadline(time.Now().Add(readTimeout)))
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			assert.True(c.t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			return
		}
	}
}

func Test_chatApi_handshake(t *testing.T) {
	f := setup(t)
	srv := httptest.NewServer(f.app)
	defer srv.Close()

	student := testutil.CreateStudent(t, f.usrRepo, "alice", "6A")
	gone := testutil.CreateUser(t, f.usrRepo, "", "gone", "gone@test.cd", "", user.RoleStudent, false)

	tests := []struct {
		name     string
		token    string
		header   http.Header
		wantCode int
	}{
		{name: "missing token", wantCode: http.StatusUnauthorized},
		{name: "invalid token", token: "not.a.token", wantCode: http.StatusUnauthorized},
		{name: "inactive user", token: getToken(t, f.conf, gone), wantCode: http.StatusForbidden},
		{
			name:     "bearer header",
			header:   http.Header{"Authorization": []string{"Bearer " + getToken(t, f.conf, student)}},
			wantCode: http.StatusSwitchingProtocols,
		},
		{name: "query token", token: getToken(t, f.conf, student), wantCode: http.StatusSwitchingProtocols},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, tt.token), tt.header)
			require.NotNil(t, resp)
			defer resp.Body.Close()
			assert.Equal(t, tt.wantCode, resp.StatusCode)
			if tt.wantCode == http.StatusSwitchingProtocols {
				require.NoError(t, err)
				_ = ws.Close()
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func Test_chatApi_origin(t *testing.T) {
	f := setup(t, func(conf *core.Config) {
		conf.Chat.AllowedOrigins = []string{"https://school.test"}
	})
	srv := httptest.NewServer(f.app)
	defer srv.Close()

	student := testutil.CreateStudent(t, f.usrRepo, "alice", "6A")
	url := wsURL(srv, getToken(t, f.conf, student))

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://evil.test"}})
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	_ = resp.Body.Close()

	ws, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://school.test"}})
	require.NoError(t, err)
	_ = resp.Body.Close()
	_ = ws.Close()
}

func Test_chatApi_messaging(t *testing.T) {
	f := setup(t)
	srv := httptest.NewServer(f.app)
	defer srv.Close()

	teacher := testutil.CreateUser(t, f.usrRepo, "Mr T", "teacher", "teacher@test.cd", "", user.RoleTeacher, true)
	alice := testutil.CreateStudent(t, f.usrRepo, "alice", "6A")
	bob := testutil.CreateStudent(t, f.usrRepo, "bob", "6A")

	tc, snapshot := dialJoined(t, f, srv, teacher)
	assert.Equal(t, []chat.Presence{teacher.ChatIdentity().Presence(true)}, snapshot)

	ac, snapshot := dialJoined(t, f, srv, alice)
	assert.Equal(t, []chat.Presence{teacher.ChatIdentity().Presence(true), alice.ChatIdentity().Presence(true)}, snapshot)

	var online chat.Presence
	tc.expect(chat.EventUserOnline, &online)
	assert.Equal(t, alice.ChatIdentity().Presence(true), online)

	t.Run("join as someone else", func(t *testing.T) {
		c := dial(t, srv, getToken(t, f.conf, bob))
		c.emit(chat.EventJoin, chat.JoinPayload{UserID: alice.ID})

		var rej chat.Rejection
		c.expect(chat.EventRejection, &rej)
		assert.Equal(t, chat.Rejection{Reason: chat.ErrNotAuthenticated.Error(), OriginalEvent: chat.EventJoin}, rej)
	})

	t.Run("student to teacher", func(t *testing.T) {
		ac.emit(chat.EventSend, chat.SendPayload{ReceiverID: teacher.ID, Message: "Is the essay due Friday?"})

		var ack, delivered chat.Message
		ac.expect(chat.EventMessageAck, &ack)
		tc.expect(chat.EventMessageDelivered, &delivered)
		assert.Equal(t, ack, delivered)
		assert.Equal(t, alice.ID, ack.SenderID)
		assert.Equal(t, user.RoleStudent, ack.SenderRole)
		assert.Equal(t, user.RoleTeacher, ack.ReceiverRole)
		assert.False(t, ack.IsRead)
	})

	t.Run("student to student is rejected", func(t *testing.T) {
		ac.emit(chat.EventSend, chat.SendPayload{ReceiverID: bob.ID, Message: "psst"})

		var rej chat.Rejection
		ac.expect(chat.EventRejection, &rej)
		assert.Equal(t, chat.ErrChatNotAllowed.Error(), rej.Reason)
		assert.Equal(t, chat.EventSend, rej.OriginalEvent)
	})

	t.Run("unread count", func(t *testing.T) {
		run(t, f.app, []httpTest{
			{name: "teacher", path: "/v1/chat/unread", token: getToken(t, f.conf, teacher), wantData: marchallObj(t, echoapi.UnreadResponse{UnreadCount: 1})},
			{name: "alice", path: "/v1/chat/unread", token: getToken(t, f.conf, alice), wantData: marchallObj(t, echoapi.UnreadResponse{})},
		})
	})

	t.Run("conversations", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/chat/conversations", getToken(t, f.conf, teacher))
		f.app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var convs []chat.Conversation
		unmarshal(t, rec, &convs)
		require.Len(t, convs, 1)
		assert.Equal(t, alice.ID, convs[0].UserID)
		assert.Equal(t, "Is the essay due Friday?", convs[0].LastMessage)
		assert.Equal(t, 1, convs[0].UnreadCount)
	})

	t.Run("typing", func(t *testing.T) {
		tc.emit(chat.EventTypingStart, chat.TypingPayload{ReceiverID: alice.ID})

		var notice chat.TypingNotice
		ac.expect(chat.EventTypingNotice, &notice)
		assert.Equal(t, chat.TypingNotice{UserID: teacher.ID, Username: "Mr T", IsTyping: true}, notice)
	})

	t.Run("history marks read", func(t *testing.T) {
		tc.emit(chat.EventRequestHistory, chat.HistoryPayload{OtherUserID: alice.ID})

		var read chat.MessagesRead
		ac.expect(chat.EventMessagesRead, &read)
		assert.Equal(t, chat.MessagesRead{ReaderID: teacher.ID, Count: 1}, read)

		var history []chat.Message
		tc.expect(chat.EventHistoryResult, &history)
		require.Len(t, history, 1)
		assert.True(t, history[0].IsRead)

		run(t, f.app, []httpTest{
			{name: "unread", path: "/v1/chat/unread", token: getToken(t, f.conf, teacher), wantData: marchallObj(t, echoapi.UnreadResponse{})},
		})
	})

	t.Run("malformed frame", func(t *testing.T) {
		require.NoError(t, ac.ws.WriteMessage(websocket.TextMessage, []byte("{oops")))

		var rej chat.Rejection
		ac.expect(chat.EventRejection, &rej)
		assert.Equal(t, chat.ErrMalformedEvent.Error(), rej.Reason)
	})

	t.Run("online", func(t *testing.T) {
		want := []chat.Presence{teacher.ChatIdentity().Presence(true), alice.ChatIdentity().Presence(true)}
		run(t, f.app, []httpTest{
			{name: "Auth required", path: "/v1/chat/online", wantCode: http.StatusUnauthorized},
			{name: "snapshot", path: "/v1/chat/online", token: getToken(t, f.conf, bob), wantData: marchallObj(t, want)},
		})
	})

	t.Run("disconnect", func(t *testing.T) {
		require.NoError(t, ac.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

		var offline chat.Presence
		tc.expect(chat.EventUserOffline, &offline)
		assert.Equal(t, alice.ChatIdentity().Presence(false), offline)

		require.Eventually(t, func() bool {
			_, ok := f.hub.Registry().LookupConnection(alice.ID)
			return !ok
		}, readTimeout, 10*time.Millisecond)
	})

	t.Run("logout closes the socket", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/users/logout", getToken(t, f.conf, teacher))
		f.app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		tc.expectClosed()
	})
}

func Test_chatApi_offlineDelivery(t *testing.T) {
	f := setup(t)
	srv := httptest.NewServer(f.app)
	defer srv.Close()

	teacher := testutil.CreateUser(t, f.usrRepo, "Mr T", "teacher", "teacher@test.cd", "", user.RoleTeacher, true)
	alice := testutil.CreateStudent(t, f.usrRepo, "alice", "6A")

	tc, _ := dialJoined(t, f, srv, teacher)
	tc.emit(chat.EventSend, chat.SendPayload{ReceiverID: alice.ID, Message: "Your essay is graded"})

	var ack chat.Message
	tc.expect(chat.EventMessageAck, &ack)
	assert.Equal(t, user.RoleStudent, ack.ReceiverRole)

	ac, _ := dialJoined(t, f, srv, alice)
	tc.expect(chat.EventUserOnline, nil)

	ac.emit(chat.EventRequestHistory, chat.HistoryPayload{OtherUserID: teacher.ID})
	tc.expect(chat.EventMessagesRead, nil)

	var history []chat.Message
	ac.expect(chat.EventHistoryResult, &history)
	require.Len(t, history, 1)
	assert.Equal(t, ack.ID, history[0].ID)
	assert.Equal(t, "Your essay is graded", history[0].Body)
}

func Test_chatApi_duplicateSession(t *testing.T) {
	tests := []struct {
		policy    string
		wantEvict bool
	}{
		{policy: core.DuplicateSessionReplace},
		{policy: core.DuplicateSessionEvict, wantEvict: true},
	}
	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			f := setup(t, func(conf *core.Config) { conf.Chat.DuplicateSession = tt.policy })
			srv := httptest.NewServer(f.app)
			defer srv.Close()

			teacher := testutil.CreateUser(t, f.usrRepo, "Mr T", "teacher", "teacher@test.cd", "", user.RoleTeacher, true)
			alice := testutil.CreateStudent(t, f.usrRepo, "alice", "6A")

			first, _ := dialJoined(t, f, srv, teacher)
			second, _ := dialJoined(t, f, srv, teacher)

			if tt.wantEvict {
				var rej chat.Rejection
				first.expect(chat.EventRejection, &rej)
				assert.Equal(t, chat.EventJoin, rej.OriginalEvent)
				first.expectClosed()
			}

			// messages reach the latest session only
			ac, _ := dialJoined(t, f, srv, alice)
			second.expect(chat.EventUserOnline, nil)
			ac.emit(chat.EventSend, chat.SendPayload{ReceiverID: teacher.ID, Message: "hello"})
			ac.expect(chat.EventMessageAck, nil)
			second.expect(chat.EventMessageDelivered, nil)
		})
	}
}

func Test_chatApi_availableUsers(t *testing.T) {
	f := setup(t)
	srv := httptest.NewServer(f.app)
	defer srv.Close()

	admin := testutil.CreateUser(t, f.usrRepo, "Admin", "admin", "admin@test.cd", "", user.RoleAdmin, true)
	teacher := testutil.CreateUser(t, f.usrRepo, "Mr T", "teacher", "teacher@test.cd", "", user.RoleTeacher, true)
	alice := testutil.CreateStudent(t, f.usrRepo, "alice", "6A")
	bob := testutil.CreateStudent(t, f.usrRepo, "bob", "6A")

	dialJoined(t, f, srv, teacher)

	run(t, f.app, []httpTest{
		{
			name: "student", path: "/v1/chat/available-users", token: getToken(t, f.conf, alice),
			wantData: marchallObj(t, []chat.Presence{
				admin.ChatIdentity().Presence(false),
				teacher.ChatIdentity().Presence(true),
			}),
		},
		{
			name: "teacher", path: "/v1/chat/available-users", token: getToken(t, f.conf, teacher),
			wantData: marchallObj(t, []chat.Presence{
				admin.ChatIdentity().Presence(false),
				alice.ChatIdentity().Presence(false),
				bob.ChatIdentity().Presence(false),
			}),
		},
	})
}
