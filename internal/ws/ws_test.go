package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/maguro923/chat-and-schedule-backend/internal/dbtest"
	"github.com/maguro923/chat-and-schedule-backend/internal/hub"
	"github.com/maguro923/chat-and-schedule-backend/internal/models"
	"github.com/maguro923/chat-and-schedule-backend/internal/push"
	"github.com/maguro923/chat-and-schedule-backend/internal/service"
	"github.com/maguro923/chat-and-schedule-backend/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopAvatars struct{}

func (nopAvatars) RemoveRoom(context.Context, uuid.UUID) error { return nil }

type harness struct {
	store *store.Store
	hub   *hub.Hub
	srv   *Server
	http  *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st := store.New(dbtest.Open(t))
	h := hub.New()
	deps := service.Deps{
		Store:                st,
		Hub:                  h,
		Push:                 push.Nop{},
		Avatars:              nopAvatars{},
		AccessTokenValidity:  time.Hour,
		RefreshTokenValidity: time.Hour,
		SearchLimit:          20,
	}
	srv := NewServer(h, Services{
		Users:    service.NewUserService(deps),
		Messages: service.NewMessageService(deps),
		Rooms:    service.NewRoomService(deps),
		Friends:  service.NewFriendService(deps),
	}, Options{HandlerTimeout: 5 * time.Second})

	r := gin.New()
	r.GET("/ws/:user_id", srv.Serve)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return &harness{store: st, hub: h, srv: srv, http: ts}
}

// user creates a user with a live access token bound to device "dev".
func (h *harness) user(t *testing.T, name string) models.User {
	t.Helper()
	ctx := context.Background()
	u := models.User{ID: uuid.New(), Name: name, Email: name + "@example.com", PasswordHash: "x", AccessToken: "tok-" + name, DeviceID: "dev"}
	require.NoError(t, h.store.CreateUser(ctx, &u))
	require.NoError(t, h.store.CreateAccessToken(ctx, &models.AccessToken{Token: u.AccessToken, CreatedAt: time.Now().UTC(), ValidityHours: 1}))
	return u
}

func (h *harness) room(t *testing.T, members ...uuid.UUID) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	r := models.Room{ID: uuid.New(), Name: "r", CreatedAt: now}
	require.NoError(t, h.store.CreateRoom(ctx, &r))
	for _, id := range members {
		require.NoError(t, h.store.AddParticipant(ctx, &models.RoomParticipant{RoomID: r.ID, UserID: id, JoinedAt: now, LastViewedAt: now}))
	}
	return r.ID
}

func (h *harness) dial(t *testing.T, path string, init any) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws/" + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.WriteJSON(init))
	return conn
}

// connect completes the handshake and consumes reply-init.
func (h *harness) connect(t *testing.T, u models.User) *websocket.Conn {
	t.Helper()
	conn := h.dial(t, u.ID.String(), map[string]any{"content": map[string]string{"access_token": u.AccessToken, "device_id": u.DeviceID}})
	f := readFrame(t, conn)
	require.Equal(t, "reply-init", f["type"])
	require.Equal(t, "Connection established", content(f)["message"])
	require.Eventually(t, func() bool { return h.hub.Online(u.ID.String()) }, time.Second, 5*time.Millisecond)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var f map[string]any
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// readUntil skips frames until one of type want arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want string) map[string]any {
	t.Helper()
	for i := 0; i < 20; i++ {
		f := readFrame(t, conn)
		if f["type"] == want {
			return f
		}
	}
	t.Fatalf("no %s frame", want)
	return nil
}

func content(f map[string]any) map[string]any {
	c, _ := f["content"].(map[string]any)
	return c
}

func request(t *testing.T, conn *websocket.Conn, id, msgType string, body any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"id": id, "type": msgType, "content": body}))
}

func TestHandshake_Rejections(t *testing.T) {
	h := newHarness(t)
	u := h.user(t, "alice")

	tests := []struct {
		name     string
		path     string
		token    string
		device   string
		wantCode int
	}{
		{"bad user id", "not-a-uuid", u.AccessToken, "dev", CloseBadRequest},
		{"unknown user", uuid.NewString(), u.AccessToken, "dev", CloseNotFound},
		{"token mismatch", u.ID.String(), "nope", "dev", CloseUnauthorized},
		{"device mismatch", u.ID.String(), u.AccessToken, "other", CloseForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := h.dial(t, tt.path, map[string]any{"content": map[string]string{"access_token": tt.token, "device_id": tt.device}})
			require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
			_, _, err := conn.ReadMessage()
			require.Error(t, err)
			assert.True(t, websocket.IsCloseError(err, tt.wantCode), "got %v", err)
			assert.Zero(t, h.hub.Count())
		})
	}
}

func TestHandshake_OversizedInitFrame(t *testing.T) {
	h := newHarness(t)
	u := h.user(t, "alice")

	padding := strings.Repeat("x", 2*maxInitFrame)
	conn := h.dial(t, u.ID.String(), map[string]any{"content": map[string]string{"access_token": u.AccessToken, "device_id": "dev", "pad": padding}})
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.Zero(t, h.hub.Count())
}

func TestSendMessage_Scenario(t *testing.T) {
	h := newHarness(t)
	a := h.user(t, "a")
	b := h.user(t, "b")
	r := h.room(t, a.ID, b.ID)

	connA := h.connect(t, a)
	connB := h.connect(t, b)

	request(t, connA, "42", "SendMessage", map[string]string{"type": "text", "roomid": r.String(), "message": "hi"})

	reply := readUntil(t, connA, "reply-SendMessage")
	assert.Equal(t, "42", reply["id"])
	assert.Equal(t, "Message sent", content(reply)["message"])

	got := readUntil(t, connB, "ReceiveMessage")
	body := content(got)
	assert.Equal(t, r.String(), body["roomid"])
	assert.Equal(t, a.ID.String(), body["senderid"])
	assert.Equal(t, "text", body["type"])
	assert.Equal(t, "hi", body["text"])
}

func TestRouter_ProtocolErrors(t *testing.T) {
	h := newHarness(t)
	a := h.user(t, "a")
	conn := h.connect(t, a)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	f := readFrame(t, conn)
	assert.Equal(t, "Error", f["type"])
	assert.Equal(t, "Invalid message format", content(f)["message"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "Focus", "content": map[string]any{}}))
	f = readFrame(t, conn)
	assert.Equal(t, "reply-Focus", f["type"])
	assert.Equal(t, "Invalid json key", content(f)["message"])

	request(t, conn, "1", "Dance", map[string]any{})
	f = readFrame(t, conn)
	assert.Equal(t, "reply-Dance", f["type"])
	assert.Equal(t, "Invalid message type", content(f)["message"])

	request(t, conn, "2", "SendMessage", map[string]any{"type": "text", "roomid": "nope", "message": "x"})
	f = readFrame(t, conn)
	assert.Equal(t, "reply-SendMessage", f["type"])
	assert.Equal(t, "Invalid message format", content(f)["message"])

	request(t, conn, "3", "SendMessage", map[string]any{"type": "text", "roomid": uuid.NewString(), "message": "x"})
	f = readFrame(t, conn)
	assert.Equal(t, "User not in room", content(f)["message"])

	// the connection survives every error above
	request(t, conn, "4", "GetFriendList", map[string]any{})
	f = readFrame(t, conn)
	assert.Equal(t, "reply-GetFriendList", f["type"])
	assert.Contains(t, content(f), "friends")
}

func TestReAuth(t *testing.T) {
	h := newHarness(t)
	a := h.user(t, "a")
	conn := h.connect(t, a)

	request(t, conn, "1", "ReAuth", map[string]string{"access_token": "wrong", "device_id": "dev"})
	f := readFrame(t, conn)
	assert.Equal(t, "access_token not found", content(f)["message"])

	request(t, conn, "2", "ReAuth", map[string]string{"access_token": a.AccessToken, "device_id": "phone"})
	f = readFrame(t, conn)
	assert.Equal(t, "Invalid device_id", content(f)["message"])

	before, _ := h.hub.LeaseStart(a.ID.String())
	time.Sleep(5 * time.Millisecond)
	request(t, conn, "3", "ReAuth", map[string]string{"access_token": a.AccessToken, "device_id": "dev"})
	f = readFrame(t, conn)
	assert.Equal(t, "ReAuth success", content(f)["message"])
	after, _ := h.hub.LeaseStart(a.ID.String())
	assert.True(t, after.After(before))
}

func TestUnreadDelivery(t *testing.T) {
	h := newHarness(t)
	a := h.user(t, "a")
	b := h.user(t, "b")
	r := h.room(t, a.ID, b.ID)
	require.NoError(t, h.store.CreateMessage(context.Background(), &models.Message{
		ID: uuid.New(), RoomID: r, SenderID: &b.ID, Type: models.MessageText, Content: "while you were away", CreatedAt: time.Now().UTC().Add(time.Second),
	}))
	h.hub.OfferFriendRequest(b.ID.String(), a.ID.String())

	conn := h.connect(t, a)
	f := readUntil(t, conn, "Latest-Message")
	msgs, _ := f["content"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "while you were away", msgs[0].(map[string]any)["content"])

	f = readUntil(t, conn, "Latest-FriendRequest")
	assert.Equal(t, []any{b.ID.String()}, f["content"])
}

func TestNewConnectionReplacesOld(t *testing.T) {
	h := newHarness(t)
	a := h.user(t, "a")
	first := h.connect(t, a)
	h.connect(t, a)

	require.NoError(t, first.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}
	assert.Equal(t, 1, h.hub.Count())
}

// pair returns a server-side Client wired to a dialed client socket.
func pair(t *testing.T) (*Client, *websocket.Conn) {
	t.Helper()
	ready := make(chan *websocket.Conn, 1)
	up := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ready <- c
	}))
	t.Cleanup(ts.Close)
	peer, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = peer.Close() })
	c := newClient(<-ready)
	t.Cleanup(func() { _ = c.Close() })
	return c, peer
}

func leaseSession(t *testing.T, h *hub.Hub, validity time.Duration) (*session, *websocket.Conn) {
	t.Helper()
	c, peer := pair(t)
	sess := &session{userID: uuid.New(), client: c}
	sess.key = sess.userID.String()
	sess.setValidity(validity)
	h.Register(sess.key, c)
	h.MarkAuthenticated(sess.key)
	go func() { _ = c.writePump() }()
	return sess, peer
}

func TestWatchLease_WarnsThenCloses(t *testing.T) {
	h := hub.New()
	srv := NewServer(h, Services{}, Options{WarnLead: 100 * time.Millisecond})
	sess, peer := leaseSession(t, h, 300*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- srv.watchLease(context.Background(), sess) }()

	f := readFrame(t, peer)
	assert.Equal(t, "AuthInfo", f["type"])

	require.NoError(t, peer.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := peer.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, CloseForbidden), "got %v", err)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, errLeaseExpired)
	case <-time.After(3 * time.Second):
		t.Fatal("watchLease did not return")
	}
}

func TestWatchLease_ReAuthKeepsSessionOpen(t *testing.T) {
	h := hub.New()
	srv := NewServer(h, Services{}, Options{WarnLead: 200 * time.Millisecond})
	sess, peer := leaseSession(t, h, 400*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.watchLease(ctx, sess) }()

	f := readFrame(t, peer)
	require.Equal(t, "AuthInfo", f["type"])
	h.MarkAuthenticated(sess.key)

	// past the first deadline the connection is still open
	time.Sleep(250 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("watchLease returned early: %v", err)
	default:
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("watchLease did not stop on cancel")
	}
}

func TestClient_SendAfterClose(t *testing.T) {
	c, _ := pair(t)
	require.NoError(t, c.Send([]byte(`{}`)))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Send([]byte(`{}`)), errClientClosed)
}
