package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/maguro923/chat-and-schedule-backend/internal/dbtest"
	"github.com/maguro923/chat-and-schedule-backend/internal/hub"
	"github.com/maguro923/chat-and-schedule-backend/internal/models"
	"github.com/maguro923/chat-and-schedule-backend/internal/push"
	"github.com/maguro923/chat-and-schedule-backend/internal/store"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type pushCall struct {
	op     string
	topic  string
	tokens []string
	note   push.Notification
}

type fakePush struct {
	mu    sync.Mutex
	calls []pushCall
	err   error
	// gate, when set, holds every call until it is closed.
	gate chan struct{}
}

func (p *fakePush) record(c pushCall) error {
	if p.gate != nil {
		<-p.gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, c)
	return p.err
}

func (p *fakePush) Subscribe(_ context.Context, tokens []string, topic string) error {
	return p.record(pushCall{op: "subscribe", topic: topic, tokens: tokens})
}

func (p *fakePush) Unsubscribe(_ context.Context, tokens []string, topic string) error {
	return p.record(pushCall{op: "unsubscribe", topic: topic, tokens: tokens})
}

func (p *fakePush) Send(_ context.Context, topic string, n push.Notification) error {
	return p.record(pushCall{op: "send", topic: topic, note: n})
}

func (p *fakePush) ops(op string) []pushCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []pushCall
	for _, c := range p.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

type fakeAvatars struct {
	mu      sync.Mutex
	removed []uuid.UUID
}

func (a *fakeAvatars) RemoveRoom(_ context.Context, roomID uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removed = append(a.removed, roomID)
	return nil
}

// frameConn captures frames delivered through the hub.
type frameConn struct {
	mu     sync.Mutex
	frames []map[string]any
}

func (c *frameConn) Send(b []byte) error {
	var f map[string]any
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return nil
}

func (c *frameConn) Close() error { return nil }

func (c *frameConn) ofType(t string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]any
	for _, f := range c.frames {
		if f["type"] == t {
			out = append(out, f)
		}
	}
	return out
}

type env struct {
	deps    Deps
	gdb     *gorm.DB
	store   *store.Store
	hub     *hub.Hub
	push    *fakePush
	avatars *fakeAvatars
	effects *Effects
	clock   time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gdb := dbtest.Open(t)
	e := &env{
		gdb:     gdb,
		store:   store.New(gdb),
		hub:     hub.New(),
		push:    &fakePush{},
		avatars: &fakeAvatars{},
		effects: NewEffects(4, 5*time.Second),
		clock:   time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	e.deps = Deps{
		Store:                e.store,
		Hub:                  e.hub,
		Push:                 e.push,
		Avatars:              e.avatars,
		Effects:              e.effects,
		AccessTokenValidity:  time.Hour,
		RefreshTokenValidity: 720 * time.Hour,
		SearchLimit:          20,
		Now:                  func() time.Time { return e.clock },
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.effects.Wait(ctx)
	})
	return e
}

// settle waits for post-commit push effects to finish.
func (e *env) settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.effects.Wait(ctx))
}

// returnsWithin fails the test unless fn returns before d elapses.
func returnsWithin(t *testing.T, d time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("call did not return within %v", d)
	}
}

func (e *env) tick(d time.Duration) { e.clock = e.clock.Add(d) }

func (e *env) user(t *testing.T, name string) models.User {
	t.Helper()
	u := models.User{ID: uuid.New(), Name: name, Email: name + "@example.com", PasswordHash: "x", PushToken: "push-" + name}
	require.NoError(t, e.store.CreateUser(context.Background(), &u))
	return u
}

func (e *env) befriend(t *testing.T, a, b uuid.UUID) {
	t.Helper()
	require.NoError(t, e.store.AddFriendship(context.Background(), a, b))
}

func (e *env) online(userID uuid.UUID) *frameConn {
	c := &frameConn{}
	e.hub.Register(userID.String(), c)
	return c
}

func (e *env) room(t *testing.T, members ...uuid.UUID) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	r := models.Room{ID: uuid.New(), Name: "general", CreatedAt: e.clock}
	require.NoError(t, e.store.CreateRoom(ctx, &r))
	for _, id := range members {
		require.NoError(t, e.store.AddParticipant(ctx, &models.RoomParticipant{RoomID: r.ID, UserID: id, JoinedAt: e.clock, LastViewedAt: e.clock}))
	}
	return r.ID
}

func content(f map[string]any) map[string]any {
	c, _ := f["content"].(map[string]any)
	return c
}
