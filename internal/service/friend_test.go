package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertFriends(t *testing.T, e *env, a, b uuid.UUID, want bool) {
	t.Helper()
	ctx := context.Background()
	ab, err := e.store.IsFriend(ctx, a, b)
	require.NoError(t, err)
	ba, err := e.store.IsFriend(ctx, b, a)
	require.NoError(t, err)
	assert.Equal(t, want, ab)
	assert.Equal(t, want, ba)
}

func TestRequest_ReverseRequestMakesFriends(t *testing.T) {
	e := newEnv(t)
	s := NewFriendService(e.deps)
	ctx := context.Background()

	a := e.user(t, "a")
	b := e.user(t, "b")
	connA := e.online(a.ID)
	connB := e.online(b.ID)

	res, err := s.Request(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, RequestSent, res)
	assert.Equal(t, []string{a.ID.String()}, s.Pending(b.ID))
	assertFriends(t, e, a.ID, b.ID, false)

	reqs := connB.ofType("FriendRequest")
	require.Len(t, reqs, 1)
	assert.Equal(t, a.ID.String(), content(reqs[0])["friend_id"])

	_, err = s.Request(ctx, a.ID, b.ID)
	assert.ErrorIs(t, err, ErrRequestPending)

	res, err = s.Request(ctx, b.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, FriendMade, res)
	assertFriends(t, e, a.ID, b.ID, true)
	assert.Empty(t, s.Pending(a.ID))
	assert.Empty(t, s.Pending(b.ID))

	made := connA.ofType("FriendRequest")
	require.Len(t, made, 1)
	assert.Equal(t, b.ID.String(), content(made[0])["friend_id"])
	assert.Equal(t, "Friend is made", content(made[0])["message"])

	_, err = s.Request(ctx, a.ID, b.ID)
	assert.ErrorIs(t, err, ErrAlreadyFriend)
}

func TestRequest_Rejects(t *testing.T) {
	e := newEnv(t)
	s := NewFriendService(e.deps)
	ctx := context.Background()
	a := e.user(t, "a")

	_, err := s.Request(ctx, a.ID, a.ID)
	assert.ErrorIs(t, err, ErrInvalidFriend)
	_, err = s.Request(ctx, a.ID, uuid.New())
	assert.ErrorIs(t, err, ErrFriendNotFound)
	assert.Empty(t, e.hub.PendingFriendRequests(a.ID.String()))
}

func TestRequest_OfflineTargetStillRecorded(t *testing.T) {
	e := newEnv(t)
	s := NewFriendService(e.deps)
	a := e.user(t, "a")
	b := e.user(t, "b")

	res, err := s.Request(context.Background(), a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, RequestSent, res)
	assert.Equal(t, []string{a.ID.String()}, s.Pending(b.ID))
}

func TestRemove(t *testing.T) {
	e := newEnv(t)
	s := NewFriendService(e.deps)
	ctx := context.Background()

	a := e.user(t, "a")
	b := e.user(t, "b")
	c := e.user(t, "c")
	e.befriend(t, a.ID, b.ID)

	assert.ErrorIs(t, s.Remove(ctx, a.ID, a.ID), ErrInvalidFriend)
	assert.ErrorIs(t, s.Remove(ctx, a.ID, uuid.New()), ErrFriendNotFound)
	assert.ErrorIs(t, s.Remove(ctx, a.ID, c.ID), ErrNotFriend)

	require.NoError(t, s.Remove(ctx, b.ID, a.ID))
	assertFriends(t, e, a.ID, b.ID, false)
}

func TestList(t *testing.T) {
	e := newEnv(t)
	s := NewFriendService(e.deps)
	ctx := context.Background()

	a := e.user(t, "a")
	b := e.user(t, "b")
	c := e.user(t, "c")
	e.befriend(t, a.ID, c.ID)
	e.befriend(t, a.ID, b.ID)

	got, err := s.List(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Name)
	assert.Equal(t, "c", got[1].Name)

	none, err := s.List(ctx, e.user(t, "d").ID)
	require.NoError(t, err)
	assert.Empty(t, none)
}
