package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lastViewed(t *testing.T, e *env, room, user uuid.UUID) time.Time {
	t.Helper()
	p, err := e.store.Participant(context.Background(), room, user)
	require.NoError(t, err)
	return p.LastViewedAt
}

func TestFocus(t *testing.T) {
	e := newEnv(t)
	s := NewRoomService(e.deps)
	ctx := context.Background()

	a := e.user(t, "a")
	r1 := e.room(t, a.ID)
	r2 := e.room(t, a.ID)
	e.online(a.ID)
	created := e.clock

	res, err := s.Focus(ctx, a.ID, r1)
	require.NoError(t, err)
	assert.Equal(t, Focused, res)
	assert.Equal(t, r1.String(), e.hub.Focused(a.ID.String()))

	// focusing the same room again changes nothing
	e.tick(time.Minute)
	res, err = s.Focus(ctx, a.ID, r1)
	require.NoError(t, err)
	assert.Equal(t, AlreadyFocused, res)
	assert.True(t, lastViewed(t, e, r1, a.ID).Equal(created))

	// moving to r2 stamps r1
	res, err = s.Focus(ctx, a.ID, r2)
	require.NoError(t, err)
	assert.Equal(t, Focused, res)
	assert.True(t, lastViewed(t, e, r1, a.ID).Equal(e.clock))
	assert.True(t, lastViewed(t, e, r2, a.ID).Equal(created))
	assert.Equal(t, r2.String(), e.hub.Focused(a.ID.String()))
}

func TestUnFocus(t *testing.T) {
	e := newEnv(t)
	s := NewRoomService(e.deps)
	ctx := context.Background()

	a := e.user(t, "a")
	r := e.room(t, a.ID)
	e.online(a.ID)
	created := e.clock

	res, err := s.UnFocus(ctx, a.ID, r)
	require.NoError(t, err)
	assert.Equal(t, AlreadyUnfocused, res)
	assert.True(t, lastViewed(t, e, r, a.ID).Equal(created))

	_, err = s.Focus(ctx, a.ID, r)
	require.NoError(t, err)
	e.tick(time.Minute)
	res, err = s.UnFocus(ctx, a.ID, r)
	require.NoError(t, err)
	assert.Equal(t, Unfocused, res)
	assert.Empty(t, e.hub.Focused(a.ID.String()))
	assert.True(t, lastViewed(t, e, r, a.ID).Equal(e.clock))
}

func TestFocus_ConcurrentSameRoomFocusesOnce(t *testing.T) {
	e := newEnv(t)
	s := NewRoomService(e.deps)
	ctx := context.Background()

	a := e.user(t, "a")
	r := e.room(t, a.ID)
	e.online(a.ID)

	const n = 8
	results := make([]FocusResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := s.Focus(ctx, a.ID, r)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	focused := 0
	for _, res := range results {
		if res == Focused {
			focused++
		}
	}
	assert.Equal(t, 1, focused, "results %v", results)
	assert.Equal(t, r.String(), e.hub.Focused(a.ID.String()))
}

func TestFocus_Rejects(t *testing.T) {
	e := newEnv(t)
	s := NewRoomService(e.deps)
	ctx := context.Background()

	a := e.user(t, "a")
	b := e.user(t, "b")
	r := e.room(t, b.ID)
	e.online(a.ID)

	_, err := s.Focus(ctx, a.ID, uuid.New())
	assert.ErrorIs(t, err, ErrRoomNotFound)
	_, err = s.Focus(ctx, a.ID, r)
	assert.ErrorIs(t, err, ErrNotInRoom)
	_, err = s.UnFocus(ctx, a.ID, r)
	assert.ErrorIs(t, err, ErrNotInRoom)
	assert.Empty(t, e.hub.Focused(a.ID.String()))
}

func TestFocusResult_String(t *testing.T) {
	tests := map[FocusResult]string{
		Focused:          "Focused",
		AlreadyFocused:   "Already focused",
		Unfocused:        "Unfocused",
		AlreadyUnfocused: "Already unfocused",
	}
	for r, want := range tests {
		if got := r.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}
