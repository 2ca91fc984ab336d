package session

import (
	"context"
	"testing"
	"time"

	"proposal-workers/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]TokenStore {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return map[string]TokenStore{
		"memory": NewMemoryTokenStore(),
		"redis":  NewRedisTokenStore(rdb, time.Hour),
	}
}

// ==========================
// Token lifecycle
// ==========================

func TestSession_TokenStates(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess := New("s-1", "u-1", store)

			first, err := sess.BeginRun(ctx)
			require.NoError(t, err)
			state, err := sess.TokenState(ctx, first)
			require.NoError(t, err)
			assert.Equal(t, TokenActive, state)

			cancelled, err := sess.Cancel(ctx)
			require.NoError(t, err)
			assert.Equal(t, first, cancelled)

			state, err = sess.TokenState(ctx, first)
			require.NoError(t, err)
			assert.Equal(t, TokenCancelled, state)

			second, err := sess.BeginRun(ctx)
			require.NoError(t, err)
			assert.NotEqual(t, first, second)

			state, err = sess.TokenState(ctx, first)
			require.NoError(t, err)
			assert.Equal(t, TokenSuperseded, state, "a restarted run supersedes the cancelled one")

			require.NoError(t, sess.EndRun(ctx, second))
			state, err = sess.TokenState(ctx, first)
			require.NoError(t, err)
			assert.Equal(t, TokenSuperseded, state)

			active, err := sess.ActiveToken(ctx)
			require.NoError(t, err)
			assert.Empty(t, active)
		})
	}
}

func TestSession_EndRunDoesNotClearNewerToken(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess := New("s-2", "u-1", store)

			old, err := sess.BeginRun(ctx)
			require.NoError(t, err)
			newer, err := sess.BeginRun(ctx)
			require.NoError(t, err)

			require.NoError(t, sess.EndRun(ctx, old))

			active, err := sess.ActiveToken(ctx)
			require.NoError(t, err)
			assert.Equal(t, newer, active)
		})
	}
}

func TestSession_CancelWithoutRun(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			token, err := New("s-3", "u-1", store).Cancel(context.Background())
			require.NoError(t, err)
			assert.Empty(t, token)
		})
	}
}

func TestSessions_AreIsolated(t *testing.T) {
	store := NewMemoryTokenStore()
	ctx := context.Background()
	a := New("a", "u-1", store)
	b := New("b", "u-2", store)

	tokenA, err := a.BeginRun(ctx)
	require.NoError(t, err)
	_, err = b.BeginRun(ctx)
	require.NoError(t, err)
	_, err = b.Cancel(ctx)
	require.NoError(t, err)

	state, err := a.TokenState(ctx, tokenA)
	require.NoError(t, err)
	assert.Equal(t, TokenActive, state)
}

// ==========================
// Session state
// ==========================

func TestSession_CreditsCache(t *testing.T) {
	sess := New("s", "u", NewMemoryTokenStore())

	_, ok := sess.Credits()
	assert.False(t, ok)

	sess.SetCredits(models.CreditState{HasSubscription: true, ProposalsRemaining: 2, ProposalsLimit: 5})
	c, ok := sess.Credits()
	assert.True(t, ok)
	assert.Equal(t, 2, c.ProposalsRemaining)

	sess.InvalidateCredits()
	_, ok = sess.Credits()
	assert.False(t, ok)
}

func TestRegistry_GetReturnsSameSession(t *testing.T) {
	reg := NewRegistry(NewMemoryTokenStore())

	s1 := reg.Get("s-1", "u-1")
	s1.SetProposalID("p-1")
	s2 := reg.Get("s-1", "u-1")
	assert.Same(t, s1, s2)
	assert.Equal(t, "p-1", s2.ProposalID())

	reg.Remove("s-1")
	_, ok := reg.Lookup("s-1")
	assert.False(t, ok)
}

func TestRedisTokenStore_CancelledMarkerExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisTokenStore(rdb, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.SetActive(ctx, "s", "tok"))
	_, err := store.Cancel(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, mr.TTL("generation:cancelled:s"))

	mr.FastForward(2 * time.Minute)
	last, err := store.LastCancelled(ctx, "s")
	require.NoError(t, err)
	assert.Empty(t, last)
}
