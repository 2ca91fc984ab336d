package cancelgeneration

import (
	"context"
	"testing"
	"time"

	"proposal-workers/internal/common/logger"
	"proposal-workers/internal/core/session"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestConfig() *Config {
	return &Config{Enabled: true, Timeout: 5 * time.Second}
}

func TestHandler_Execute_CancelsActiveRun(t *testing.T) {
	registry := session.NewRegistry(session.NewMemoryTokenStore())
	h := NewHandler(createTestConfig(), registry, logger.NewTestLogger(t))
	ctx := context.Background()

	sess := registry.Get("sess-1", "user-1")
	token, err := sess.BeginRun(ctx)
	require.NoError(t, err)

	out, err := h.Execute(ctx, &Input{SessionID: "sess-1", UserID: "user-1"})
	require.NoError(t, err)
	assert.True(t, out.Cancelled)
	assert.Equal(t, token, out.RunToken)

	state, err := sess.TokenState(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, session.TokenCancelled, state)
}

func TestHandler_Execute_NothingToCancel(t *testing.T) {
	registry := session.NewRegistry(session.NewMemoryTokenStore())
	h := NewHandler(createTestConfig(), registry, logger.NewTestLogger(t))

	out, err := h.Execute(context.Background(), &Input{SessionID: "sess-idle", UserID: "user-1"})
	require.NoError(t, err)
	assert.False(t, out.Cancelled)
	assert.Empty(t, out.RunToken)
}

func TestHandler_Execute_CancelsRunOnAnotherInstance(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	// two worker instances sharing one redis
	running := session.NewRegistry(session.NewRedisTokenStore(client, time.Hour))
	cancelling := session.NewRegistry(session.NewRedisTokenStore(client, time.Hour))
	h := NewHandler(createTestConfig(), cancelling, logger.NewTestLogger(t))

	sess := running.Get("sess-1", "user-1")
	token, err := sess.BeginRun(ctx)
	require.NoError(t, err)

	out, err := h.Execute(ctx, &Input{SessionID: "sess-1", UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, token, out.RunToken)

	state, err := sess.TokenState(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, session.TokenCancelled, state)
}

func TestHandler_Execute_RequiresSession(t *testing.T) {
	registry := session.NewRegistry(session.NewMemoryTokenStore())
	h := NewHandler(createTestConfig(), registry, logger.NewTestLogger(t))

	_, err := h.Execute(context.Background(), &Input{})
	require.ErrorIs(t, err, ErrInvalidInput)
}
