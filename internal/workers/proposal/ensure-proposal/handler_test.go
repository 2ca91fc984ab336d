package ensureproposal

import (
	"context"
	"sync"
	"testing"
	"time"

	"proposal-workers/internal/common/logger"
	"proposal-workers/internal/core/lifecycle"
	"proposal-workers/internal/core/session"
	"proposal-workers/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

func createTestHandler(t *testing.T) (*Handler, *lifecycle.MemoryStore) {
	store := lifecycle.NewMemoryStore()
	log := logger.NewTestLogger(t)
	manager := lifecycle.NewManager(store, log)
	registry := session.NewRegistry(session.NewMemoryTokenStore())
	return NewHandler(&Config{Enabled: true, Timeout: 5 * time.Second}, manager, registry, log), store
}

func createInput(sessionID string) *Input {
	return &Input{
		SessionID: sessionID,
		UserID:    "user-1",
		Project:   models.ProjectData{Title: "Green Schools"},
	}
}

// ==========================
// Core Functionality Tests
// ==========================

func TestHandler_Execute_CreatesOnce(t *testing.T) {
	h, store := createTestHandler(t)
	ctx := context.Background()

	first, err := h.Execute(ctx, createInput("sess-1"))
	require.NoError(t, err)
	require.NotEmpty(t, first.ProposalID)

	second, err := h.Execute(ctx, createInput("sess-1"))
	require.NoError(t, err)
	assert.Equal(t, first.ProposalID, second.ProposalID)

	creates, _ := store.Counts()
	assert.Equal(t, 1, creates)

	p, err := store.Get(ctx, first.ProposalID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, p.Status)
	assert.Equal(t, "Green Schools", p.Title)
}

func TestHandler_Execute_ConcurrentCallsShareProposal(t *testing.T) {
	h, store := createTestHandler(t)

	const callers = 8
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := h.Execute(context.Background(), createInput("sess-race"))
			if err == nil {
				ids[i] = out.ProposalID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	creates, _ := store.Counts()
	assert.Equal(t, 1, creates)
}

func TestHandler_Execute_SeparateSessions(t *testing.T) {
	h, _ := createTestHandler(t)

	a, err := h.Execute(context.Background(), createInput("sess-a"))
	require.NoError(t, err)
	b, err := h.Execute(context.Background(), createInput("sess-b"))
	require.NoError(t, err)

	assert.NotEqual(t, a.ProposalID, b.ProposalID)
}

// ==========================
// Validation Tests
// ==========================

func TestHandler_Execute_MissingIdentifiers(t *testing.T) {
	h, _ := createTestHandler(t)

	tests := []struct {
		name  string
		input *Input
	}{
		{"missing session", &Input{UserID: "user-1"}},
		{"missing user", &Input{SessionID: "sess-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Execute(context.Background(), tt.input)
			require.ErrorIs(t, err, ErrInvalidInput)
			assert.Equal(t, "VALIDATION_FAILED", string(toStandardError(err).Code))
		})
	}
}
