package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"proposal-workers/internal/common/logger"
	"proposal-workers/internal/core/session"
	"proposal-workers/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slowStore struct {
	*MemoryStore
	delay time.Duration
}

func (s *slowStore) Create(ctx context.Context, p *models.Proposal) error {
	time.Sleep(s.delay)
	return s.MemoryStore.Create(ctx, p)
}

func draft() models.ProjectData {
	return models.ProjectData{
		Title:              "Digital skills for rural schools",
		ProjectIdea:        "Teachers in rural areas lack training.",
		SelectedPriorities: []string{"digital_transformation"},
		DurationMonths:     24,
	}
}

func newSession(id string) *session.Session {
	return session.New(id, "user-1", session.NewMemoryTokenStore())
}

// ==========================
// EnsureProposal
// ==========================

func TestManager_EnsureProposal_ConcurrentCallsCreateOnce(t *testing.T) {
	store := &slowStore{MemoryStore: NewMemoryStore(), delay: 50 * time.Millisecond}
	m := NewManager(store, logger.NewTestLogger(t))
	sess := newSession("sess-1")

	var wg sync.WaitGroup
	ids := make([]string, 2)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := m.EnsureProposal(context.Background(), sess, draft())
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	creates, _ := store.Counts()
	assert.Equal(t, 1, creates)
	assert.NotEmpty(t, ids[0])
	assert.Equal(t, ids[0], ids[1])
	assert.Equal(t, ids[0], sess.ProposalID())
}

func TestManager_EnsureProposal_StoresDraftAndInput(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store, logger.NewTestLogger(t))

	id, err := m.EnsureProposal(context.Background(), newSession("sess-2"), draft())
	require.NoError(t, err)

	p, err := m.GetProposal(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, p.Status)
	assert.Equal(t, "Digital skills for rural schools", p.Title)
	input, ok := p.Metadata["input"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Digital skills for rural schools", input["title"])
}

func TestManager_EnsureProposal_ReusesProposalOfRestartedSession(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store, logger.NewTestLogger(t))

	first, err := m.EnsureProposal(context.Background(), newSession("sess-3"), draft())
	require.NoError(t, err)

	second, err := m.EnsureProposal(context.Background(), newSession("sess-3"), draft())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	creates, _ := store.Counts()
	assert.Equal(t, 1, creates)
}

// ==========================
// Status transitions
// ==========================

func TestManager_StatusIsMonotonic(t *testing.T) {
	m := NewManager(NewMemoryStore(), logger.NewTestLogger(t))
	ctx := context.Background()
	id, err := m.EnsureProposal(ctx, newSession("sess-4"), draft())
	require.NoError(t, err)

	p, err := m.AdvanceStatus(ctx, id, models.StatusGenerating)
	require.NoError(t, err)
	assert.Equal(t, models.StatusGenerating, p.Status)

	p, err = m.AdvanceStatus(ctx, id, models.StatusGenerated)
	require.NoError(t, err)
	assert.Equal(t, models.StatusGenerated, p.Status)

	_, err = m.UpdateProposal(ctx, id, models.StatusPatch(models.StatusDraft))
	assert.ErrorIs(t, err, ErrStatusRegression)

	p, err = m.AdvanceStatus(ctx, id, models.StatusGenerating)
	require.NoError(t, err, "advancing to an earlier status is a no-op")
	assert.Equal(t, models.StatusGenerated, p.Status)

	p, err = m.RevertToDraft(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, p.Status)
}

func TestManager_UpdateProposal_RejectsUnknownStatus(t *testing.T) {
	m := NewManager(NewMemoryStore(), logger.NewTestLogger(t))
	_, err := m.UpdateProposal(context.Background(), "p", models.StatusPatch("archived"))
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestManager_SaveAnswers_MergesFieldsAndRecomputesCounts(t *testing.T) {
	m := NewManager(NewMemoryStore(), logger.NewTestLogger(t))
	ctx := context.Background()
	id, err := m.EnsureProposal(ctx, newSession("sess-5"), draft())
	require.NoError(t, err)

	_, err = m.SaveAnswers(ctx, id, models.Answers{
		"relevance": {"innovation": {Field: "innovation", Text: "first", CharacterCount: 1}},
	})
	require.NoError(t, err)

	p, err := m.SaveAnswers(ctx, id, models.Answers{
		"relevance": {"complementarity": {Field: "complementarity", Text: "second"}},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, p.Answers.Count())
	assert.Equal(t, 5, p.Answers["relevance"]["innovation"].CharacterCount)
}

func TestManager_DeleteProposal(t *testing.T) {
	m := NewManager(NewMemoryStore(), logger.NewTestLogger(t))
	ctx := context.Background()
	id, err := m.EnsureProposal(ctx, newSession("sess-6"), draft())
	require.NoError(t, err)

	require.NoError(t, m.DeleteProposal(ctx, id))
	_, err = m.GetProposal(ctx, id)
	assert.ErrorIs(t, err, ErrProposalNotFound)
	assert.ErrorIs(t, m.DeleteProposal(ctx, id), ErrProposalNotFound)
}
