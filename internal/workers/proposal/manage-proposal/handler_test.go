package manageproposal

import (
	"context"
	"errors"
	"testing"
	"time"

	"proposal-workers/internal/common/logger"
	"proposal-workers/internal/core/autosave"
	"proposal-workers/internal/core/catalog"
	"proposal-workers/internal/core/lifecycle"
	"proposal-workers/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

// flakySaver refuses answer writes while failAnswers is set.
type flakySaver struct {
	next        *lifecycle.Manager
	failAnswers bool
}

func (s *flakySaver) UpdateProposal(ctx context.Context, id string, patch models.ProposalPatch) (*models.Proposal, error) {
	if s.failAnswers && len(patch.Answers) > 0 {
		return nil, errors.New("connection reset")
	}
	return s.next.UpdateProposal(ctx, id, patch)
}

type fixture struct {
	handler *Handler
	store   *lifecycle.MemoryStore
	coord   *autosave.Coordinator
	saver   *flakySaver
}

func newFixture(t *testing.T, status models.ProposalStatus) *fixture {
	t.Helper()
	log := logger.NewTestLogger(t)

	store := lifecycle.NewMemoryStore()
	require.NoError(t, store.Create(context.Background(), &models.Proposal{
		ID:          "p-1",
		ProjectData: models.ProjectData{Title: "Green Schools"},
		Status:      status,
		Answers:     models.Answers{},
		Metadata:    map[string]interface{}{},
	}))

	manager := lifecycle.NewManager(store, log)
	saver := &flakySaver{next: manager}
	coord := autosave.NewCoordinator(saver, time.Hour, log)
	cat := catalog.New(catalog.NewStaticSource(catalog.DefaultBank()), log)

	return &fixture{
		handler: NewHandler(&Config{Enabled: true, Timeout: 5 * time.Second}, manager, cat, coord, log),
		store:   store,
		coord:   coord,
		saver:   saver,
	}
}

func strPtr(s string) *string { return &s }

// ==========================
// Read Tests
// ==========================

func TestHandler_Execute_GetFlushesPendingSave(t *testing.T) {
	f := newFixture(t, models.StatusGenerated)

	snapshot := models.Answers{}
	snapshot.Set("project_design", models.NewAnswer("DES-04", "timeline", "Month 1 to 24"))
	f.coord.Save("p-1", snapshot)

	out, err := f.handler.Execute(context.Background(), &Input{Action: ActionGet, ProposalID: "p-1"})
	require.NoError(t, err)

	assert.Equal(t, "generated", out.Status)
	require.NotNil(t, out.Proposal)
	assert.Equal(t, "Month 1 to 24", out.Proposal.Answers["project_design"]["timeline"].Text)
}

func TestHandler_Execute_GetUnknownProposal(t *testing.T) {
	f := newFixture(t, models.StatusDraft)

	_, err := f.handler.Execute(context.Background(), &Input{Action: ActionGet, ProposalID: "missing"})
	require.ErrorIs(t, err, lifecycle.ErrProposalNotFound)
	assert.Equal(t, "PROPOSAL_NOT_FOUND", string(toStandardError(err, "missing").Code))
}

// ==========================
// Write Tests
// ==========================

func TestHandler_Execute_UpdateMergesFields(t *testing.T) {
	f := newFixture(t, models.StatusDraft)

	out, err := f.handler.Execute(context.Background(), &Input{
		Action:     ActionUpdate,
		ProposalID: "p-1",
		Patch:      &models.ProposalPatch{TargetGroups: strPtr("teachers")},
	})
	require.NoError(t, err)

	assert.Equal(t, "Green Schools", out.Proposal.Title)
	assert.Equal(t, "teachers", out.Proposal.TargetGroups)
}

func TestHandler_Execute_UpdateCannotRegressStatus(t *testing.T) {
	f := newFixture(t, models.StatusGenerated)

	draft := models.StatusDraft
	_, err := f.handler.Execute(context.Background(), &Input{
		Action:     ActionUpdate,
		ProposalID: "p-1",
		Patch:      &models.ProposalPatch{Status: &draft},
	})
	require.ErrorIs(t, err, lifecycle.ErrStatusRegression)
	assert.Equal(t, "STATUS_REGRESSION", string(toStandardError(err, "p-1").Code))
}

func TestHandler_Execute_ReopenMovesBackToDraft(t *testing.T) {
	f := newFixture(t, models.StatusGenerated)

	snapshot := models.Answers{}
	snapshot.Set("impact", models.NewAnswer("IMP-04", "sustainability", "Kept after reopen"))
	f.coord.Save("p-1", snapshot)

	out, err := f.handler.Execute(context.Background(), &Input{Action: ActionReopen, ProposalID: "p-1"})
	require.NoError(t, err)
	assert.Equal(t, "draft", out.Status)
	assert.Equal(t, "Kept after reopen", out.Proposal.Answers["impact"]["sustainability"].Text)

	p, err := f.store.Get(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, p.Status)
}

func TestHandler_Execute_ReopenUnknownProposal(t *testing.T) {
	f := newFixture(t, models.StatusGenerated)

	_, err := f.handler.Execute(context.Background(), &Input{Action: ActionReopen, ProposalID: "missing"})
	require.ErrorIs(t, err, lifecycle.ErrProposalNotFound)
}

func TestHandler_Execute_SubmitRetriesFailedAnswerWrite(t *testing.T) {
	f := newFixture(t, models.StatusGenerated)
	ctx := context.Background()

	snapshot := models.Answers{}
	snapshot.Set("project_design", models.NewAnswer("DES-04", "timeline", "Month 1 to 24"))
	f.saver.failAnswers = true
	require.ErrorIs(t, f.coord.SaveNow(ctx, "p-1", snapshot), autosave.ErrPersistenceFailed)

	_, err := f.handler.Execute(ctx, &Input{Action: ActionSubmit, ProposalID: "p-1"})
	require.ErrorIs(t, err, autosave.ErrPersistenceFailed)
	assert.Equal(t, "PERSISTENCE_FAILED", string(toStandardError(err, "p-1").Code))

	f.saver.failAnswers = false
	out, err := f.handler.Execute(ctx, &Input{Action: ActionSubmit, ProposalID: "p-1"})
	require.NoError(t, err)
	assert.Equal(t, "submitted", out.Status)
	assert.Equal(t, "Month 1 to 24", out.Proposal.Answers["project_design"]["timeline"].Text)
}

func TestHandler_Execute_Submit(t *testing.T) {
	tests := []struct {
		name       string
		status     models.ProposalStatus
		wantErr    error
		wantStatus string
	}{
		{"generated proposal is submitted", models.StatusGenerated, nil, "submitted"},
		{"already submitted is a no-op", models.StatusSubmitted, nil, "submitted"},
		{"draft cannot be submitted", models.StatusDraft, ErrNotSubmittable, ""},
		{"generating cannot be submitted", models.StatusGenerating, ErrNotSubmittable, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.status)

			out, err := f.handler.Execute(context.Background(), &Input{Action: ActionSubmit, ProposalID: "p-1"})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, "VALIDATION_FAILED", string(toStandardError(err, "p-1").Code))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, out.Status)
		})
	}
}

func TestHandler_Execute_Delete(t *testing.T) {
	f := newFixture(t, models.StatusDraft)
	ctx := context.Background()

	out, err := f.handler.Execute(ctx, &Input{Action: ActionDelete, ProposalID: "p-1"})
	require.NoError(t, err)
	assert.True(t, out.Deleted)

	_, err = f.store.Get(ctx, "p-1")
	require.ErrorIs(t, err, lifecycle.ErrProposalNotFound)
}

// ==========================
// Validation Tests
// ==========================

func TestHandler_Execute_InvalidInput(t *testing.T) {
	f := newFixture(t, models.StatusDraft)

	tests := []struct {
		name  string
		input *Input
	}{
		{"missing proposal id", &Input{Action: ActionGet}},
		{"unknown action", &Input{Action: "archive", ProposalID: "p-1"}},
		{"update without patch", &Input{Action: ActionUpdate, ProposalID: "p-1"}},
		{"update with empty patch", &Input{Action: ActionUpdate, ProposalID: "p-1", Patch: &models.ProposalPatch{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.handler.Execute(context.Background(), tt.input)
			require.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}
