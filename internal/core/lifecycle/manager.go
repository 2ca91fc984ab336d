// Package lifecycle owns the persisted proposal draft: creation, server-side
// merging updates and monotonic status transitions.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"proposal-workers/internal/common/logger"
	"proposal-workers/internal/core/session"
	"proposal-workers/internal/models"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

var (
	ErrProposalNotFound = errors.New("PROPOSAL_NOT_FOUND")
	ErrStatusRegression = errors.New("STATUS_REGRESSION")
	ErrInvalidStatus    = errors.New("INVALID_STATUS")
)

type Manager struct {
	store  Store
	logger logger.Logger
	group  singleflight.Group
}

func NewManager(store Store, log logger.Logger) *Manager {
	return &Manager{
		store:  store,
		logger: log.WithFields(map[string]interface{}{"component": "lifecycle"}),
	}
}

// EnsureProposal returns the session's proposal, creating it on first use.
// Concurrent calls for one session share a single create.
func (m *Manager) EnsureProposal(ctx context.Context, sess *session.Session, draft models.ProjectData) (string, error) {
	if id := sess.ProposalID(); id != "" {
		return id, nil
	}

	v, err, shared := m.group.Do(sess.ID, func() (interface{}, error) {
		if id := sess.ProposalID(); id != "" {
			return id, nil
		}

		existing, err := m.store.FindBySession(ctx, sess.ID)
		switch {
		case err == nil:
			sess.SetProposalID(existing.ID)
			return existing.ID, nil
		case !errors.Is(err, ErrProposalNotFound):
			return nil, err
		}

		p := &models.Proposal{
			ID:          uuid.NewString(),
			SessionID:   sess.ID,
			UserID:      sess.UserID,
			ProjectData: draft,
			Status:      models.StatusDraft,
			Answers:     models.Answers{},
			Metadata:    map[string]interface{}{"input": draft},
		}
		if err := m.store.Create(ctx, p); err != nil {
			return nil, fmt.Errorf("create proposal: %w", err)
		}
		sess.SetProposalID(p.ID)

		m.logger.Info("proposal created", map[string]interface{}{
			"proposalId": p.ID,
			"sessionId":  sess.ID,
		})
		return p.ID, nil
	})
	if err != nil {
		return "", err
	}
	if shared {
		m.logger.Debug("ensureProposal coalesced with in-flight create", map[string]interface{}{"sessionId": sess.ID})
	}
	return v.(string), nil
}

// UpdateProposal merges patch into the stored proposal and returns the
// server's merged result.
func (m *Manager) UpdateProposal(ctx context.Context, id string, patch models.ProposalPatch) (*models.Proposal, error) {
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, *patch.Status)
	}
	if patch.Answers != nil {
		patch.Answers = patch.Answers.Clone()
		patch.Answers.Normalize()
	}
	return m.store.Update(ctx, id, patch)
}

func (m *Manager) GetProposal(ctx context.Context, id string) (*models.Proposal, error) {
	return m.store.Get(ctx, id)
}

func (m *Manager) DeleteProposal(ctx context.Context, id string) error {
	return m.store.Delete(ctx, id)
}

// AdvanceStatus moves the proposal forward. A proposal already at or past
// status is returned unchanged.
func (m *Manager) AdvanceStatus(ctx context.Context, id string, status models.ProposalStatus) (*models.Proposal, error) {
	p, err := m.UpdateProposal(ctx, id, models.StatusPatch(status))
	if errors.Is(err, ErrStatusRegression) {
		m.logger.Debug("status already past target, leaving unchanged", map[string]interface{}{
			"proposalId": id,
			"target":     string(status),
		})
		return m.store.Get(ctx, id)
	}
	return p, err
}

// RevertToDraft is the explicit edit action that may move status backwards.
func (m *Manager) RevertToDraft(ctx context.Context, id string) (*models.Proposal, error) {
	patch := models.StatusPatch(models.StatusDraft)
	patch.AllowRegression = true
	return m.UpdateProposal(ctx, id, patch)
}

// SaveAnswers merges answers into the proposal.
func (m *Manager) SaveAnswers(ctx context.Context, id string, answers models.Answers) (*models.Proposal, error) {
	return m.UpdateProposal(ctx, id, models.ProposalPatch{Answers: answers})
}
