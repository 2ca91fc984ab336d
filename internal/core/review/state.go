// Package review keeps the local edit buffer a user works in after
// generation. Nothing reaches the proposal until Save.
package review

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"proposal-workers/internal/common/logger"
	"proposal-workers/internal/core/aggregator"
	"proposal-workers/internal/core/catalog"
	"proposal-workers/internal/models"
)

var (
	ErrEditInProgress = errors.New("EDIT_IN_PROGRESS")
	ErrUnknownField   = errors.New("UNKNOWN_FIELD")
	ErrNotEditing     = errors.New("NOT_EDITING")
)

// Committer is the auto-save path edits are committed through.
type Committer interface {
	SaveNow(ctx context.Context, id string, snapshot models.Answers) error
	Apply(ctx context.Context, id string, patch models.ProposalPatch) (*models.Proposal, error)
}

type State struct {
	proposalID string
	index      catalog.FieldIndex
	committer  Committer
	logger     logger.Logger

	mu      sync.Mutex
	status  models.ProposalStatus
	saved   models.Answers
	buffer  map[string]models.Answer // field -> pending edit
	editing map[string]string        // section -> field in edit mode
}

// New starts a review of p. The proposal's answers become the last-known
// saved snapshot.
func New(p *models.Proposal, index catalog.FieldIndex, committer Committer, log logger.Logger) *State {
	saved := p.Answers.Clone()
	if saved == nil {
		saved = models.Answers{}
	}
	return &State{
		proposalID: p.ID,
		index:      index,
		committer:  committer,
		logger:     log.WithFields(map[string]interface{}{"component": "review", "proposalId": p.ID}),
		status:     p.Status,
		saved:      saved,
		buffer:     map[string]models.Answer{},
		editing:    map[string]string{},
	}
}

// sectionOf resolves where field lives: the catalog first, then wherever
// the saved answers filed it.
func (s *State) sectionOf(field string) (string, bool) {
	if section, ok := s.index.SectionOf(field); ok {
		return section, true
	}
	for section, fields := range s.saved {
		if _, ok := fields[field]; ok {
			return section, true
		}
	}
	return "", false
}

// BeginEdit puts field into edit mode. Only one field per section may be in
// edit mode at a time.
func (s *State) BeginEdit(section, field string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	owner, ok := s.sectionOf(field)
	if !ok || owner != section {
		return fmt.Errorf("%w: %s/%s", ErrUnknownField, section, field)
	}
	if current, busy := s.editing[section]; busy && current != field {
		return fmt.Errorf("%w: %s is being edited in %s", ErrEditInProgress, current, section)
	}
	s.editing[section] = field
	return nil
}

// Edit replaces the buffered text of a field in edit mode.
func (s *State) Edit(field, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	section, ok := s.sectionOf(field)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	if s.editing[section] != field {
		return fmt.Errorf("%w: %s", ErrNotEditing, field)
	}

	ans, exists := s.saved[section][field]
	if !exists {
		ans = models.Answer{Field: field}
		if ref, ok := s.index[field]; ok {
			ans.QuestionID = ref.Question.ID
		}
	}
	ans.Text = text
	// quality scores are server-assigned and no longer apply to edited text
	ans.QualityScore = nil
	s.buffer[field] = ans.Normalized()
	return nil
}

// CancelEdit leaves edit mode for section and drops its buffered edit.
func (s *State) CancelEdit(section string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if field, ok := s.editing[section]; ok {
		delete(s.buffer, field)
		delete(s.editing, section)
	}
}

// Editing returns the field in edit mode for section, if any.
func (s *State) Editing(section string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	field, ok := s.editing[section]
	return field, ok
}

// Dirty reports buffered edits that differ from the saved snapshot.
func (s *State) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.changes()) > 0
}

func (s *State) changes() map[string]models.Answer {
	out := map[string]models.Answer{}
	for field, ans := range s.buffer {
		section, _ := s.sectionOf(field)
		if saved, ok := s.saved[section][field]; ok && saved.Text == ans.Text {
			continue
		}
		out[field] = ans
	}
	return out
}

func (s *State) overlay() models.Answers {
	out := s.saved.Clone()
	for field, ans := range s.buffer {
		section, _ := s.sectionOf(field)
		out.Set(section, ans)
	}
	return out
}

// View returns the answers as the user sees them, edits included, grouped in
// catalog order.
func (s *State) View() map[string][]aggregator.AnswerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return aggregator.Aggregate(aggregator.Flatten(s.overlay()), s.index, s.logger)
}

// Saved returns a copy of the last-known saved snapshot.
func (s *State) Saved() models.Answers {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved.Clone()
}

func (s *State) Status() models.ProposalStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Save commits the buffered edits and leaves edit mode everywhere. On
// failure the buffer is kept so the user can retry.
func (s *State) Save(ctx context.Context) error {
	s.mu.Lock()
	changes := s.changes()
	if len(changes) == 0 {
		s.buffer = map[string]models.Answer{}
		s.editing = map[string]string{}
		s.mu.Unlock()
		return nil
	}
	snapshot := s.overlay()
	s.mu.Unlock()

	if err := s.committer.SaveNow(ctx, s.proposalID, snapshot); err != nil {
		s.logger.Warn("saving edits failed", map[string]interface{}{
			"fields": len(changes),
			"error":  err.Error(),
		})
		return err
	}

	s.mu.Lock()
	s.saved = snapshot
	s.buffer = map[string]models.Answer{}
	s.editing = map[string]string{}
	s.mu.Unlock()

	s.logger.Info("edits saved", map[string]interface{}{"fields": len(changes)})
	return nil
}

// ReopenDraft is the explicit edit action that moves a generated proposal
// back to draft.
func (s *State) ReopenDraft(ctx context.Context) (*models.Proposal, error) {
	patch := models.StatusPatch(models.StatusDraft)
	patch.AllowRegression = true

	p, err := s.committer.Apply(ctx, s.proposalID, patch)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.status = p.Status
	s.mu.Unlock()
	return p, nil
}
