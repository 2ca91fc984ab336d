package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"proposal-workers/internal/models"
)

// MemoryStore is an in-process Store with the same merge and status rules as
// PostgresStore. It backs local runs and tests.
type MemoryStore struct {
	mu        sync.Mutex
	proposals map[string]*models.Proposal

	creates int
	updates int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{proposals: map[string]*models.Proposal{}}
}

func (s *MemoryStore) Create(_ context.Context, p *models.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.proposals[p.ID]; exists {
		return fmt.Errorf("proposal %s already exists", p.ID)
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	s.proposals[p.ID] = cloneProposal(p)
	s.creates++
	return nil
}

func (s *MemoryStore) Update(_ context.Context, id string, patch models.ProposalPatch) (*models.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProposalNotFound, id)
	}
	if patch.Status != nil && !patch.AllowRegression && !p.Status.CanAdvanceTo(*patch.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrStatusRegression, p.Status, *patch.Status)
	}

	if patch.Title != nil {
		p.Title = *patch.Title
	}
	if patch.ProjectIdea != nil {
		p.ProjectIdea = *patch.ProjectIdea
	}
	if patch.SelectedPriorities != nil {
		p.SelectedPriorities = append([]string(nil), patch.SelectedPriorities...)
	}
	if patch.TargetGroups != nil {
		p.TargetGroups = *patch.TargetGroups
	}
	if patch.PartnerOrganizations != nil {
		p.PartnerOrganizations = append([]models.PartnerOrganization(nil), patch.PartnerOrganizations...)
	}
	if patch.DurationMonths != nil {
		p.DurationMonths = *patch.DurationMonths
	}
	if patch.Budget != nil {
		p.Budget = *patch.Budget
	}
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	for section, fields := range patch.Answers {
		for field, ans := range fields {
			if ans.Field == "" {
				ans.Field = field
			}
			p.Answers.Set(section, ans)
		}
	}
	for k, v := range patch.Metadata {
		p.Metadata[k] = v
	}
	p.UpdatedAt = time.Now().UTC()
	s.updates++
	return cloneProposal(p), nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProposalNotFound, id)
	}
	return cloneProposal(p), nil
}

func (s *MemoryStore) FindBySession(_ context.Context, sessionID string) (*models.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.Proposal
	for _, p := range s.proposals {
		if p.SessionID == sessionID && (latest == nil || p.CreatedAt.After(latest.CreatedAt)) {
			latest = p
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: session %s", ErrProposalNotFound, sessionID)
	}
	return cloneProposal(latest), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.proposals[id]; !ok {
		return fmt.Errorf("%w: %s", ErrProposalNotFound, id)
	}
	delete(s.proposals, id)
	return nil
}

// Counts reports how many creates and updates reached the store.
func (s *MemoryStore) Counts() (creates, updates int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates, s.updates
}

func cloneProposal(p *models.Proposal) *models.Proposal {
	cp := *p
	cp.SelectedPriorities = append([]string(nil), p.SelectedPriorities...)
	cp.PartnerOrganizations = append([]models.PartnerOrganization(nil), p.PartnerOrganizations...)
	cp.Answers = p.Answers.Clone()
	if cp.Answers == nil {
		cp.Answers = models.Answers{}
	}
	cp.Metadata = map[string]interface{}{}
	if len(p.Metadata) > 0 {
		// round-trip so nested values never alias
		if data, err := json.Marshal(p.Metadata); err == nil {
			_ = json.Unmarshal(data, &cp.Metadata)
		}
	}
	return &cp
}
