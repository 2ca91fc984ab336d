// Package session holds the per-user state a generation run depends on: the
// active proposal, the cached credit snapshot and the active run token.
package session

import (
	"context"
	"fmt"
	"sync"

	"proposal-workers/internal/models"

	"github.com/google/uuid"
)

type TokenState string

const (
	TokenActive     TokenState = "active"
	TokenCancelled  TokenState = "cancelled"
	TokenSuperseded TokenState = "superseded"
)

type Session struct {
	ID     string
	UserID string

	tokens TokenStore

	mu         sync.Mutex
	proposalID string
	credits    *models.CreditState
}

func New(id, userID string, tokens TokenStore) *Session {
	return &Session{ID: id, UserID: userID, tokens: tokens}
}

func (s *Session) ProposalID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proposalID
}

func (s *Session) SetProposalID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proposalID = id
}

// Credits returns the cached credit snapshot, if one was fetched.
func (s *Session) Credits() (models.CreditState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.credits == nil {
		return models.CreditState{}, false
	}
	return *s.credits, true
}

func (s *Session) SetCredits(c models.CreditState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credits = &c
}

// InvalidateCredits forces the next run to refetch the snapshot.
func (s *Session) InvalidateCredits() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credits = nil
}

// BeginRun issues a fresh token and makes it the active one, superseding any
// earlier run of this session.
func (s *Session) BeginRun(ctx context.Context) (string, error) {
	token := uuid.NewString()
	if err := s.tokens.SetActive(ctx, s.ID, token); err != nil {
		return "", fmt.Errorf("activate generation token: %w", err)
	}
	return token, nil
}

// Cancel stops the active run, if any, and returns its token.
func (s *Session) Cancel(ctx context.Context) (string, error) {
	return s.tokens.Cancel(ctx, s.ID)
}

// ActiveToken returns the token of the running generation, or "".
func (s *Session) ActiveToken(ctx context.Context) (string, error) {
	return s.tokens.Active(ctx, s.ID)
}

// TokenState classifies token against the session's current state. A token
// that is neither active nor the last cancelled one has been superseded.
func (s *Session) TokenState(ctx context.Context, token string) (TokenState, error) {
	active, err := s.tokens.Active(ctx, s.ID)
	if err != nil {
		return "", err
	}
	if active == token {
		return TokenActive, nil
	}
	if active != "" {
		return TokenSuperseded, nil
	}
	cancelled, err := s.tokens.LastCancelled(ctx, s.ID)
	if err != nil {
		return "", err
	}
	if cancelled == token {
		return TokenCancelled, nil
	}
	return TokenSuperseded, nil
}

// EndRun releases token if it is still the active one.
func (s *Session) EndRun(ctx context.Context, token string) error {
	_, err := s.tokens.Release(ctx, s.ID, token)
	return err
}

// Registry maps session ids to live sessions.
type Registry struct {
	tokens TokenStore

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(tokens TokenStore) *Registry {
	return &Registry{tokens: tokens, sessions: map[string]*Session{}}
}

// Get returns the session for id, creating it on first use.
func (r *Registry) Get(id, userID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s
	}
	s := New(id, userID, r.tokens)
	r.sessions[id] = s
	return s
}

func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}
