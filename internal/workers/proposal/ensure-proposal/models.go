package ensureproposal

import "proposal-workers/internal/models"

type Input struct {
	SessionID string             `json:"sessionId"`
	UserID    string             `json:"userId"`
	Project   models.ProjectData `json:"project"`
}

type Output struct {
	ProposalID string `json:"proposalId"`
	SessionID  string `json:"sessionId"`
}
