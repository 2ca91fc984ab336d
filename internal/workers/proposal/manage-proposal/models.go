package manageproposal

import "proposal-workers/internal/models"

// Actions accepted by the manage-proposal worker.
const (
	ActionGet    = "get"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionSubmit = "submit"
	// ActionReopen is the explicit edit that moves a proposal back to draft.
	ActionReopen = "reopen"
)

type Input struct {
	Action     string                `json:"action"`
	ProposalID string                `json:"proposalId"`
	Patch      *models.ProposalPatch `json:"patch,omitempty"`
}

type Output struct {
	ProposalID string           `json:"proposalId"`
	Action     string           `json:"action"`
	Status     string           `json:"status,omitempty"`
	Proposal   *models.Proposal `json:"proposal,omitempty"`
	Deleted    bool             `json:"deleted,omitempty"`
}
