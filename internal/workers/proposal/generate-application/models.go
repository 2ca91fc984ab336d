package generateapplication

import "proposal-workers/internal/models"

type Input struct {
	SessionID  string                `json:"sessionId"`
	UserID     string                `json:"userId"`
	ProposalID string                `json:"proposalId,omitempty"`
	Project    models.ProjectData    `json:"project"`
	Mode       models.GenerationMode `json:"mode,omitempty"`
}

type Output struct {
	ProposalID     string           `json:"proposalId"`
	RunToken       string           `json:"runToken"`
	RunStatus      models.RunStatus `json:"runStatus"`
	Progress       int              `json:"progress"`
	TotalQuestions int              `json:"totalQuestions"`
	Answered       int              `json:"answered"`
	Errored        int              `json:"errored"`
	PendingSave    bool             `json:"pendingSave"`
	CreditConsumed bool             `json:"creditConsumed"`
	RunError       string           `json:"runError,omitempty"`
}

func newOutput(run *models.GenerationRun) *Output {
	return &Output{
		ProposalID:     run.ProposalID,
		RunToken:       run.Token,
		RunStatus:      run.Status,
		Progress:       run.Progress,
		TotalQuestions: run.TotalQuestions,
		Answered:       run.Answered,
		Errored:        run.Errored,
		PendingSave:    run.PendingSave,
		CreditConsumed: run.CreditConsumed,
		RunError:       run.Error,
	}
}
