package models

import "time"

type GenerationMode string

const (
	ModeBulk        GenerationMode = "bulk"
	ModeProgressive GenerationMode = "progressive"
)

func (m GenerationMode) Valid() bool {
	return m == ModeBulk || m == ModeProgressive
}

type RunStatus string

const (
	RunIdle            RunStatus = "idle"
	RunCheckingCredits RunStatus = "checking_credits"
	RunRunning         RunStatus = "running"
	RunCancelled       RunStatus = "cancelled"
	RunCompleted       RunStatus = "completed"
	RunFailed          RunStatus = "failed"
)

func (s RunStatus) Terminal() bool {
	return s == RunCancelled || s == RunCompleted || s == RunFailed
}

type QuestionOutcome string

const (
	OutcomePending QuestionOutcome = "pending"
	OutcomeOK      QuestionOutcome = "ok"
	OutcomeErrored QuestionOutcome = "errored"
)

// QuestionResult records how one question settled within a run.
type QuestionResult struct {
	Section           string          `json:"section"`
	QuestionID        string          `json:"question_id"`
	Field             string          `json:"field"`
	Outcome           QuestionOutcome `json:"outcome"`
	Attempts          int             `json:"attempts"`
	TransientFailures int             `json:"transient_failures"`
	Error             string          `json:"error,omitempty"`
}

// GenerationRun is the observable state of one generation invocation.
type GenerationRun struct {
	Token          string           `json:"token"`
	ProposalID     string           `json:"proposal_id"`
	Mode           GenerationMode   `json:"mode"`
	Status         RunStatus        `json:"status"`
	Progress       int              `json:"progress"`
	TotalQuestions int              `json:"total_questions"`
	Answered       int              `json:"answered"`
	Errored        int              `json:"errored"`
	Questions      []QuestionResult `json:"questions,omitempty"`
	Answers        Answers          `json:"answers,omitempty"`
	PendingSave    bool             `json:"pending_save"`
	CreditConsumed bool             `json:"credit_consumed"`
	Error          string           `json:"error,omitempty"`
	StartedAt      time.Time        `json:"started_at"`
	FinishedAt     time.Time        `json:"finished_at,omitempty"`
}

// Result returns the outcome recorded for field, if any.
func (r *GenerationRun) Result(field string) (QuestionResult, bool) {
	for _, q := range r.Questions {
		if q.Field == field {
			return q, true
		}
	}
	return QuestionResult{}, false
}

// Settled counts questions that are no longer pending.
func (r *GenerationRun) Settled() int {
	n := 0
	for _, q := range r.Questions {
		if q.Outcome != OutcomePending {
			n++
		}
	}
	return n
}
