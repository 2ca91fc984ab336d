package checkcredits

type Input struct {
	UserID string `json:"userId"`
	// SessionID, when set, seeds the session's credit snapshot so the
	// following generation run skips a second lookup.
	SessionID string `json:"sessionId,omitempty"`
}

// Output drives the BPMN gateway in front of generation. An exhausted user is
// a normal outcome (CanGenerate false), not a job failure.
type Output struct {
	HasSubscription    bool `json:"hasSubscription"`
	ProposalsRemaining int  `json:"proposalsRemaining"`
	ProposalsLimit     int  `json:"proposalsLimit"`
	CanGenerate        bool `json:"canGenerate"`
}
