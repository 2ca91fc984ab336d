package models

// CreditState is a read-only snapshot of a user's generation entitlement.
type CreditState struct {
	HasSubscription    bool `json:"has_subscription"`
	ProposalsRemaining int  `json:"proposals_remaining"`
	ProposalsLimit     int  `json:"proposals_limit"`
}

// CanGenerate reports whether a new run may start.
func (c CreditState) CanGenerate() bool {
	return c.HasSubscription && c.ProposalsRemaining > 0
}
