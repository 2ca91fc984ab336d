package cancelgeneration

type Input struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

// Output reports the token that was cancelled. Cancelled is false when no
// run was active.
type Output struct {
	Cancelled bool   `json:"cancelled"`
	RunToken  string `json:"runToken,omitempty"`
}
