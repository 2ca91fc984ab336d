package saveanswers

import "proposal-workers/internal/models"

// Save modes reported back to the process.
const (
	ModeImmediate = "immediate"
	ModeAutosave  = "autosave"
	ModeReview    = "review"
)

// Edit replaces the text of one field the user edited in review.
type Edit struct {
	Section string `json:"section"`
	Field   string `json:"field"`
	Text    string `json:"text"`
}

// Input carries either answers keyed by question field, in any section
// grouping, or explicit review edits. With Autosave set, Answers is the
// editor's full snapshot and bursts within the debounce window collapse into
// one write.
type Input struct {
	ProposalID string                   `json:"proposalId"`
	Answers    map[string]models.Answer `json:"answers,omitempty"`
	Autosave   bool                     `json:"autosave,omitempty"`
	Edits      []Edit                   `json:"edits,omitempty"`
}

type Output struct {
	ProposalID  string         `json:"proposalId"`
	Mode        string         `json:"mode"`
	Saved       int            `json:"savedAnswers"`
	Sections    map[string]int `json:"sections"`
	PendingSave bool           `json:"pendingSave"`
}
