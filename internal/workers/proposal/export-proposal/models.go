package exportproposal

type Input struct {
	ProposalID string `json:"proposalId"`
}

type Output struct {
	ProposalID  string `json:"proposalId"`
	DocumentURL string `json:"documentUrl"`
	FileName    string `json:"fileName,omitempty"`
	SizeBytes   int64  `json:"sizeBytes,omitempty"`
	AnswerCount int    `json:"answerCount"`
}
