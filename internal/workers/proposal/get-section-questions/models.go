package getsectionquestions

import "proposal-workers/internal/models"

// Input selects one section; an empty SectionKey returns all six.
type Input struct {
	SectionKey string `json:"sectionKey,omitempty"`
}

type Output struct {
	Sections      []models.Section `json:"sections"`
	QuestionCount int              `json:"questionCount"`
}
