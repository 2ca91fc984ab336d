package catalog

import (
	"context"
	"fmt"

	"proposal-workers/internal/models"
)

// StaticSource serves a fixed in-memory question set.
type StaticSource struct {
	sections map[string][]models.Question
}

func NewStaticSource(sections []models.Section) *StaticSource {
	m := make(map[string][]models.Question, len(sections))
	for _, s := range sections {
		m[s.Key] = s.Questions
	}
	return &StaticSource{sections: m}
}

func (s *StaticSource) SectionQuestions(_ context.Context, sectionKey string) ([]models.Question, error) {
	questions, ok := s.sections[sectionKey]
	if !ok {
		return nil, fmt.Errorf("section %s not found", sectionKey)
	}
	return copyQuestions(questions), nil
}
