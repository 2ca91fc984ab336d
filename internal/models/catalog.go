package models

// Question is a single prompt in the application form. Field is unique across
// every section.
type Question struct {
	ID               string   `json:"id"`
	Field            string   `json:"field"`
	Prompt           string   `json:"question"`
	CharacterLimit   int      `json:"character_limit"`
	EvaluationWeight float64  `json:"evaluation_weight"`
	Required         bool     `json:"required"`
	Tips             []string `json:"tips"`
}

type Section struct {
	Key       string     `json:"key"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// RequiredQuestions returns the required questions in catalog order.
func (s Section) RequiredQuestions() []Question {
	out := make([]Question, 0, len(s.Questions))
	for _, q := range s.Questions {
		if q.Required {
			out = append(out, q)
		}
	}
	return out
}
