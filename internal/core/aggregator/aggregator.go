// Package aggregator regroups flat answer maps into catalog sections.
package aggregator

import (
	"sort"

	"proposal-workers/internal/common/logger"
	"proposal-workers/internal/core/catalog"
	"proposal-workers/internal/models"
)

// AnswerRecord is one answer as presented within its section.
type AnswerRecord struct {
	QuestionID     string   `json:"question_id"`
	Field          string   `json:"field"`
	Prompt         string   `json:"question,omitempty"`
	Text           string   `json:"text"`
	CharacterCount int      `json:"character_count"`
	CharacterLimit int      `json:"character_limit,omitempty"`
	QualityScore   *float64 `json:"quality_score,omitempty"`

	position int
	known    bool
}

// Aggregate groups flat answers (keyed by field) by section. Unknown fields
// land in catalog.FallbackSection and are logged; sections without records
// are omitted. CharacterCount is recomputed from Text.
func Aggregate(flat map[string]models.Answer, index catalog.FieldIndex, log logger.Logger) map[string][]AnswerRecord {
	out := map[string][]AnswerRecord{}

	for key, ans := range flat {
		field := ans.Field
		if field == "" {
			field = key
		}

		rec := AnswerRecord{
			QuestionID:     ans.QuestionID,
			Field:          field,
			Text:           ans.Text,
			CharacterCount: models.CharacterCount(ans.Text),
			QualityScore:   ans.QualityScore,
		}

		section := catalog.FallbackSection
		if ref, ok := index[field]; ok {
			section = ref.Section
			rec.known = true
			rec.position = ref.Position
			rec.Prompt = ref.Question.Prompt
			rec.CharacterLimit = ref.Question.CharacterLimit
			if rec.QuestionID == "" {
				rec.QuestionID = ref.Question.ID
			}
		} else if log != nil {
			log.Warn("answer field not in catalog, assigned to fallback section", map[string]interface{}{
				"field":   field,
				"section": section,
			})
		}

		out[section] = append(out[section], rec)
	}

	for _, records := range out {
		sort.Slice(records, func(i, j int) bool {
			a, b := records[i], records[j]
			if a.known != b.known {
				return a.known
			}
			if a.known && a.position != b.position {
				return a.position < b.position
			}
			return a.Field < b.Field
		})
	}
	return out
}

// Flatten turns the persisted section map into a flat field map.
func Flatten(answers models.Answers) map[string]models.Answer {
	sections := make([]string, 0, len(answers))
	for s := range answers {
		sections = append(sections, s)
	}
	sort.Strings(sections)

	flat := map[string]models.Answer{}
	for _, s := range sections {
		for field, ans := range answers[s] {
			if ans.Field == "" {
				ans.Field = field
			}
			flat[ans.Field] = ans
		}
	}
	return flat
}

// ToAnswers converts grouped records back into the persisted shape.
func ToAnswers(grouped map[string][]AnswerRecord) models.Answers {
	out := models.Answers{}
	for section, records := range grouped {
		for _, rec := range records {
			out.Set(section, models.Answer{
				QuestionID:   rec.QuestionID,
				Field:        rec.Field,
				Text:         rec.Text,
				QualityScore: rec.QualityScore,
			})
		}
	}
	return out
}

// Regroup normalises answers of unknown provenance into catalog sections.
func Regroup(flat map[string]models.Answer, index catalog.FieldIndex, log logger.Logger) models.Answers {
	return ToAnswers(Aggregate(flat, index, log))
}
