package aggregator

import (
	"testing"

	"proposal-workers/internal/common/logger"
	"proposal-workers/internal/core/catalog"
	"proposal-workers/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func testIndex(t *testing.T) catalog.FieldIndex {
	t.Helper()
	index, err := catalog.BuildIndex(catalog.DefaultBank())
	require.NoError(t, err)
	return index
}

func TestAggregate_GroupsByCatalogSection(t *testing.T) {
	flat := map[string]models.Answer{
		"timeline":          {Field: "timeline", Text: "Month 1-6: preparation"},
		"objectives":        {Field: "objectives", Text: "Increase digital skills"},
		"project_rationale": {Field: "project_rationale", Text: "Schools lack teachers"},
	}

	out := Aggregate(flat, testIndex(t), logger.NewNoOpLogger())

	require.Len(t, out, 2)
	design := out["project_design"]
	require.Len(t, design, 2)
	assert.Equal(t, "objectives", design[0].Field)
	assert.Equal(t, "timeline", design[1].Field)
	assert.Equal(t, "DES-04", design[1].QuestionID)
	assert.Equal(t, 1500, design[1].CharacterLimit)

	assert.Len(t, out["relevance"], 1)
	_, hasImpact := out["impact"]
	assert.False(t, hasImpact, "empty sections are omitted")
}

func TestAggregate_RecomputesCharacterCount(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"ascii", "hello", 5},
		{"empty", "", 0},
		{"multibyte", "Zürich ✓", 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flat := map[string]models.Answer{
				"innovation": {Field: "innovation", Text: tt.text, CharacterCount: 12345},
			}
			out := Aggregate(flat, testIndex(t), nil)
			assert.Equal(t, tt.want, out["relevance"][0].CharacterCount)
		})
	}
}

func TestAggregate_UnknownFieldGoesToFallbackAndIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	log := logger.NewZapAdapter(zap.New(core))

	flat := map[string]models.Answer{
		"legacy_budget_notes": {Text: "kept"},
		"project_rationale":   {Field: "project_rationale", Text: "why"},
	}

	out := Aggregate(flat, testIndex(t), log)

	fallback := out[catalog.FallbackSection]
	require.Len(t, fallback, 2)
	assert.Equal(t, "project_rationale", fallback[0].Field, "catalog fields sort before unknown ones")
	assert.Equal(t, "legacy_budget_notes", fallback[1].Field)

	entries := logs.FilterField(zap.String("field", "legacy_budget_notes")).All()
	assert.Len(t, entries, 1)
}

func TestRoundTrip_FlattenAndRegroup(t *testing.T) {
	answers := models.Answers{}
	answers.Set("impact", models.NewAnswer("IMP-04", "sustainability", "Long term"))
	answers.Set("relevance", models.NewAnswer("", "dissemination_strategy", "misplaced"))

	regrouped := Regroup(Flatten(answers), testIndex(t), nil)

	assert.Equal(t, "Long term", regrouped["impact"]["sustainability"].Text)
	assert.Equal(t, "DIS-01", regrouped["dissemination"]["dissemination_strategy"].QuestionID)
	_, stillMisplaced := regrouped["relevance"]
	assert.False(t, stillMisplaced)
}
