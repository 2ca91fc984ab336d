package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProposalStatus_CanAdvanceTo(t *testing.T) {
	tests := []struct {
		from, to ProposalStatus
		want     bool
	}{
		{StatusDraft, StatusGenerating, true},
		{StatusGenerating, StatusGenerated, true},
		{StatusGenerated, StatusGenerated, true},
		{StatusGenerated, StatusSubmitted, true},
		{StatusGenerated, StatusDraft, false},
		{StatusSubmitted, StatusGenerating, false},
		{StatusDraft, ProposalStatus("archived"), false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanAdvanceTo(tt.to))
		})
	}
}

func TestAnswers_SetRecomputesCount(t *testing.T) {
	answers := Answers{}
	answers.Set("impact", Answer{QuestionID: "q1", Field: "sustainability", Text: "naïve", CharacterCount: 999})

	got := answers["impact"]["sustainability"]
	assert.Equal(t, 5, got.CharacterCount)
	assert.Equal(t, 1, answers.Count())
}

func TestAnswers_CloneIsDeep(t *testing.T) {
	original := Answers{"relevance": {"innovation": NewAnswer("q3", "innovation", "new")}}
	cp := original.Clone()
	cp["relevance"]["innovation"] = NewAnswer("q3", "innovation", "changed")

	assert.Equal(t, "new", original["relevance"]["innovation"].Text)
}

func TestCreditState_CanGenerate(t *testing.T) {
	assert.True(t, CreditState{HasSubscription: true, ProposalsRemaining: 1}.CanGenerate())
	assert.False(t, CreditState{HasSubscription: true, ProposalsRemaining: 0}.CanGenerate())
	assert.False(t, CreditState{HasSubscription: false, ProposalsRemaining: 5}.CanGenerate())
}

func TestProposalPatch_IsEmpty(t *testing.T) {
	assert.True(t, ProposalPatch{}.IsEmpty())
	assert.False(t, StatusPatch(StatusGenerated).IsEmpty())
}
