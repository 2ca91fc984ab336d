package models

import (
	"time"
	"unicode/utf8"
)

type ProposalStatus string

const (
	StatusDraft      ProposalStatus = "draft"
	StatusGenerating ProposalStatus = "generating"
	StatusGenerated  ProposalStatus = "generated"
	StatusSubmitted  ProposalStatus = "submitted"
)

// StatusOrder lists statuses in their only legal forward order.
var StatusOrder = []ProposalStatus{StatusDraft, StatusGenerating, StatusGenerated, StatusSubmitted}

// Rank returns the position of s in StatusOrder, or -1 for unknown values.
func (s ProposalStatus) Rank() int {
	for i, st := range StatusOrder {
		if st == s {
			return i
		}
	}
	return -1
}

func (s ProposalStatus) Valid() bool {
	return s.Rank() >= 0
}

// CanAdvanceTo reports whether moving from s to next keeps the status monotonic.
func (s ProposalStatus) CanAdvanceTo(next ProposalStatus) bool {
	return next.Valid() && next.Rank() >= s.Rank()
}

// Answer is one generated or user-written response. CharacterCount is always
// derived from Text.
type Answer struct {
	QuestionID     string   `json:"question_id"`
	Field          string   `json:"field"`
	Text           string   `json:"text"`
	CharacterCount int      `json:"character_count"`
	QualityScore   *float64 `json:"quality_score,omitempty"`
}

// CharacterCount counts Unicode code points, matching how limits are shown to users.
func CharacterCount(text string) int {
	return utf8.RuneCountInString(text)
}

func NewAnswer(questionID, field, text string) Answer {
	return Answer{
		QuestionID:     questionID,
		Field:          field,
		Text:           text,
		CharacterCount: CharacterCount(text),
	}
}

// Normalized returns a copy with CharacterCount recomputed.
func (a Answer) Normalized() Answer {
	a.CharacterCount = CharacterCount(a.Text)
	return a
}

// Answers is the persisted shape: section key -> question field -> answer.
type Answers map[string]map[string]Answer

// Count returns the number of answers across all sections.
func (a Answers) Count() int {
	n := 0
	for _, fields := range a {
		n += len(fields)
	}
	return n
}

// Clone deep-copies the map so snapshots handed to auto-save never alias live state.
func (a Answers) Clone() Answers {
	if a == nil {
		return nil
	}
	out := make(Answers, len(a))
	for section, fields := range a {
		cp := make(map[string]Answer, len(fields))
		for field, ans := range fields {
			cp[field] = ans
		}
		out[section] = cp
	}
	return out
}

// Set stores ans under section, creating the section map when needed.
func (a Answers) Set(section string, ans Answer) {
	fields, ok := a[section]
	if !ok {
		fields = map[string]Answer{}
		a[section] = fields
	}
	fields[ans.Field] = ans.Normalized()
}

// Normalize recomputes every CharacterCount in place.
func (a Answers) Normalize() {
	for _, fields := range a {
		for field, ans := range fields {
			fields[field] = ans.Normalized()
		}
	}
}

type PartnerOrganization struct {
	Name    string `json:"name"`
	Country string `json:"country,omitempty"`
	Type    string `json:"type,omitempty"`
	Role    string `json:"role,omitempty"`
}

// ProjectData is what the user submits before generation.
type ProjectData struct {
	Title                string                `json:"title"`
	ProjectIdea          string                `json:"project_idea"`
	SelectedPriorities   []string              `json:"selected_priorities"`
	TargetGroups         string                `json:"target_groups,omitempty"`
	PartnerOrganizations []PartnerOrganization `json:"partner_organizations,omitempty"`
	DurationMonths       int                   `json:"duration_months,omitempty"`
	Budget               float64               `json:"budget,omitempty"`
}

type Proposal struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	ProjectData
	Status    ProposalStatus         `json:"status"`
	Answers   Answers                `json:"answers"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// ProposalPatch is a partial update. Nil fields are left untouched; Answers
// and Metadata are merged key-by-key on the server.
type ProposalPatch struct {
	Title                *string               `json:"title,omitempty"`
	ProjectIdea          *string               `json:"project_idea,omitempty"`
	SelectedPriorities   []string              `json:"selected_priorities,omitempty"`
	TargetGroups         *string               `json:"target_groups,omitempty"`
	PartnerOrganizations []PartnerOrganization `json:"partner_organizations,omitempty"`
	DurationMonths       *int                  `json:"duration_months,omitempty"`
	Budget               *float64              `json:"budget,omitempty"`
	Status               *ProposalStatus       `json:"status,omitempty"`
	Answers              Answers               `json:"answers,omitempty"`
	Metadata             map[string]interface{} `json:"metadata,omitempty"`

	// AllowRegression lets an explicit edit move status backwards.
	AllowRegression bool `json:"-"`
}

func (p ProposalPatch) IsEmpty() bool {
	return p.Title == nil && p.ProjectIdea == nil && p.SelectedPriorities == nil &&
		p.TargetGroups == nil && p.PartnerOrganizations == nil && p.DurationMonths == nil &&
		p.Budget == nil && p.Status == nil && len(p.Answers) == 0 && len(p.Metadata) == 0
}

// StatusPatch builds a patch that only moves the status.
func StatusPatch(status ProposalStatus) ProposalPatch {
	return ProposalPatch{Status: &status}
}
