package catalog

import "proposal-workers/internal/models"

// SectionInfo names one of the six fixed application sections.
type SectionInfo struct {
	Key   string
	Title string
}

// Order is the fixed catalog order of the application sections.
var Order = []SectionInfo{
	{Key: "relevance", Title: "Relevance of the project"},
	{Key: "partnership", Title: "Partnership and cooperation arrangements"},
	{Key: "project_design", Title: "Quality of the project design and implementation"},
	{Key: "management", Title: "Project management and budget"},
	{Key: "impact", Title: "Impact and sustainability"},
	{Key: "dissemination", Title: "Dissemination and exploitation of results"},
}

// FallbackSection receives answers whose field is not in the catalog.
const FallbackSection = "relevance"

func IsSection(key string) bool {
	for _, s := range Order {
		if s.Key == key {
			return true
		}
	}
	return false
}

// Title returns the display title for key, or key itself when unknown.
func Title(key string) string {
	for _, s := range Order {
		if s.Key == key {
			return s.Title
		}
	}
	return key
}

func q(id, field, prompt string, limit int, weight float64, tips ...string) models.Question {
	return models.Question{
		ID:               id,
		Field:            field,
		Prompt:           prompt,
		CharacterLimit:   limit,
		EvaluationWeight: weight,
		Required:         true,
		Tips:             tips,
	}
}

// DefaultBank returns the built-in question bank used to seed content stores.
// It is a seed, not a fallback for an unavailable source.
func DefaultBank() []models.Section {
	bank := map[string][]models.Question{
		"relevance": {
			q("REL-01", "project_rationale", "Describe the needs and challenges the project addresses and why they matter now.", 3000, 0.20,
				"Refer to evidence such as studies or local data.", "Link the needs to your organisations' experience."),
			q("REL-02", "priority_alignment", "Explain how the project addresses each of the selected priorities.", 2500, 0.20,
				"Address every selected priority explicitly."),
			q("REL-03", "innovation", "What is innovative about the project compared with existing practice in the field?", 2000, 0.15),
			q("REL-04", "european_added_value", "Why does the project need to be carried out transnationally?", 2000, 0.15,
				"Explain what could not be achieved by a single country."),
			q("REL-05", "complementarity", "How does the project build on or complement previous initiatives of the partners?", 1500, 0.10),
			q("REL-06", "target_group_needs", "Who are the target groups and how were their needs identified?", 2500, 0.20,
				"Give numbers where possible.", "Mention participants with fewer opportunities."),
		},
		"partnership": {
			q("PAR-01", "partner_profiles", "Present the partner organisations and the expertise each one brings.", 2500, 0.30),
			q("PAR-02", "partner_roles", "Describe the tasks and responsibilities of each partner.", 2000, 0.30,
				"Make the division of work balanced and explicit."),
			q("PAR-03", "cooperation_arrangements", "How will partners cooperate and take decisions during the project?", 2000, 0.25),
			q("PAR-04", "newcomer_involvement", "How are newcomers or less experienced organisations involved?", 1500, 0.15),
		},
		"project_design": {
			q("DES-01", "objectives", "List the concrete objectives of the project and how they answer the identified needs.", 2500, 0.25,
				"Objectives should be specific and measurable."),
			q("DES-02", "activities_overview", "Give an overview of the planned activities.", 3000, 0.25),
			q("DES-03", "methodology", "Which methods and approaches will be used to implement the activities?", 2500, 0.20),
			q("DES-04", "timeline", "Describe the timeline of the project and its main milestones.", 1500, 0.15,
				"Align milestones with the project duration."),
			q("DES-05", "quality_assurance", "How will the quality of activities and results be ensured?", 2000, 0.15),
		},
		"management": {
			q("MAN-01", "budget_management", "How will the budget be managed and monitored against the plan?", 2000, 0.30),
			q("MAN-02", "risk_management", "Which risks have been identified and how will they be mitigated?", 2000, 0.25,
				"Cover at least financial, organisational and participant-related risks."),
			q("MAN-03", "monitoring", "How will progress be monitored throughout the project?", 1500, 0.25),
			q("MAN-04", "internal_communication", "How will partners communicate with each other?", 1500, 0.20),
		},
		"impact": {
			q("IMP-01", "expected_results", "What results do you expect at the end of the project?", 2500, 0.25),
			q("IMP-02", "impact_participants", "What impact will the project have on the participants?", 2000, 0.20),
			q("IMP-03", "impact_organizations", "What impact will the project have on the participating organisations?", 2000, 0.20),
			q("IMP-04", "sustainability", "How will results be sustained after the funding period ends?", 2000, 0.20),
			q("IMP-05", "evaluation_indicators", "Which indicators will be used to evaluate the impact?", 1500, 0.15,
				"Use quantitative and qualitative indicators."),
		},
		"dissemination": {
			q("DIS-01", "dissemination_strategy", "Describe how the results will be shared within and beyond the partnership.", 2500, 0.40),
			q("DIS-02", "open_access", "How will materials produced by the project be made openly available?", 1500, 0.25),
			q("DIS-03", "exploitation", "How will the results be used by others after the project?", 2000, 0.35),
		},
	}

	sections := make([]models.Section, 0, len(Order))
	for _, info := range Order {
		sections = append(sections, models.Section{
			Key:       info.Key,
			Title:     info.Title,
			Questions: bank[info.Key],
		})
	}
	return sections
}
