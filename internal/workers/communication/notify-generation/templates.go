package notifygeneration

import (
	"strings"

	"proposal-workers/internal/models"
)

type template struct {
	subject string
	body    string
	sms     string
}

var templates = map[models.RunStatus]template{
	models.RunCompleted: {
		subject: "Your application \"{{proposalTitle}}\" is ready",
		body:    "All sections of \"{{proposalTitle}}\" have been generated: {{answered}} of {{totalQuestions}} answers written, {{errored}} need your attention. Proposal: {{proposalId}}.",
		sms:     "Your application {{proposalTitle}} is ready ({{answered}}/{{totalQuestions}} answers).",
	},
	models.RunCancelled: {
		subject: "Generation of \"{{proposalTitle}}\" was stopped",
		body:    "Generation stopped after {{answered}} of {{totalQuestions}} answers. The answers written so far have been saved. Proposal: {{proposalId}}.",
		sms:     "Generation of {{proposalTitle}} stopped at {{answered}}/{{totalQuestions}}.",
	},
	models.RunFailed: {
		subject: "Generation of \"{{proposalTitle}}\" failed",
		body:    "We could not finish generating \"{{proposalTitle}}\": {{runError}}. {{answered}} answers were saved. Proposal: {{proposalId}}.",
		sms:     "Generation of {{proposalTitle}} failed. Please try again.",
	},
}

// render replaces {{key}} placeholders and drops the ones without a value.
func render(tmpl string, data map[string]string) string {
	result := tmpl
	for k, v := range data {
		result = strings.ReplaceAll(result, "{{"+k+"}}", v)
	}

	for {
		start := strings.Index(result, "{{")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}}")
		if end == -1 {
			break
		}
		result = result[:start] + result[start+end+2:]
	}
	return result
}
