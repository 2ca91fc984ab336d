package orchestrator

import (
	"fmt"
	"strings"

	"proposal-workers/internal/common/validation"
	"proposal-workers/internal/models"
)

const MinProjectIdeaLength = 200

var projectSchema = validation.JSONSchema{
	Type:     "object",
	Required: []string{"project_idea", "selected_priorities"},
	Properties: map[string]validation.Property{
		"title":        {Type: "string", MaxLength: validation.IntPtr(250)},
		"project_idea": {Type: "string", MinLength: validation.IntPtr(MinProjectIdeaLength)},
		"selected_priorities": {
			Type:        "array",
			MinItems:    validation.IntPtr(1),
			MaxItems:    validation.IntPtr(3),
			UniqueItems: true,
			Items:       &validation.Property{Type: "string", MinLength: validation.IntPtr(1)},
		},
		"target_groups": {Type: "string"},
		"partner_organizations": {
			Type: "array",
			Items: &validation.Property{
				Type:     "object",
				Required: []string{"name"},
				Properties: map[string]validation.Property{
					"name":    {Type: "string", MinLength: validation.IntPtr(1)},
					"country": {Type: "string"},
					"type":    {Type: "string"},
					"role":    {Type: "string"},
				},
			},
		},
		"duration_months": {Type: "integer", Minimum: validation.FloatPtr(1), Maximum: validation.FloatPtr(60)},
		"budget":          {Type: "number", Minimum: validation.FloatPtr(0)},
	},
}

// ValidationError lists every problem found in the project data. It matches
// ErrValidationFailed under errors.Is.
type ValidationError struct {
	Problems []validation.ValidationError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = fmt.Sprintf("%s: %s", p.Field, p.Message)
	}
	return fmt.Sprintf("%s: %s", ErrValidationFailed.Error(), strings.Join(msgs, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidationFailed }

// ValidateProject runs the pre-flight checks that gate a run.
func ValidateProject(project models.ProjectData) error {
	input, err := validation.ToMap(project)
	if err != nil {
		return &ValidationError{Problems: []validation.ValidationError{{Field: "project", Message: err.Error(), Code: "INVALID_TYPE"}}}
	}
	result := validation.ValidateInput(input, projectSchema)
	if !result.Valid {
		return &ValidationError{Problems: result.Errors}
	}
	return nil
}
