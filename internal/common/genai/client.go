// Package genai calls the external answer-generation service.
//
// The client makes exactly one HTTP request per call. Retries belong to the
// orchestrator, which owns the backoff schedule and cancellation checks.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	commonhttp "proposal-workers/internal/common/http"
	"proposal-workers/internal/models"

	"github.com/xeipuuv/gojsonschema"
)

var ErrGenerationCallFailed = errors.New("GENERATION_CALL_FAILED")

const (
	answerPath      = "/api/generation/answer"
	applicationPath = "/api/generation/application"
)

const answerSchema = `{
  "type": "object",
  "required": ["answer"],
  "properties": {
    "answer": {"type": "string", "minLength": 1},
    "generation_time": {"type": "number", "minimum": 0}
  }
}`

const applicationSchema = `{
  "type": "object",
  "required": ["sections"],
  "properties": {
    "application_id": {"type": "string"},
    "sections": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "additionalProperties": {"type": "string"}
      }
    },
    "total_generation_time": {"type": "number", "minimum": 0},
    "estimated_score": {"type": ["number", "null"]}
  }
}`

// AnswerRequest asks for one answer. AdditionalContext carries the answers
// produced earlier in the same run, keyed by field.
type AnswerRequest struct {
	ProposalID        string             `json:"proposal_id"`
	Section           string             `json:"section"`
	QuestionID        string             `json:"question_id"`
	QuestionField     string             `json:"question_field"`
	Question          string             `json:"question,omitempty"`
	CharacterLimit    int                `json:"character_limit,omitempty"`
	AdditionalContext map[string]string  `json:"additional_context,omitempty"`
	ProjectContext    models.ProjectData `json:"project_context"`
}

type AnswerResponse struct {
	Answer         string  `json:"answer"`
	GenerationTime float64 `json:"generation_time"`
}

// ApplicationResponse is the bulk result: section -> field -> text. The
// section keys are advisory; callers regroup by field.
type ApplicationResponse struct {
	ApplicationID       string                       `json:"application_id"`
	Sections            map[string]map[string]string `json:"sections"`
	TotalGenerationTime float64                      `json:"total_generation_time"`
	EstimatedScore      *float64                     `json:"estimated_score,omitempty"`
}

// Flat returns every generated text keyed by field.
func (r *ApplicationResponse) Flat() map[string]string {
	out := map[string]string{}
	for _, fields := range r.Sections {
		for field, text := range fields {
			out[field] = text
		}
	}
	return out
}

type Client struct {
	http              *commonhttp.Client
	answerSchema      *gojsonschema.Schema
	applicationSchema *gojsonschema.Schema
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		http:              commonhttp.NewClient(baseURL, apiKey, timeout),
		answerSchema:      mustSchema(answerSchema),
		applicationSchema: mustSchema(applicationSchema),
	}
}

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("genai: invalid response schema: %v", err))
	}
	return s
}

// GenerateSingleAnswer drafts one question's answer.
func (c *Client) GenerateSingleAnswer(ctx context.Context, req AnswerRequest) (*AnswerResponse, error) {
	data, err := c.http.PostJSON(ctx, answerPath, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrGenerationCallFailed, req.Section, req.QuestionField, err)
	}
	if err := validate(c.answerSchema, data); err != nil {
		return nil, err
	}

	var resp AnswerResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode answer: %v", ErrGenerationCallFailed, err)
	}
	return &resp, nil
}

// GenerateFullApplication drafts every section in one call.
func (c *Client) GenerateFullApplication(ctx context.Context, project models.ProjectData) (*ApplicationResponse, error) {
	data, err := c.http.PostJSON(ctx, applicationPath, project)
	if err != nil {
		return nil, fmt.Errorf("%w: full application: %v", ErrGenerationCallFailed, err)
	}
	if err := validate(c.applicationSchema, data); err != nil {
		return nil, err
	}

	var resp ApplicationResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode application: %v", ErrGenerationCallFailed, err)
	}
	return &resp, nil
}

func validate(schema *gojsonschema.Schema, data []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: response is not JSON: %v", ErrGenerationCallFailed, err)
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return fmt.Errorf("%w: unexpected response shape: %s", ErrGenerationCallFailed, strings.Join(errs, "; "))
	}
	return nil
}
