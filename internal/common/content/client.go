// Package content reads section questions from the content service.
package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	commonhttp "proposal-workers/internal/common/http"
	"proposal-workers/internal/models"

	"github.com/xeipuuv/gojsonschema"
)

var ErrContentUnavailable = errors.New("CONTENT_UNAVAILABLE")

const questionsSchema = `{
  "type": "object",
  "required": ["questions"],
  "properties": {
    "section": {"type": "string"},
    "questions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "field", "question"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "field": {"type": "string", "minLength": 1},
          "question": {"type": "string"},
          "character_limit": {"type": "integer", "minimum": 0},
          "evaluation_weight": {"type": "number"},
          "required": {"type": "boolean"},
          "tips": {"type": ["array", "null"], "items": {"type": "string"}}
        }
      }
    }
  }
}`

type questionsResponse struct {
	Section   string            `json:"section"`
	Questions []models.Question `json:"questions"`
}

// Client implements catalog.ContentSource over HTTP.
type Client struct {
	http   *commonhttp.Client
	schema *gojsonschema.Schema
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(questionsSchema))
	if err != nil {
		panic(fmt.Sprintf("content: invalid response schema: %v", err))
	}
	return &Client{
		http:   commonhttp.NewClient(baseURL, apiKey, timeout),
		schema: schema,
	}
}

func (c *Client) SectionQuestions(ctx context.Context, sectionKey string) ([]models.Question, error) {
	path := fmt.Sprintf("/api/content/sections/%s/questions", url.PathEscape(sectionKey))
	data, err := c.http.GetJSON(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrContentUnavailable, sectionKey, err)
	}

	result, err := c.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrContentUnavailable, sectionKey, err)
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return nil, fmt.Errorf("%w: %s: %s", ErrContentUnavailable, sectionKey, strings.Join(errs, "; "))
	}

	var resp questionsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrContentUnavailable, sectionKey, err)
	}
	return resp.Questions, nil
}
