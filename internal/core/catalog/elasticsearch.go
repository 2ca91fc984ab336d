package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"proposal-workers/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// QuestionIndexMapping is the mapping of the questions index.
const QuestionIndexMapping = `{
  "mappings": {
    "properties": {
      "section":           {"type": "keyword"},
      "order":             {"type": "integer"},
      "id":                {"type": "keyword"},
      "field":             {"type": "keyword"},
      "question":          {"type": "text"},
      "character_limit":   {"type": "integer"},
      "evaluation_weight": {"type": "float"},
      "required":          {"type": "boolean"},
      "tips":              {"type": "text"}
    }
  }
}`

const maxQuestionsPerSection = 100

// QuestionDocument is one question as stored in the index.
type QuestionDocument struct {
	Section string `json:"section"`
	Order   int    `json:"order"`
	models.Question
}

// Documents flattens sections into index documents keyed by question id.
func Documents(sections []models.Section) []QuestionDocument {
	var docs []QuestionDocument
	for _, s := range sections {
		for i, question := range s.Questions {
			docs = append(docs, QuestionDocument{Section: s.Key, Order: i, Question: question})
		}
	}
	return docs
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source QuestionDocument `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// ElasticsearchSource reads questions from an Elasticsearch index.
type ElasticsearchSource struct {
	client *elasticsearch.Client
	index  string
}

func NewElasticsearchSource(client *elasticsearch.Client, index string) *ElasticsearchSource {
	return &ElasticsearchSource{client: client, index: index}
}

func (s *ElasticsearchSource) SectionQuestions(ctx context.Context, sectionKey string) ([]models.Question, error) {
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"section": sectionKey},
		},
		"sort": []interface{}{
			map[string]interface{}{"order": map[string]interface{}{"order": "asc"}},
		},
	}
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}

	size := maxQuestionsPerSection
	req := esapi.SearchRequest{
		Index: []string{s.index},
		Body:  bytes.NewReader(body),
		Size:  &size,
	}

	res, err := req.Do(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", s.index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("search %s: %s", s.index, res.Status())
	}

	var r searchResponse
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	questions := make([]models.Question, 0, len(r.Hits.Hits))
	for _, hit := range r.Hits.Hits {
		questions = append(questions, hit.Source.Question)
	}
	return questions, nil
}
