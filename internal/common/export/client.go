// Package export renders proposals through the export service.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	commonhttp "proposal-workers/internal/common/http"
)

var ErrExportFailed = errors.New("EXPORT_FAILED")

const pdfPath = "/api/export/pdf"

type Answer struct {
	QuestionID     string `json:"question_id"`
	Field          string `json:"field"`
	Question       string `json:"question"`
	Text           string `json:"text"`
	CharacterCount int    `json:"character_count"`
	CharacterLimit int    `json:"character_limit,omitempty"`
}

type Section struct {
	Key     string   `json:"key"`
	Title   string   `json:"title"`
	Answers []Answer `json:"answers"`
}

// Document is the proposal in display order, ready to render.
type Document struct {
	ProposalID string    `json:"proposal_id"`
	Title      string    `json:"title"`
	Status     string    `json:"status"`
	Sections   []Section `json:"sections"`
}

type Result struct {
	DocumentURL string `json:"document_url"`
	FileName    string `json:"file_name"`
	SizeBytes   int64  `json:"size_bytes"`
}

type Client struct {
	http *commonhttp.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{http: commonhttp.NewClient(baseURL, apiKey, timeout)}
}

func (c *Client) ExportToPDF(ctx context.Context, doc Document) (*Result, error) {
	data, err := c.http.PostJSON(ctx, pdfPath, doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExportFailed, err)
	}

	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrExportFailed, err)
	}
	if res.DocumentURL == "" {
		return nil, fmt.Errorf("%w: response has no document_url", ErrExportFailed)
	}
	return &res, nil
}
