package genai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"proposal-workers/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSingleAnswer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, answerPath, r.URL.Path)

		var req AnswerRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "p-1", req.ProposalID)
		assert.Equal(t, "timeline", req.QuestionField)
		assert.Equal(t, "Earlier answer", req.AdditionalContext["objectives"])
		assert.Equal(t, "Green Skills", req.ProjectContext.Title)

		w.Write([]byte(`{"answer":"Months 1-3: kick-off.","generation_time":1.4}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 5*time.Second)
	resp, err := client.GenerateSingleAnswer(context.Background(), AnswerRequest{
		ProposalID:        "p-1",
		Section:           "project_design",
		QuestionID:        "DES-04",
		QuestionField:     "timeline",
		AdditionalContext: map[string]string{"objectives": "Earlier answer"},
		ProjectContext:    models.ProjectData{Title: "Green Skills"},
	})

	require.NoError(t, err)
	assert.Equal(t, "Months 1-3: kick-off.", resp.Answer)
	assert.InDelta(t, 1.4, resp.GenerationTime, 0.001)
}

func TestGenerateSingleAnswer_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusBadGateway, `{"detail":"upstream"}`},
		{"empty answer", http.StatusOK, `{"answer":""}`},
		{"missing answer", http.StatusOK, `{"generation_time":2}`},
		{"not json", http.StatusOK, `<html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(server.URL, "", 5*time.Second)
			_, err := client.GenerateSingleAnswer(context.Background(), AnswerRequest{Section: "relevance", QuestionField: "innovation"})

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrGenerationCallFailed)
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "client must not retry")
		})
	}
}

func TestGenerateFullApplication(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, applicationPath, r.URL.Path)
		w.Write([]byte(`{
			"application_id": "app-9",
			"sections": {
				"relevance": {"innovation": "New approach"},
				"impact": {"sustainability": "Lasting", "timeline": "Misplaced"}
			},
			"total_generation_time": 42.5,
			"estimated_score": 81
		}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 5*time.Second)
	resp, err := client.GenerateFullApplication(context.Background(), models.ProjectData{Title: "Green Skills"})

	require.NoError(t, err)
	assert.Equal(t, "app-9", resp.ApplicationID)
	require.NotNil(t, resp.EstimatedScore)
	assert.Equal(t, 81.0, *resp.EstimatedScore)
	assert.Equal(t, map[string]string{
		"innovation":     "New approach",
		"sustainability": "Lasting",
		"timeline":       "Misplaced",
	}, resp.Flat())
}

func TestGenerateFullApplication_RejectsBadShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"sections": {"relevance": {"innovation": 7}}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 5*time.Second)
	_, err := client.GenerateFullApplication(context.Background(), models.ProjectData{})
	assert.ErrorIs(t, err, ErrGenerationCallFailed)
}
