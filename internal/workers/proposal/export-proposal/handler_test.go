package exportproposal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"proposal-workers/internal/common/export"
	"proposal-workers/internal/common/logger"
	"proposal-workers/internal/core/autosave"
	"proposal-workers/internal/core/catalog"
	"proposal-workers/internal/core/lifecycle"
	"proposal-workers/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

type fixture struct {
	handler  *Handler
	coord    *autosave.Coordinator
	received chan export.Document
}

func newFixture(t *testing.T, status int, body string) *fixture {
	t.Helper()
	log := logger.NewTestLogger(t)
	received := make(chan export.Document, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var doc export.Document
		if err := json.NewDecoder(r.Body).Decode(&doc); err == nil {
			received <- doc
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	answers := models.Answers{}
	answers.Set("impact", models.NewAnswer("IMP-04", "sustainability", "Kept by the schools"))
	answers.Set("relevance", models.NewAnswer("REL-03", "innovation", "Peer-led labs"))
	answers.Set("relevance", models.NewAnswer("REL-01", "project_rationale", "Skills gap"))
	answers.Set("impact", models.NewAnswer("", "legacy_notes", "imported"))

	store := lifecycle.NewMemoryStore()
	require.NoError(t, store.Create(context.Background(), &models.Proposal{
		ID:          "p-1",
		ProjectData: models.ProjectData{Title: "Green Schools"},
		Status:      models.StatusGenerated,
		Answers:     answers,
	}))

	manager := lifecycle.NewManager(store, log)
	coord := autosave.NewCoordinator(manager, time.Hour, log)
	cat := catalog.New(catalog.NewStaticSource(catalog.DefaultBank()), log)
	exporter := export.NewClient(server.URL, "", 5*time.Second)

	return &fixture{
		handler:  NewHandler(&Config{Enabled: true, Timeout: 5 * time.Second}, manager, coord, cat, exporter, log),
		coord:    coord,
		received: received,
	}
}

// ==========================
// Core Functionality Tests
// ==========================

func TestHandler_Execute_BuildsDocumentInCatalogOrder(t *testing.T) {
	f := newFixture(t, http.StatusOK, `{"document_url":"https://files/p-1.pdf","file_name":"p-1.pdf","size_bytes":2048}`)

	out, err := f.handler.Execute(context.Background(), &Input{ProposalID: "p-1"})
	require.NoError(t, err)

	assert.Equal(t, "https://files/p-1.pdf", out.DocumentURL)
	assert.Equal(t, int64(2048), out.SizeBytes)
	assert.Equal(t, 4, out.AnswerCount)

	doc := <-f.received
	assert.Equal(t, "Green Schools", doc.Title)
	assert.Equal(t, "generated", doc.Status)
	require.Len(t, doc.Sections, 2)

	relevance := doc.Sections[0]
	assert.Equal(t, "relevance", relevance.Key)
	assert.Equal(t, "Relevance of the project", relevance.Title)
	require.Len(t, relevance.Answers, 3)
	assert.Equal(t, "project_rationale", relevance.Answers[0].Field)
	assert.Equal(t, "innovation", relevance.Answers[1].Field)
	assert.Equal(t, "legacy_notes", relevance.Answers[2].Field)
	assert.Equal(t, 2000, relevance.Answers[1].CharacterLimit)

	assert.Equal(t, "impact", doc.Sections[1].Key)
	assert.Equal(t, "IMP-04", doc.Sections[1].Answers[0].QuestionID)
}

func TestHandler_Execute_IncludesDebouncedAnswers(t *testing.T) {
	f := newFixture(t, http.StatusOK, `{"document_url":"https://files/p-1.pdf"}`)

	pending := models.Answers{}
	pending.Set("dissemination", models.NewAnswer("DIS-03", "exploitation", "Open toolkit"))
	f.coord.Save("p-1", pending)

	out, err := f.handler.Execute(context.Background(), &Input{ProposalID: "p-1"})
	require.NoError(t, err)
	assert.Equal(t, 5, out.AnswerCount)

	doc := <-f.received
	last := doc.Sections[len(doc.Sections)-1]
	assert.Equal(t, "dissemination", last.Key)
}

// ==========================
// Error Handling Tests
// ==========================

func TestHandler_Execute_ExportServiceFailure(t *testing.T) {
	f := newFixture(t, http.StatusBadGateway, `upstream down`)

	_, err := f.handler.Execute(context.Background(), &Input{ProposalID: "p-1"})
	require.ErrorIs(t, err, export.ErrExportFailed)

	stdErr := toStandardError(err, "p-1")
	assert.Equal(t, "EXPORT_FAILED", string(stdErr.Code))
	assert.True(t, stdErr.Retryable)
}

func TestHandler_Execute_UnknownProposal(t *testing.T) {
	f := newFixture(t, http.StatusOK, `{"document_url":"x"}`)

	_, err := f.handler.Execute(context.Background(), &Input{ProposalID: "missing"})
	require.ErrorIs(t, err, lifecycle.ErrProposalNotFound)
	assert.Equal(t, "PROPOSAL_NOT_FOUND", string(toStandardError(err, "missing").Code))
}

func TestHandler_Execute_RequiresProposalID(t *testing.T) {
	f := newFixture(t, http.StatusOK, `{}`)

	_, err := f.handler.Execute(context.Background(), &Input{})
	require.ErrorIs(t, err, ErrInvalidInput)
}
