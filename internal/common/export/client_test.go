package export

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportToPDF(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pdfPath, r.URL.Path)

		var doc Document
		require.NoError(t, json.NewDecoder(r.Body).Decode(&doc))
		assert.Equal(t, "p-1", doc.ProposalID)
		require.Len(t, doc.Sections, 1)
		assert.Equal(t, "innovation", doc.Sections[0].Answers[0].Field)

		w.Write([]byte(`{"document_url":"https://files/p-1.pdf","file_name":"p-1.pdf","size_bytes":1024}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 5*time.Second)
	res, err := client.ExportToPDF(context.Background(), Document{
		ProposalID: "p-1",
		Title:      "Green Skills",
		Sections: []Section{{
			Key:     "relevance",
			Answers: []Answer{{Field: "innovation", Text: "New"}},
		}},
	})

	require.NoError(t, err)
	assert.Equal(t, "https://files/p-1.pdf", res.DocumentURL)
	assert.Equal(t, int64(1024), res.SizeBytes)
}

func TestExportToPDF_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `boom`},
		{"no url", http.StatusOK, `{"file_name":"x.pdf"}`},
		{"bad json", http.StatusOK, `{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewClient(server.URL, "", 5*time.Second).ExportToPDF(context.Background(), Document{ProposalID: "p-1"})
			assert.ErrorIs(t, err, ErrExportFailed)
		})
	}
}
