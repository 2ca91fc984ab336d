package database

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"proposal-workers/internal/common/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type esCall struct {
	method string
	path   string
	body   string
}

func newElasticsearchStub(t *testing.T, indexStatus, createStatus int) (*ElasticsearchClient, func() []esCall) {
	t.Helper()
	var (
		mu    sync.Mutex
		calls []esCall
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		calls = append(calls, esCall{method: r.Method, path: r.URL.Path, body: string(body)})
		mu.Unlock()

		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(indexStatus)
		case http.MethodPut:
			w.WriteHeader(createStatus)
			w.Write([]byte(`{"acknowledged":true}`))
		default:
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{}`))
		}
	}))
	t.Cleanup(srv.Close)

	client, err := NewElasticsearch(config.ElasticsearchConfig{URL: srv.URL})
	require.NoError(t, err)
	return client, func() []esCall {
		mu.Lock()
		defer mu.Unlock()
		return append([]esCall(nil), calls...)
	}
}

func TestElasticsearchClient_EnsureIndex_CreatesMissingIndex(t *testing.T) {
	client, calls := newElasticsearchStub(t, http.StatusNotFound, http.StatusOK)

	created, err := client.EnsureIndex(context.Background(), "grant-questions", `{"mappings":{}}`)
	require.NoError(t, err)
	assert.True(t, created)

	got := calls()
	require.Len(t, got, 2)
	assert.Equal(t, http.MethodHead, got[0].method)
	assert.Equal(t, http.MethodPut, got[1].method)
	assert.Equal(t, "/grant-questions", got[1].path)
	assert.JSONEq(t, `{"mappings":{}}`, got[1].body)
}

func TestElasticsearchClient_EnsureIndex_ExistingIndexUntouched(t *testing.T) {
	client, calls := newElasticsearchStub(t, http.StatusOK, http.StatusOK)

	created, err := client.EnsureIndex(context.Background(), "grant-questions", `{}`)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Len(t, calls(), 1)
}

func TestElasticsearchClient_EnsureIndex_CreateRejected(t *testing.T) {
	client, _ := newElasticsearchStub(t, http.StatusNotFound, http.StatusBadRequest)

	created, err := client.EnsureIndex(context.Background(), "grant-questions", `{}`)
	require.Error(t, err)
	assert.False(t, created)
	assert.Contains(t, err.Error(), "create index grant-questions")
}
