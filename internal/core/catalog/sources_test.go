package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"proposal-workers/internal/common/logger"
	"proposal-workers/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Elasticsearch source
// ==========================

func newElasticsearchStub(t *testing.T, handler http.HandlerFunc) *elasticsearch.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return client
}

func TestElasticsearchSource_SectionQuestions(t *testing.T) {
	var gotPath string
	var gotQuery map[string]interface{}

	client := newElasticsearchStub(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotQuery)

		docs := Documents(DefaultBank()[1:2])
		hits := make([]map[string]interface{}, len(docs))
		for i, d := range docs {
			hits[i] = map[string]interface{}{"_source": d}
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"hits": map[string]interface{}{"hits": hits},
		})
	})

	src := NewElasticsearchSource(client, "grant-questions")
	questions, err := src.SectionQuestions(context.Background(), "partnership")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(gotPath, "/grant-questions/_search"))
	term := gotQuery["query"].(map[string]interface{})["term"].(map[string]interface{})
	assert.Equal(t, "partnership", term["section"])

	require.Len(t, questions, 4)
	assert.Equal(t, "partner_profiles", questions[0].Field)
	assert.Equal(t, 2500, questions[0].CharacterLimit)
	assert.True(t, questions[0].Required)
}

func TestElasticsearchSource_ErrorStatus(t *testing.T) {
	client := newElasticsearchStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"unavailable"}`))
	})

	_, err := NewElasticsearchSource(client, "grant-questions").SectionQuestions(context.Background(), "impact")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

// ==========================
// Redis cache
// ==========================

func TestCachedSource_CacheAside(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	inner := &countingSource{next: NewStaticSource(DefaultBank())}
	src := NewCachedSource(inner, rdb, time.Minute, logger.NewTestLogger(t))

	first, err := src.SectionQuestions(context.Background(), "dissemination")
	require.NoError(t, err)
	second, err := src.SectionQuestions(context.Background(), "dissemination")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), inner.calls)
	assert.True(t, mr.Exists("catalog:section:dissemination"))
	assert.Equal(t, time.Minute, mr.TTL("catalog:section:dissemination"))
}

func TestCachedSource_FailureNotCached(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	inner := &countingSource{next: NewStaticSource(DefaultBank()), err: errors.New("timeout")}
	src := NewCachedSource(inner, rdb, time.Minute, logger.NewTestLogger(t))

	_, err := src.SectionQuestions(context.Background(), "impact")
	require.Error(t, err)
	assert.False(t, mr.Exists("catalog:section:impact"))
}

func TestCachedSource_RedisDownFallsThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Close()

	inner := NewStaticSource([]models.Section{{Key: "impact", Questions: []models.Question{{ID: "x", Field: "f"}}}})
	src := NewCachedSource(inner, rdb, time.Minute, logger.NewTestLogger(t))

	questions, err := src.SectionQuestions(context.Background(), "impact")
	require.NoError(t, err)
	assert.Len(t, questions, 1)
}
