package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"proposal-workers/internal/common/logger"
	"proposal-workers/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	next  ContentSource
	calls int32
	gate  chan struct{}
	err   error
}

func (s *countingSource) SectionQuestions(ctx context.Context, key string) ([]models.Question, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.gate != nil {
		<-s.gate
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.next.SectionQuestions(ctx, key)
}

// ==========================
// Built-in bank
// ==========================

func TestDefaultBank_Shape(t *testing.T) {
	bank := DefaultBank()
	require.Len(t, bank, 6)

	want := map[string]int{
		"relevance": 6, "partnership": 4, "project_design": 5,
		"management": 4, "impact": 5, "dissemination": 3,
	}
	total := 0
	for i, s := range bank {
		assert.Equal(t, Order[i].Key, s.Key)
		assert.Equal(t, want[s.Key], len(s.Questions), s.Key)
		assert.Len(t, s.RequiredQuestions(), len(s.Questions))
		total += len(s.Questions)
	}
	assert.Equal(t, 27, total)

	index, err := BuildIndex(bank)
	require.NoError(t, err)
	assert.Len(t, index, 27)

	section, ok := index.SectionOf("timeline")
	assert.True(t, ok)
	assert.Equal(t, "project_design", section)
}

func TestBuildIndex_DuplicateField(t *testing.T) {
	sections := []models.Section{
		{Key: "relevance", Questions: []models.Question{{ID: "a", Field: "objectives"}}},
		{Key: "project_design", Questions: []models.Question{{ID: "b", Field: "objectives"}}},
	}
	_, err := BuildIndex(sections)
	assert.ErrorIs(t, err, ErrDuplicateField)
}

// ==========================
// Catalog
// ==========================

func TestCatalog_GetSectionQuestions_Memoised(t *testing.T) {
	src := &countingSource{next: NewStaticSource(DefaultBank())}
	c := New(src, logger.NewTestLogger(t))

	first, err := c.GetSectionQuestions(context.Background(), "impact")
	require.NoError(t, err)
	second, err := c.GetSectionQuestions(context.Background(), "impact")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "expected_results", first[0].Field)
	assert.Equal(t, int32(1), atomic.LoadInt32(&src.calls))
}

func TestCatalog_GetSectionQuestions_ReturnsIndependentCopies(t *testing.T) {
	bank := DefaultBank()
	for i := range bank {
		if bank[i].Key == "impact" {
			bank[i].Questions[0].Tips = []string{"Quantify outputs"}
		}
	}
	c := New(NewStaticSource(bank), logger.NewTestLogger(t))
	ctx := context.Background()

	first, err := c.GetSectionQuestions(ctx, "impact")
	require.NoError(t, err)
	require.NotEmpty(t, first[0].Tips)
	original := first[0].Tips[0]

	first[0].Tips[0] = "overwritten"
	first[0].Prompt = "overwritten"

	second, err := c.GetSectionQuestions(ctx, "impact")
	require.NoError(t, err)
	assert.Equal(t, original, second[0].Tips[0])
	assert.NotEqual(t, "overwritten", second[0].Prompt)
}

func TestCatalog_GetSectionQuestions_UnknownSection(t *testing.T) {
	c := New(NewStaticSource(DefaultBank()), logger.NewTestLogger(t))

	_, err := c.GetSectionQuestions(context.Background(), "budget")
	assert.ErrorIs(t, err, ErrUnknownSection)
}

func TestCatalog_SourceFailure_IsUnavailableAndNotMemoised(t *testing.T) {
	src := &countingSource{next: NewStaticSource(DefaultBank()), err: errors.New("connection refused")}
	c := New(src, logger.NewTestLogger(t))

	questions, err := c.GetSectionQuestions(context.Background(), "relevance")
	assert.ErrorIs(t, err, ErrCatalogUnavailable)
	assert.Nil(t, questions)

	src.err = nil
	questions, err = c.GetSectionQuestions(context.Background(), "relevance")
	require.NoError(t, err)
	assert.Len(t, questions, 6)
}

func TestCatalog_EmptySectionIsUnavailable(t *testing.T) {
	c := New(NewStaticSource([]models.Section{{Key: "relevance"}}), logger.NewTestLogger(t))

	_, err := c.GetSectionQuestions(context.Background(), "relevance")
	assert.ErrorIs(t, err, ErrCatalogUnavailable)
}

func TestCatalog_ConcurrentLoadsAreCoalesced(t *testing.T) {
	src := &countingSource{next: NewStaticSource(DefaultBank()), gate: make(chan struct{})}
	c := New(src, logger.NewTestLogger(t))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			qs, err := c.GetSectionQuestions(context.Background(), "management")
			assert.NoError(t, err)
			assert.Len(t, qs, 4)
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&src.calls))
}

func TestCatalog_Sections_RejectsDuplicateFields(t *testing.T) {
	bank := DefaultBank()
	bank[5].Questions[0].Field = bank[0].Questions[0].Field
	c := New(NewStaticSource(bank), logger.NewTestLogger(t))

	_, err := c.Sections(context.Background())
	assert.ErrorIs(t, err, ErrDuplicateField)
}

func TestCatalog_Index(t *testing.T) {
	c := New(NewStaticSource(DefaultBank()), logger.NewTestLogger(t))

	index, err := c.Index(context.Background())
	require.NoError(t, err)

	for _, field := range []string{"project_rationale", "partner_roles", "risk_management", "exploitation"} {
		_, ok := index[field]
		assert.True(t, ok, fmt.Sprintf("missing %s", field))
	}
}

func TestCatalog_Reset(t *testing.T) {
	src := &countingSource{next: NewStaticSource(DefaultBank())}
	c := New(src, logger.NewTestLogger(t))

	_, err := c.GetSectionQuestions(context.Background(), "impact")
	require.NoError(t, err)
	c.Reset()
	_, err = c.GetSectionQuestions(context.Background(), "impact")
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&src.calls))
}
