// Package catalog serves the ordered section and question definitions of the
// application form.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"proposal-workers/internal/common/logger"
	"proposal-workers/internal/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
)

var (
	ErrCatalogUnavailable = errors.New("CATALOG_UNAVAILABLE")
	ErrUnknownSection     = errors.New("UNKNOWN_SECTION")
	ErrDuplicateField     = errors.New("DUPLICATE_FIELD")
)

var tracer = otel.Tracer("catalog")

// ContentSource is the backing content collaborator.
type ContentSource interface {
	SectionQuestions(ctx context.Context, sectionKey string) ([]models.Question, error)
}

// Catalog memoises section questions after the first successful load and
// coalesces concurrent loads of the same section.
type Catalog struct {
	source ContentSource
	logger logger.Logger

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string][]models.Question
}

func New(source ContentSource, log logger.Logger) *Catalog {
	return &Catalog{
		source: source,
		logger: log.WithFields(map[string]interface{}{"component": "catalog"}),
		cache:  map[string][]models.Question{},
	}
}

// GetSectionQuestions returns the questions of sectionKey in catalog order.
func (c *Catalog) GetSectionQuestions(ctx context.Context, sectionKey string) ([]models.Question, error) {
	if !IsSection(sectionKey) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSection, sectionKey)
	}

	ctx, span := tracer.Start(ctx, "catalog.GetSectionQuestions")
	defer span.End()
	span.SetAttributes(attribute.String("catalog.section", sectionKey))

	c.mu.RLock()
	cached, ok := c.cache[sectionKey]
	c.mu.RUnlock()
	span.SetAttributes(attribute.Bool("cache.hit", ok))
	if ok {
		return copyQuestions(cached), nil
	}

	v, err, _ := c.group.Do(sectionKey, func() (interface{}, error) {
		questions, err := c.source.SectionQuestions(ctx, sectionKey)
		if err != nil {
			return nil, fmt.Errorf("%w: section %s: %v", ErrCatalogUnavailable, sectionKey, err)
		}
		if len(questions) == 0 {
			return nil, fmt.Errorf("%w: section %s has no questions", ErrCatalogUnavailable, sectionKey)
		}
		c.mu.Lock()
		c.cache[sectionKey] = questions
		c.mu.Unlock()
		return questions, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error("failed to load section questions", map[string]interface{}{
			"section": sectionKey,
			"error":   err.Error(),
		})
		return nil, err
	}

	return copyQuestions(v.([]models.Question)), nil
}

// Sections loads all six sections in catalog order. A question set that
// reuses a field in two places is rejected.
func (c *Catalog) Sections(ctx context.Context) ([]models.Section, error) {
	sections := make([]models.Section, 0, len(Order))
	for _, info := range Order {
		questions, err := c.GetSectionQuestions(ctx, info.Key)
		if err != nil {
			return nil, err
		}
		sections = append(sections, models.Section{Key: info.Key, Title: info.Title, Questions: questions})
	}
	if _, err := BuildIndex(sections); err != nil {
		return nil, err
	}
	return sections, nil
}

// Index loads every section and returns the field assignment.
func (c *Catalog) Index(ctx context.Context) (FieldIndex, error) {
	sections, err := c.Sections(ctx)
	if err != nil {
		return nil, err
	}
	return BuildIndex(sections)
}

// Reset drops memoised sections so the next call reloads from the source.
func (c *Catalog) Reset() {
	c.mu.Lock()
	c.cache = map[string][]models.Question{}
	c.mu.Unlock()
}

func copyQuestions(in []models.Question) []models.Question {
	out := make([]models.Question, len(in))
	copy(out, in)
	for i := range out {
		if out[i].Tips != nil {
			out[i].Tips = append([]string(nil), out[i].Tips...)
		}
	}
	return out
}

// FieldRef locates a question field within the catalog.
type FieldRef struct {
	Section  string
	Position int
	Question models.Question
}

// FieldIndex maps each question field to its section.
type FieldIndex map[string]FieldRef

// BuildIndex derives the field assignment from sections, failing when a
// field appears twice.
func BuildIndex(sections []models.Section) (FieldIndex, error) {
	index := FieldIndex{}
	for _, s := range sections {
		for i, question := range s.Questions {
			if prev, dup := index[question.Field]; dup {
				return nil, fmt.Errorf("%w: %q in %s and %s", ErrDuplicateField, question.Field, prev.Section, s.Key)
			}
			index[question.Field] = FieldRef{Section: s.Key, Position: i, Question: question}
		}
	}
	return index, nil
}

// SectionOf returns the section that owns field.
func (ix FieldIndex) SectionOf(field string) (string, bool) {
	ref, ok := ix[field]
	return ref.Section, ok
}
