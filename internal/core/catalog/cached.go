package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"proposal-workers/internal/common/logger"
	"proposal-workers/internal/common/metrics"
	"proposal-workers/internal/models"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "catalog:section:"

// CachedSource is a cache-aside Redis decorator. Failures are never cached,
// and a Redis outage degrades to reading the wrapped source.
type CachedSource struct {
	next   ContentSource
	redis  *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewCachedSource(next ContentSource, client *redis.Client, ttl time.Duration, log logger.Logger) *CachedSource {
	return &CachedSource{
		next:   next,
		redis:  client,
		ttl:    ttl,
		logger: log.WithFields(map[string]interface{}{"component": "catalog-cache"}),
	}
}

func (s *CachedSource) SectionQuestions(ctx context.Context, sectionKey string) ([]models.Question, error) {
	key := cacheKeyPrefix + sectionKey

	val, err := s.redis.Get(ctx, key).Result()
	switch {
	case err == nil:
		var questions []models.Question
		if jsonErr := json.Unmarshal([]byte(val), &questions); jsonErr == nil {
			metrics.CatalogCacheRequests.WithLabelValues("hit").Inc()
			return questions, nil
		}
		s.logger.Warn("discarding unreadable cache entry", map[string]interface{}{"key": key})
	case errors.Is(err, redis.Nil):
		metrics.CatalogCacheRequests.WithLabelValues("miss").Inc()
	default:
		metrics.CatalogCacheRequests.WithLabelValues("error").Inc()
		s.logger.Warn("catalog cache read failed", map[string]interface{}{"key": key, "error": err.Error()})
	}

	questions, err := s.next.SectionQuestions(ctx, sectionKey)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(questions); err == nil {
		if err := s.redis.Set(ctx, key, data, s.ttl).Err(); err != nil {
			s.logger.Warn("catalog cache write failed", map[string]interface{}{"key": key, "error": err.Error()})
		}
	}
	return questions, nil
}
