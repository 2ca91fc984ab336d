// Package credits reads and consumes generation entitlements.
package credits

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"proposal-workers/internal/common/logger"
	"proposal-workers/internal/models"

	"github.com/redis/go-redis/v9"
)

var ErrCreditCheckFailed = errors.New("CREDIT_CHECK_FAILED")

// Schema creates the subscription and consumption ledger tables.
const Schema = `CREATE TABLE IF NOT EXISTS user_subscriptions (
    user_id             TEXT PRIMARY KEY,
    has_subscription    BOOLEAN NOT NULL DEFAULT FALSE,
    proposals_remaining INTEGER NOT NULL DEFAULT 0 CHECK (proposals_remaining >= 0),
    proposals_limit     INTEGER NOT NULL DEFAULT 0,
    expires_at          TIMESTAMPTZ,
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS credit_consumptions (
    run_token   TEXT PRIMARY KEY,
    user_id     TEXT NOT NULL,
    proposal_id TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

const DefaultCacheTTL = 30 * time.Second

func cacheKey(userID string) string { return "credits:" + userID }

type Service struct {
	db     *sql.DB
	redis  *redis.Client
	ttl    time.Duration
	logger logger.Logger
	now    func() time.Time
}

// NewService builds the credit service. redisClient may be nil to disable caching.
func NewService(db *sql.DB, redisClient *redis.Client, ttl time.Duration, log logger.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Service{
		db:     db,
		redis:  redisClient,
		ttl:    ttl,
		logger: log.WithFields(map[string]interface{}{"component": "credits"}),
		now:    time.Now,
	}
}

// GetSubscriptionStatus returns the user's credit snapshot. A user without a
// subscription row, or whose subscription has expired, has no subscription.
func (s *Service) GetSubscriptionStatus(ctx context.Context, userID string) (models.CreditState, error) {
	if s.redis != nil {
		if val, err := s.redis.Get(ctx, cacheKey(userID)).Result(); err == nil {
			var state models.CreditState
			if err := json.Unmarshal([]byte(val), &state); err == nil {
				return state, nil
			}
		}
	}

	var (
		state     models.CreditState
		expiresAt sql.NullTime
	)
	query := `SELECT has_subscription, proposals_remaining, proposals_limit, expires_at
              FROM user_subscriptions WHERE user_id = $1`
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&state.HasSubscription, &state.ProposalsRemaining, &state.ProposalsLimit, &expiresAt,
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		state = models.CreditState{}
	case err != nil:
		return models.CreditState{}, fmt.Errorf("%w: %v", ErrCreditCheckFailed, err)
	}

	if expiresAt.Valid && s.now().After(expiresAt.Time) {
		s.logger.Debug("subscription expired", map[string]interface{}{
			"userId":    userID,
			"expiresAt": expiresAt.Time.Format(time.RFC3339),
		})
		state.HasSubscription = false
	}

	if s.redis != nil {
		data, _ := json.Marshal(state)
		if err := s.redis.Set(ctx, cacheKey(userID), data, s.ttl).Err(); err != nil {
			s.logger.Warn("credit cache write failed", map[string]interface{}{"userId": userID, "error": err.Error()})
		}
	}
	return state, nil
}

// ConsumeCredit charges one credit for the run identified by runToken. A
// token is charged at most once, so retried jobs do not double-charge.
// It reports whether a credit was actually consumed.
func (s *Service) ConsumeCredit(ctx context.Context, userID, proposalID, runToken string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%w: begin: %v", ErrCreditCheckFailed, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO credit_consumptions (run_token, user_id, proposal_id) VALUES ($1, $2, $3)
         ON CONFLICT (run_token) DO NOTHING`,
		runToken, userID, proposalID)
	if err != nil {
		return false, fmt.Errorf("%w: record consumption: %v", ErrCreditCheckFailed, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE user_subscriptions
         SET proposals_remaining = GREATEST(proposals_remaining - 1, 0), updated_at = NOW()
         WHERE user_id = $1`,
		userID); err != nil {
		return false, fmt.Errorf("%w: decrement: %v", ErrCreditCheckFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%w: commit: %v", ErrCreditCheckFailed, err)
	}

	s.Invalidate(ctx, userID)
	s.logger.Info("credit consumed", map[string]interface{}{
		"userId":     userID,
		"proposalId": proposalID,
	})
	return true, nil
}

// Invalidate drops the cached snapshot for userID.
func (s *Service) Invalidate(ctx context.Context, userID string) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Del(ctx, cacheKey(userID)).Err(); err != nil {
		s.logger.Warn("credit cache invalidation failed", map[string]interface{}{"userId": userID, "error": err.Error()})
	}
}
