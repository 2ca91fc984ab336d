package camunda

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"proposal-workers/internal/common/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient() *Client {
	return Wrap(nil, &ClientConfig{RetryConfig: &RetryConfig{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
	}})
}

func TestExecuteWithRetry_RetriesTransientErrors(t *testing.T) {
	c := testClient()
	calls := 0

	result, err := c.ExecuteWithRetry(context.Background(), func(context.Context) (interface{}, error) {
		calls++
		if calls < 3 {
			return nil, stderrors.New("rpc error: code = Unavailable desc = connection refused")
		}
		return "ok", nil
	}, "publish")

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)
}

func TestExecuteWithRetry_MapsErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  errors.ErrorCode
		wantCalls int
	}{
		{"transient exhausted", stderrors.New("context deadline exceeded"), errors.ErrCodeBrokerUnavailable, 3},
		{"permanent", stderrors.New("rpc error: code = InvalidArgument"), errors.ErrCodeInternal, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			_, err := testClient().ExecuteWithRetry(context.Background(), func(context.Context) (interface{}, error) {
				calls++
				return nil, tt.err
			}, "publish")

			require.Error(t, err)
			assert.Equal(t, tt.wantCode, errors.Normalize(err).Code)
			assert.Equal(t, tt.wantCalls, calls)
		})
	}
}

func TestExecuteWithRetry_StopsOnContextCancel(t *testing.T) {
	c := Wrap(nil, &ClientConfig{RetryConfig: &RetryConfig{MaxRetries: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ExecuteWithRetry(ctx, func(context.Context) (interface{}, error) {
		return nil, stderrors.New("unavailable")
	}, "publish")

	assert.ErrorIs(t, err, context.Canceled)
}
