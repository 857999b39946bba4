package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-sync/internal/docstore"
)

func fastPolicy(retries uint64) Policy {
	return Policy{MaxRetries: retries, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestDoRetriesTransientErrors(t *testing.T) {
	calls := 0
	var notified []int
	err := Do(context.Background(), fastPolicy(3), func(context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("write: %w", docstore.ErrUnavailable)
		}
		return nil
	}, func(attempt int, err error, _ time.Duration) {
		notified = append(notified, attempt)
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, notified)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	denied := errors.New("permission denied")
	calls := 0
	err := Do(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++
		return denied
	}, nil)

	assert.ErrorIs(t, err, denied)
	assert.Equal(t, 1, calls)
}

func TestDoGivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(2), func(context.Context) error {
		calls++
		return docstore.ErrUnavailable
	}, nil)

	assert.ErrorIs(t, err, docstore.ErrUnavailable)
	assert.Equal(t, 3, calls)
}

func TestNoRetryRunsOnce(t *testing.T) {
	calls := 0
	err := Do(context.Background(), NoRetry(), func(context.Context) error {
		calls++
		return docstore.ErrUnavailable
	}, nil)

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, fastPolicy(5), func(context.Context) error {
		calls++
		return docstore.ErrUnavailable
	}, nil)

	assert.Error(t, err)
	assert.LessOrEqual(t, calls, 1)
}
