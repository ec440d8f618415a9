package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNextDelayExponential(t *testing.T) {
	t.Parallel()

	base := Backoff{Type: BackoffExponential, Delay: 5 * time.Second}
	cases := []struct {
		made int
		want time.Duration
	}{
		{made: 1, want: 5 * time.Second},
		{made: 2, want: 10 * time.Second},
		{made: 3, want: 20 * time.Second},
		{made: 4, want: 40 * time.Second},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("attempt_%d", tc.made), func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, NextDelay(Job{AttemptsMade: tc.made, Backoff: base}))
		})
	}
}

func TestNextDelayFixedAndCapped(t *testing.T) {
	t.Parallel()

	fixed := Job{AttemptsMade: 5, Backoff: Backoff{Type: BackoffFixed, Delay: time.Second}}
	require.Equal(t, time.Second, NextDelay(fixed))

	huge := Job{AttemptsMade: 40, Backoff: Backoff{Type: BackoffExponential, Delay: time.Second}}
	require.Equal(t, maxBackoff, NextDelay(huge))

	require.Zero(t, NextDelay(Job{AttemptsMade: 1}))
}

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	require.True(t, ShouldRetry(Job{Attempts: 3, AttemptsMade: 1}, boom))
	require.True(t, ShouldRetry(Job{Attempts: 3, AttemptsMade: 2}, boom))
	require.False(t, ShouldRetry(Job{Attempts: 3, AttemptsMade: 3}, boom))
	require.False(t, ShouldRetry(Job{Attempts: 3, AttemptsMade: 1}, nil))
	require.False(t, ShouldRetry(Job{Attempts: 3, AttemptsMade: 1}, fmt.Errorf("wrap: %w", ErrPermanent)))
	require.False(t, ShouldRetry(Job{Attempts: 3, AttemptsMade: 1}, context.Canceled))
}
