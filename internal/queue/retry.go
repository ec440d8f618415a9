package queue

import (
	"context"
	"errors"
	"math"
	"time"
)

// maxBackoff caps exponential growth.
const maxBackoff = 6 * time.Hour

// ShouldRetry reports whether a job that just failed with err gets another attempt.
// AttemptsMade already includes the failed run.
func ShouldRetry(job Job, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermanent) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return job.AttemptsMade < job.Attempts
}

// NextDelay returns how long to wait before the next attempt of job.
// Exponential backoff waits Delay * 2^(AttemptsMade-1).
func NextDelay(job Job) time.Duration {
	b := job.Backoff
	if b.Delay <= 0 {
		return 0
	}
	if b.Type == BackoffFixed {
		return b.Delay
	}
	retry := job.AttemptsMade - 1
	if retry < 0 {
		retry = 0
	}
	delay := float64(b.Delay) * math.Pow(2, float64(retry))
	if delay > float64(maxBackoff) {
		return maxBackoff
	}
	return time.Duration(delay)
}

// ErrPermanent marks a handler error that must not be retried.
var ErrPermanent = errors.New("permanent failure")
