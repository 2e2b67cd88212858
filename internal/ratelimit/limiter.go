package ratelimit

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// Limiter paces calls to an outbound dependency.
type Limiter interface {
	Wait(ctx context.Context) error
}

type localLimiter struct {
	limiter *rate.Limiter
}

// NewLocalLimiter returns an in-process token bucket. A non-positive rate
// disables limiting.
func NewLocalLimiter(ratePerSecond float64, burst int) Limiter {
	if ratePerSecond <= 0 {
		return noopLimiter{}
	}
	if burst <= 0 {
		burst = 1
	}
	return &localLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

func (l *localLimiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

type noopLimiter struct{}

func (noopLimiter) Wait(ctx context.Context) error {
	return ctx.Err()
}

const minBucketBackoff = 10 * time.Millisecond

// BucketLimiter shares one Redis token bucket across every process that uses
// the same key.
type BucketLimiter struct {
	bucket *TokenBucket
	key    string
	rate   float64
	burst  int
}

func NewBucketLimiter(bucket *TokenBucket, key string, ratePerSecond float64, burst int) (*BucketLimiter, error) {
	if bucket == nil {
		return nil, errors.New("rate limiter not configured")
	}
	if key == "" {
		return nil, errors.New("rate limiter key is empty")
	}
	if ratePerSecond <= 0 || burst <= 0 {
		return nil, errors.New("rate limiter rate and burst must be positive")
	}
	return &BucketLimiter{bucket: bucket, key: key, rate: ratePerSecond, burst: burst}, nil
}

func (l *BucketLimiter) Wait(ctx context.Context) error {
	for {
		wait, err := l.bucket.Take(ctx, l.key, l.rate, l.burst)
		if err != nil {
			return err
		}
		if wait == 0 {
			return nil
		}

		timer := time.NewTimer(max(wait, minBucketBackoff))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
