package errclass

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy bounds a retry loop.
type Policy struct {
	Tries uint
	// Interval is the first delay. With Linear set the n-th delay is n*Interval.
	Interval    time.Duration
	MaxInterval time.Duration
	Multiplier  float64
	Jitter      float64
	Linear      bool
}

// DefaultPolicy is used for balance refreshes and price lookups.
var DefaultPolicy = Policy{
	Tries:       3,
	Interval:    time.Second,
	MaxInterval: 3 * time.Second,
	Multiplier:  2,
	Jitter:      0.2,
}

// Fixed retries tries times with a constant delay.
func Fixed(tries uint, delay time.Duration) Policy {
	return Policy{Tries: tries, Interval: delay, MaxInterval: delay, Multiplier: 1}
}

// Linear retries tries times, waiting step*attempt between attempts.
func Linear(tries uint, step time.Duration) Policy {
	return Policy{Tries: tries, Interval: step, Linear: true}
}

func (p Policy) backOff() backoff.BackOff {
	if p.Linear {
		return &linearBackOff{step: p.Interval}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Interval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	return b
}

type linearBackOff struct {
	step time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return time.Duration(b.n) * b.step
}

func (b *linearBackOff) Reset() { b.n = 0 }

// Retry runs op until it succeeds, returns a non-retryable error, or the policy runs out.
// The returned error is the last classified failure.
func Retry[T any](ctx context.Context, policy Policy, source Source, op func(context.Context) (T, error)) (T, error) {
	tries := policy.Tries
	if tries == 0 {
		tries = 1
	}
	return backoff.Retry(ctx, func() (T, error) {
		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		classified := Classify(err, source)
		if !classified.Retryable {
			return res, backoff.Permanent(classified)
		}
		return res, classified
	}, backoff.WithBackOff(policy.backOff()), backoff.WithMaxTries(tries))
}
