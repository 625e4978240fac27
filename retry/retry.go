package retry

import (
	"context"
	"math/rand"
	"time"
)

const (
	DefaultMaxRetries  = 3
	DefaultBaseWait    = time.Second
	DefaultMaxWait     = 30 * time.Second
	DefaultBackoffRate = 2.0
)

type config struct {
	maxRetries  int
	baseWait    time.Duration
	maxWait     time.Duration
	backoffRate float64
	jitter      bool
}

// Option customizes retry behavior.
type Option func(*config)

// WithMaxRetries sets the number of retries after the initial attempt.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// WithBaseWait sets the delay before the first retry.
func WithBaseWait(d time.Duration) Option {
	return func(c *config) { c.baseWait = d }
}

// WithMaxWait caps the delay between retries.
func WithMaxWait(d time.Duration) Option {
	return func(c *config) { c.maxWait = d }
}

// WithBackoffRate sets the multiplier applied to the delay after each retry.
func WithBackoffRate(rate float64) Option {
	return func(c *config) { c.backoffRate = rate }
}

// WithJitter enables full jitter on retry delays.
func WithJitter(enabled bool) Option {
	return func(c *config) { c.jitter = enabled }
}

// Do runs fn, retrying with exponential backoff while the returned error is
// recoverable. The function runs once even with zero retries. The last error
// is returned when retries exhaust or the error is not recoverable.
func Do(ctx context.Context, fn func() error, opts ...Option) error {
	c := config{
		maxRetries:  DefaultMaxRetries,
		baseWait:    DefaultBaseWait,
		maxWait:     DefaultMaxWait,
		backoffRate: DefaultBackoffRate,
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.backoffRate <= 1 {
		c.backoffRate = DefaultBackoffRate
	}

	var err error
	wait := c.baseWait
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !IsRecoverable(err) || attempt >= c.maxRetries {
			return err
		}
		delay := wait
		if c.jitter {
			delay = time.Duration(rand.Int63n(int64(wait) + 1))
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
		wait = time.Duration(float64(wait) * c.backoffRate)
		if c.maxWait > 0 && wait > c.maxWait {
			wait = c.maxWait
		}
	}
}
