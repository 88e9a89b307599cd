package retry

import (
	"context"
	"errors"
	"time"

	"github.com/jpillora/backoff"
)

// RetryableFunc is a function that can be retried
type RetryableFunc func() error

// ErrorClassifier determines if an error is retryable
type ErrorClassifier func(error) bool

// RetryOptions defines the configuration for retries
type RetryOptions struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          bool
	Classifier      ErrorClassifier
	// OnRetry is called before each wait with the attempt that just failed.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultOptions returns a set of sensible default retry options
func DefaultOptions() RetryOptions {
	return RetryOptions{
		MaxAttempts:     5,
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		Classifier: func(err error) bool {
			return true
		},
	}
}

// Backoff builds the interval generator described by the options.
func (o RetryOptions) Backoff() *backoff.Backoff {
	return &backoff.Backoff{
		Min:    o.InitialInterval,
		Max:    o.MaxInterval,
		Factor: o.Multiplier,
		Jitter: o.Jitter,
	}
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying whatever the classifier says.
// Do returns the wrapped error itself.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do executes the function with exponential backoff retries
func Do(ctx context.Context, fn RetryableFunc, opts RetryOptions) error {
	var lastErr error
	b := opts.Backoff()

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err
		if opts.Classifier != nil && !opts.Classifier(err) {
			return err
		}
		if attempt == opts.MaxAttempts {
			break
		}

		wait := b.Duration()
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, err, wait)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}

// CalculateBackoff returns the interval waited after the given attempt number
// when jitter is off.
func CalculateBackoff(attempt int, opts RetryOptions) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	opts.Jitter = false
	return opts.Backoff().ForAttempt(float64(attempt - 1))
}
