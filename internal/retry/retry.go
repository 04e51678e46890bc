// Package retry implements the ingestor's backoff-and-classify policy:
// exponential backoff with jitter, gated by an error-severity classification
// so permanent failures fail fast instead of burning the retry budget.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/ppmina/xdata-go/internal/exchange"
)

// Severity classifies an error for retry purposes.
type Severity int

const (
	// SeverityFatal aborts the run: no retry, e.g. unauthorized credentials.
	SeverityFatal Severity = iota
	// SeverityPermanent fails only the current symbol/request: no retry,
	// e.g. an invalid symbol.
	SeverityPermanent
	// SeverityTransient is retried with backoff: network errors, 5xx, rate
	// limiting.
	SeverityTransient
)

// Classify maps an error from the exchange client onto a severity.
func Classify(err error) Severity {
	if err == nil {
		return SeverityTransient
	}
	switch {
	case errors.Is(err, exchange.ErrUnauthorized):
		return SeverityFatal
	case errors.Is(err, exchange.ErrInvalidSymbol):
		return SeverityPermanent
	default:
		return SeverityTransient
	}
}

// Policy configures exponential backoff with jitter.
type Policy struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int
	Jitter     float64 // fraction of the computed delay to randomize, e.g. 0.2
}

// DefaultPolicy mirrors representative retry defaults: a
// 500ms base delay, capped at 30s, up to 5 retries after the first
// attempt, +/-20% jitter.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   30 * time.Second,
		MaxRetries: 5,
		Jitter:     0.2,
	}
}

// Delay computes the backoff delay before retry attempt n (0-indexed: the
// delay before the first retry, i.e. after the first failure, is Delay(0)).
func (p Policy) Delay(attempt int) time.Duration {
	d := p.BaseDelay * time.Duration(1<<uint(attempt))
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		span := float64(d) * p.Jitter
		d = d - time.Duration(span) + time.Duration(rand.Float64()*2*span)
	}
	return d
}

// RateLimitedError's hint, if present, overrides the computed delay.
func delayFor(p Policy, attempt int, err error) time.Duration {
	var rle *exchange.RateLimitedError
	if errors.As(err, &rle) && rle.RetryAfterMS > 0 {
		return time.Duration(rle.RetryAfterMS) * time.Millisecond
	}
	return p.Delay(attempt)
}

// Do runs fn, retrying on transient failures per policy until it succeeds,
// a non-transient error is returned, the retry budget is exhausted, or ctx
// is cancelled. Rate-limit retries do not count toward the retry budget.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	var lastErr error
	budgetedAttempt := 0 // counts only attempts that draw from MaxRetries
	rateLimitStreak := 0 // counts consecutive rate-limit retries, uncapped

	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		switch Classify(err) {
		case SeverityFatal, SeverityPermanent:
			return err
		}

		var rle *exchange.RateLimitedError
		isRateLimited := errors.As(err, &rle)

		var delay time.Duration
		if isRateLimited {
			delay = delayFor(p, rateLimitStreak, err)
			rateLimitStreak++
		} else {
			if budgetedAttempt >= p.MaxRetries {
				return lastErr
			}
			delay = p.Delay(budgetedAttempt)
			budgetedAttempt++
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
