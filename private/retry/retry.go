// Copyright (C) 2025 Bronzelake, Inc.
// See LICENSE for copying information.

// Package retry implements the shared retry policy for upstream and
// warehouse requests: a bounded number of attempts with exponential
// backoff (base * 2^attempt) and no jitter. Semantic failures are marked
// permanent and returned without further attempts.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/zeebo/errs"
)

// Exhausted is returned when every configured attempt has failed.
var Exhausted = errs.Class("retries exhausted")

// Config bounds a retried operation.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseDelay is the sleep before the second attempt; it doubles for
	// each attempt after that.
	BaseDelay time.Duration
}

// Permanent marks err as non-retryable. Do returns the wrapped error
// immediately without consuming further attempts.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs fn up to config.MaxAttempts times. Waits are cancelled by ctx.
func Do(ctx context.Context, config Config, fn func() error) error {
	if config.MaxAttempts <= 0 {
		return Exhausted.New("no attempts configured")
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = config.BaseDelay
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxInterval = 24 * time.Hour
	policy.MaxElapsedTime = 0
	policy.Reset()

	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return permanent.Err
		}

		if attempt >= config.MaxAttempts-1 {
			return Exhausted.Wrap(err)
		}

		select {
		case <-ctx.Done():
			return errs.Combine(ctx.Err(), err)
		case <-time.After(policy.NextBackOff()):
		}
	}
}
