// Copyright (C) 2025 Bronzelake, Inc.
// See LICENSE for copying information.

package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bronzelake/datapipeline/private/retry"
)

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	ctx := context.Background()
	attempts := 0
	err := retry.Do(ctx, retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond}, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestDoExhaustsAttempts(t *testing.T) {
	ctx := context.Background()
	attempts := 0
	err := retry.Do(ctx, retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond}, func() error {
		attempts++
		return errors.New("transient")
	})
	require.Error(t, err)
	require.True(t, retry.Exhausted.Has(err))
	require.Equal(t, 3, attempts)
}

func TestDoPermanentStopsImmediately(t *testing.T) {
	ctx := context.Background()
	semantic := errors.New("400 bad request")
	attempts := 0
	err := retry.Do(ctx, retry.Config{MaxAttempts: 5, BaseDelay: time.Millisecond}, func() error {
		attempts++
		return retry.Permanent(semantic)
	})
	require.ErrorIs(t, err, semantic)
	require.False(t, retry.Exhausted.Has(err))
	require.Equal(t, 1, attempts)
}

func TestDoZeroAttempts(t *testing.T) {
	err := retry.Do(context.Background(), retry.Config{}, func() error {
		t.Fatal("must not be called")
		return nil
	})
	require.True(t, retry.Exhausted.Has(err))
}

func TestDoContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := retry.Do(ctx, retry.Config{MaxAttempts: 2, BaseDelay: time.Minute}, func() error {
		return errors.New("transient")
	})
	require.ErrorIs(t, err, context.Canceled)
}
