package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/trust-engine/internal/ports"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	policy := RetryPolicy{Base: time.Millisecond, Factor: 2, MaxAttempts: 5}
	attempts := 0

	err := policy.Do(context.Background(), zerolog.Nop(), func() error {
		attempts++
		if attempts < 3 {
			return &ports.BrokerError{Class: ports.ClassTransient, Message: "timeout"}
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestRetryStopsImmediatelyOnPermanentError(t *testing.T) {
	policy := RetryPolicy{Base: time.Millisecond, Factor: 2, MaxAttempts: 5}
	attempts := 0
	permanent := &ports.BrokerError{Class: ports.ClassPermanent, Message: "rejected"}

	err := policy.Do(context.Background(), zerolog.Nop(), func() error {
		attempts++
		return permanent
	})

	require.Equal(t, permanent, err)
	require.Equal(t, 1, attempts)
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	policy := RetryPolicy{Base: time.Millisecond, Factor: 2, MaxAttempts: 3}
	attempts := 0

	err := policy.Do(context.Background(), zerolog.Nop(), func() error {
		attempts++
		return &ports.BrokerError{Class: ports.ClassTransient, Message: "timeout"}
	})

	require.True(t, ports.IsTransient(err))
	require.Equal(t, 3, attempts)
}

func TestRetryNonBrokerErrorSurfacesImmediately(t *testing.T) {
	policy := RetryPolicy{Base: time.Millisecond, Factor: 2, MaxAttempts: 5}
	attempts := 0
	plain := errors.New("boom")

	err := policy.Do(context.Background(), zerolog.Nop(), func() error {
		attempts++
		return plain
	})

	require.Equal(t, plain, err)
	require.Equal(t, 1, attempts)
}

func TestRetryRespectsContextCancellation(t *testing.T) {
	policy := RetryPolicy{Base: 50 * time.Millisecond, Factor: 2, MaxAttempts: 5}
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	err := policy.Do(ctx, zerolog.Nop(), func() error {
		attempts++
		return &ports.BrokerError{Class: ports.ClassTransient, Message: "timeout"}
	})

	require.ErrorIs(t, err, context.Canceled)
}
