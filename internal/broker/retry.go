// Package broker holds the retry policy shared by every Broker adapter
// and the live websocket/HTTP adapter itself.
package broker

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/trust-engine/internal/ports"
)

// RetryPolicy is the capped exponential backoff of spec §7: base 250ms,
// factor 2, jitter, max attempts.
type RetryPolicy struct {
	Base        time.Duration
	Factor      float64
	MaxAttempts int
}

// DefaultRetryPolicy matches spec §7 exactly.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Base: 250 * time.Millisecond, Factor: 2, MaxAttempts: 5}
}

// Do retries fn only while it returns a Transient BrokerError, with
// capped exponential backoff and jitter. A Permanent error, or any
// non-broker error, surfaces immediately without retry.
func (p RetryPolicy) Do(ctx context.Context, log zerolog.Logger, fn func() error) error {
	delay := p.Base
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !ports.IsTransient(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}
		jittered := time.Duration(float64(delay) * (0.5 + rand.Float64()))
		log.Warn().Err(lastErr).Int("attempt", attempt).Dur("delay", jittered).Msg("retrying transient broker error")
		select {
		case <-time.After(jittered):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = time.Duration(float64(delay) * p.Factor)
	}
	return lastErr
}
