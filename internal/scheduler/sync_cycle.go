package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Reconciler is the subset of facade.Facade the sync cycle job needs. It
// is declared locally so this package does not import facade (which in
// turn depends on nearly everything else) just to run a cron tick.
type Reconciler interface {
	RunReconciler(ctx context.Context) error
}

// SyncCycleJob drains broker execution/status events through the
// reconciler on a fixed cadence, so fills and rejections land even when
// no Facade caller happens to invoke sync_trade for the affected trade.
type SyncCycleJob struct {
	log     zerolog.Logger
	rec     Reconciler
	timeout time.Duration
}

// SyncCycleConfig holds configuration for the sync cycle job.
type SyncCycleConfig struct {
	Log     zerolog.Logger
	Rec     Reconciler
	Timeout time.Duration // defaults to 30s if zero
}

// NewSyncCycleJob creates a new sync cycle job.
func NewSyncCycleJob(cfg SyncCycleConfig) *SyncCycleJob {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SyncCycleJob{
		log:     cfg.Log.With().Str("job", "sync_cycle").Logger(),
		rec:     cfg.Rec,
		timeout: timeout,
	}
}

// Name returns the job name.
func (j *SyncCycleJob) Name() string { return "sync_cycle" }

// Run drains the broker's event stream through the reconciler for one
// bounded window. RunReconciler blocks until its context is canceled
// (it is a streaming consumer, not a one-shot call), so each tick opens
// its own deadline and hands control back to the scheduler when it
// expires; that expiry is the expected, non-error outcome of a tick.
func (j *SyncCycleJob) Run() error {
	if j.rec == nil {
		j.log.Warn().Msg("reconciler not configured, skipping sync cycle")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	start := time.Now()
	err := j.rec.RunReconciler(ctx)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		j.log.Error().Err(err).Msg("reconciler run failed")
		return err
	}
	j.log.Debug().Dur("duration", time.Since(start)).Msg("sync cycle completed")
	return nil
}
