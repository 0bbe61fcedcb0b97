package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/trust-engine/internal/broker/paper"
	"github.com/aristath/trust-engine/internal/clock"
	"github.com/aristath/trust-engine/internal/concurrency"
	"github.com/aristath/trust-engine/internal/config"
	"github.com/aristath/trust-engine/internal/database"
	"github.com/aristath/trust-engine/internal/facade"
	"github.com/aristath/trust-engine/internal/id"
	"github.com/aristath/trust-engine/internal/ledger"
	"github.com/aristath/trust-engine/internal/ports"
	"github.com/aristath/trust-engine/internal/reconciler"
	"github.com/aristath/trust-engine/internal/scheduler"
	"github.com/aristath/trust-engine/internal/server"
	"github.com/aristath/trust-engine/pkg/logger"
)

func main() {
	log := logger.New(logger.Config{Level: "info", Pretty: true})
	log.Info().Msg("starting trust engine")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	log = logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})

	store, err := database.Open(cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer store.Close()

	brk, err := newBroker(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize broker adapter")
	}

	clk := clock.System{}
	ids := id.UUIDGenerator{}
	lg := ledger.New(clk, ids, log)
	locks := concurrency.NewTradeLocks()

	rec := reconciler.New(store, brk, lg, locks, clk, ids, reconciler.Config{
		BrokerName:  string(cfg.BrokerKind),
		LockTimeout: 5 * time.Second,
	}, log)

	facadeCfg := facade.DefaultConfig()
	facadeCfg.SubmitTimeout = cfg.SubmitTimeout
	facadeCfg.Retry.MaxAttempts = cfg.RetryMaxAttempts
	f := facade.New(store, brk, lg, locks, clk, ids, rec, facadeCfg, log)

	sched := scheduler.New(log)
	sched.Start()
	defer sched.Stop()

	if err := registerJobs(sched, store, f, log); err != nil {
		log.Fatal().Err(err).Msg("failed to register background jobs")
	}

	srv := server.New(server.Config{
		Port:      cfg.Port,
		Log:       log,
		Facade:    f,
		Scheduler: sched,
		DevMode:   cfg.DevMode,
	})

	go func() {
		if err := srv.Start(); err != nil && err.Error() != "http: Server closed" {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Str("broker_kind", string(cfg.BrokerKind)).Msg("trust engine started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("stopped")
}

// newBroker selects the ports.Broker adapter per cfg.BrokerKind. The live
// adapter (internal/broker/live) requires a venue-specific Codec that
// this module deliberately does not ship (spec §1 scopes out the
// concrete wire encoding of any one broker), so BrokerKindLive is
// rejected here rather than half-wired.
func newBroker(cfg *config.Config, log zerolog.Logger) (ports.Broker, error) {
	switch cfg.BrokerKind {
	case config.BrokerKindPaper:
		return paper.New(log, time.Now), nil
	default:
		return nil, fmt.Errorf("live broker adapter requires a venue-specific internal/broker/live.Codec; none is wired in this build (broker_kind=%s)", cfg.BrokerKind)
	}
}

func registerJobs(sched *scheduler.Scheduler, store *database.Store, f *facade.Facade, log zerolog.Logger) error {
	healthJob := scheduler.NewHealthCheckJob(scheduler.HealthCheckConfig{
		Log:      log,
		Store:    store,
		DataPath: ".",
	})
	if err := sched.AddJob("@every 6h", healthJob); err != nil {
		return err
	}

	syncJob := scheduler.NewSyncCycleJob(scheduler.SyncCycleConfig{
		Log:     log,
		Rec:     f,
		Timeout: 30 * time.Second,
	})
	if err := sched.AddJob("@every 30s", syncJob); err != nil {
		return err
	}

	return nil
}
