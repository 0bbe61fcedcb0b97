package scheduler

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/trust-engine/internal/database"
)

// HealthCheckJob verifies the sqlite store's integrity and reports host
// resource pressure. It never mutates trading state and never fails the
// process outright; a corrupted database is logged at error level so an
// operator can intervene, since auto-recovery of a ledger database would
// itself be a risk decision.
type HealthCheckJob struct {
	log      zerolog.Logger
	store    *database.Store
	dataPath string
}

// HealthCheckConfig holds configuration for the health check job.
type HealthCheckConfig struct {
	Log      zerolog.Logger
	Store    *database.Store
	DataPath string
}

// NewHealthCheckJob creates a new health check job.
func NewHealthCheckJob(cfg HealthCheckConfig) *HealthCheckJob {
	return &HealthCheckJob{
		log:      cfg.Log.With().Str("job", "health_check").Logger(),
		store:    cfg.Store,
		dataPath: cfg.DataPath,
	}
}

// Name returns the job name.
func (j *HealthCheckJob) Name() string { return "health_check" }

// Run executes the health check.
func (j *HealthCheckJob) Run() error {
	start := time.Now()

	if err := j.checkIntegrity(); err != nil {
		j.log.Error().Err(err).Msg("database integrity check failed")
		return err
	}
	j.checkWALCheckpoint()
	j.checkHostResources()

	j.log.Info().Dur("duration", time.Since(start)).Msg("health check completed")
	return nil
}

// checkIntegrity runs SQLite's PRAGMA integrity_check against the store.
func (j *HealthCheckJob) checkIntegrity() error {
	if j.store == nil {
		return nil
	}

	var result string
	if err := j.store.Conn().QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check returned: %s", result)
	}
	j.log.Debug().Msg("database integrity OK")
	return nil
}

// checkWALCheckpoint logs WAL frame count so a growing WAL file is caught
// before it becomes a disk-space incident.
func (j *HealthCheckJob) checkWALCheckpoint() {
	if j.store == nil {
		return
	}

	var mode, busy, logFrames, checkpointed int
	err := j.store.Conn().QueryRow("PRAGMA wal_checkpoint(PASSIVE)").Scan(&mode, &busy, &logFrames, &checkpointed)
	if err != nil {
		if err == sql.ErrNoRows {
			return
		}
		j.log.Warn().Err(err).Msg("failed to check WAL checkpoint")
		return
	}

	if logFrames > 1000 {
		j.log.Warn().Int("wal_frames", logFrames).Int("checkpointed", checkpointed).Msg("WAL file is large, checkpoint may be needed")
	} else {
		j.log.Debug().Int("wal_frames", logFrames).Msg("WAL checkpoint status OK")
	}
}

// checkHostResources reports memory and disk pressure for the data volume.
// Trading decisions never depend on these numbers; they exist so an
// operator notices resource exhaustion before it causes a broker timeout.
func (j *HealthCheckJob) checkHostResources() {
	if vm, err := mem.VirtualMemory(); err == nil {
		if vm.UsedPercent > 90 {
			j.log.Warn().Float64("used_percent", vm.UsedPercent).Msg("host memory usage is high")
		} else {
			j.log.Debug().Float64("used_percent", vm.UsedPercent).Msg("host memory OK")
		}
	} else {
		j.log.Warn().Err(err).Msg("failed to read host memory stats")
	}

	path := j.dataPath
	if path == "" {
		path = "."
	}
	if du, err := disk.Usage(path); err == nil {
		if du.UsedPercent > 90 {
			j.log.Warn().Float64("used_percent", du.UsedPercent).Str("path", path).Msg("host disk usage is high")
		} else {
			j.log.Debug().Float64("used_percent", du.UsedPercent).Msg("host disk OK")
		}
	} else {
		j.log.Warn().Err(err).Msg("failed to read host disk stats")
	}
}
