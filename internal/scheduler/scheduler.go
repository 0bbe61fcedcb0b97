package scheduler

import (
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job represents a scheduled job
type Job interface {
	Run() error
	Name() string
}

// JobStatus is the last observed outcome of a registered job, surfaced
// by the server's health endpoint so an operator can tell a silently
// failing sync cycle or health check from a healthy one.
type JobStatus struct {
	Name     string
	LastRun  time.Time
	Duration time.Duration
	OK       bool
	Err      string
}

// Scheduler manages background jobs
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger

	mu       sync.Mutex
	statuses map[string]JobStatus
}

// New creates a new scheduler
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		log:      log.With().Str("component", "scheduler").Logger(),
		statuses: make(map[string]JobStatus),
	}
}

// Statuses returns the last-run outcome of every registered job, sorted
// by name for deterministic output.
func (s *Scheduler) Statuses() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.statuses))
	for _, st := range s.statuses {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) recordStatus(st JobStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[st.Name] = st
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a new job with cron schedule
// Schedule examples:
//   - "0 */5 * * * *"      - Every 5 minutes
//   - "@hourly"            - Every hour
//   - "0 9 * * MON-FRI"    - 9 AM weekdays
//   - "@every 30s"         - Every 30 seconds
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.log.Debug().Str("job", job.Name()).Msg("Running job")
		start := time.Now()

		if err := job.Run(); err != nil {
			s.log.Error().
				Err(err).
				Str("job", job.Name()).
				Msg("Job failed")
			s.recordStatus(JobStatus{Name: job.Name(), LastRun: start, Duration: time.Since(start), OK: false, Err: err.Error()})
		} else {
			s.log.Debug().Str("job", job.Name()).Msg("Job completed")
			s.recordStatus(JobStatus{Name: job.Name(), LastRun: start, Duration: time.Since(start), OK: true})
		}
	})

	if err != nil {
		return err
	}

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")

	return nil
}

// RunNow executes a job immediately (outside schedule)
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")
	start := time.Now()
	err := job.Run()
	if err != nil {
		s.recordStatus(JobStatus{Name: job.Name(), LastRun: start, Duration: time.Since(start), OK: false, Err: err.Error()})
	} else {
		s.recordStatus(JobStatus{Name: job.Name(), LastRun: start, Duration: time.Since(start), OK: true})
	}
	return err
}
