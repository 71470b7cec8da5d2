package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultStopTimeout bounds how long Stop waits for running jobs.
const DefaultStopTimeout = 15 * time.Second

// Job is a scheduled unit of work.
type Job func(ctx context.Context) error

type registration struct {
	name string
	spec string
	job  Job
}

// Scheduler runs retrain and re-score jobs on cron expressions with a
// seconds field. A job still running when its next tick fires is skipped.
type Scheduler struct {
	cronRunner  *cron.Cron
	logger      *zap.Logger
	jobs        []registration
	StopTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger.Named("cron")))
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cronRunner: cron.New(
			cron.WithSeconds(),
			cron.WithChain(
				cron.SkipIfStillRunning(cronLogger),
				cron.Recover(cronLogger),
			),
		),
		logger:      logger,
		StopTimeout: DefaultStopTimeout,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Register queues a job for Start. An empty expression disables the job.
func (s *Scheduler) Register(name, spec string, job Job) {
	if spec == "" {
		s.logger.Info("no schedule configured, job disabled", zap.String("job", name))
		return
	}
	s.jobs = append(s.jobs, registration{name: name, spec: spec, job: job})
}

// Start adds every registered job and starts the cron runner.
func (s *Scheduler) Start() error {
	for _, r := range s.jobs {
		r := r
		id, err := s.cronRunner.AddFunc(r.spec, func() { s.run(r) })
		if err != nil {
			return fmt.Errorf("invalid cron expression %q for job %s: %w", r.spec, r.name, err)
		}
		s.logger.Info("job scheduled", zap.String("job", r.name), zap.String("cron", r.spec), zap.Int("entry_id", int(id)))
	}
	s.cronRunner.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", s.entries()))
	return nil
}

func (s *Scheduler) run(r registration) {
	start := time.Now()
	s.logger.Info("scheduled job started", zap.String("job", r.name))
	if err := r.job(s.ctx); err != nil {
		s.logger.Error("scheduled job failed", zap.String("job", r.name), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return
	}
	s.logger.Info("scheduled job finished", zap.String("job", r.name), zap.Duration("elapsed", time.Since(start)))
}

// entries reports how many jobs the cron runner holds.
func (s *Scheduler) entries() int {
	return len(s.cronRunner.Entries())
}

// Stop halts the cron runner and waits for running jobs, at most
// StopTimeout. The job context is cancelled afterwards.
func (s *Scheduler) Stop() {
	done := s.cronRunner.Stop()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
	case <-time.After(s.StopTimeout):
		s.logger.Warn("scheduler stop timed out, abandoning running jobs", zap.Duration("timeout", s.StopTimeout))
	}
	s.cancel()
}
