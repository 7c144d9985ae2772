package settlement

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// cronLogger adapts zap to cron's logger interface
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}

// Scheduler sweeps every account with queued offline spends on a cron
// schedule. A sweep still running when the next one is due is skipped.
type Scheduler struct {
	cron       *cron.Cron
	reconciler *Reconciler
	schedule   string
	timeout    time.Duration
	logger     *zap.Logger
}

func NewScheduler(reconciler *Reconciler, schedule string, timeout time.Duration) *Scheduler {
	logger := zap.L().Named("scheduler")
	cl := cronLogger{sugar: logger.Sugar()}
	return &Scheduler{
		cron:       cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		reconciler: reconciler,
		schedule:   schedule,
		timeout:    timeout,
		logger:     logger,
	}
}

// Start registers the sweep and starts the cron scheduler
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.Sweep); err != nil {
		s.logger.Error("failed to schedule reconciliation sweep", zap.String("schedule", s.schedule), zap.Error(err))
		return err
	}
	s.logger.Info("scheduled reconciliation sweep", zap.String("schedule", s.schedule))
	s.cron.Start()
	return nil
}

// Sweep runs one ReconcileAll pass
func (s *Scheduler) Sweep() {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	reports, err := s.reconciler.ReconcileAll(ctx)
	if err != nil {
		s.logger.Error("reconciliation sweep finished with errors", zap.Int("accounts", len(reports)), zap.Error(err))
		return
	}
	if len(reports) > 0 {
		s.logger.Info("reconciliation sweep finished",
			zap.Int("accounts", len(reports)),
			zap.Duration("took", time.Since(start)))
	}
}

// Stop stops the scheduler and returns a context that is done once a
// running sweep has finished
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
