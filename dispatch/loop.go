// Package dispatch implements the dispatch loop (C10): batches available
// jobs, applies the priority/starvation policy, hands each to the job
// processor, and manages backoff and poison-job isolation.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"inferno/jobstore"
	"inferno/processor"
)

// Loop drives one worker process's single-threaded dispatch cycle.
type Loop struct {
	Store    *jobstore.Store
	Pipeline *processor.Pipeline
	Logger   *slog.Logger

	BatchSize                  int
	BatchWait                  time.Duration
	NoOpLoggerInterval         time.Duration
	StarvationPreventionEveryN int
	BackoffStart               time.Duration
	BackoffIncrement           time.Duration

	iteration   int
	backoff     time.Duration
	lastNoOpLog time.Time
}

// New builds a Loop with defaulted zero-value fields filled in.
func New(store *jobstore.Store, pipeline *processor.Pipeline, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		Store:                      store,
		Pipeline:                   pipeline,
		Logger:                     logger,
		BatchSize:                  16,
		BatchWait:                  2 * time.Second,
		NoOpLoggerInterval:         time.Minute,
		StarvationPreventionEveryN: 3,
		BackoffStart:               time.Second,
		BackoffIncrement:           2 * time.Second,
		backoff:                    time.Second,
	}
}

// Run blocks until ctx is cancelled, dispatching batches of jobs.
func (l *Loop) Run(ctx context.Context) error {
	if _, err := l.Store.ResetExpiredLeases(); err != nil {
		l.Logger.Error("dispatch: reset expired leases at startup", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := l.tick(ctx); err != nil {
			l.Logger.Error("dispatch: tick failed", "error", err, "backoff", l.backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(l.backoff):
			}
			l.backoff += l.BackoffIncrement
			continue
		}
		l.backoff = l.BackoffStart
	}
}

func (l *Loop) tick(ctx context.Context) error {
	l.iteration++
	sortByPriority := l.StarvationPreventionEveryN <= 0 || l.iteration%l.StarvationPreventionEveryN != 0

	jobs, err := l.Store.ListAvailable(l.BatchSize, sortByPriority)
	if err != nil {
		return err
	}

	if len(jobs) == 0 {
		if time.Since(l.lastNoOpLog) > l.NoOpLoggerInterval {
			l.Logger.Info("dispatch: no work available")
			l.lastNoOpLog = time.Now()
		}
		select {
		case <-ctx.Done():
		case <-time.After(l.BatchWait):
		}
		return nil
	}

	errs := l.runBatch(ctx, jobs)
	if countCrashErrors(errs)*2 > len(jobs) {
		l.Logger.Warn("dispatch: majority of batch crash-classified, bisecting", "batch_size", len(jobs))
		l.bisectAndIsolate(ctx, jobs, 0)
	}

	return nil
}

// runBatch dispatches each job in jobs to the processor pipeline
// sequentially (strict FIFO within a worker), returning one error per job
// (nil for jobs that completed without error or were not reached). A
// processor.ErrFilesystemFull abandons the rest of the batch.
func (l *Loop) runBatch(ctx context.Context, jobs []*jobstore.Job) []error {
	errs := make([]error, len(jobs))
	for i, job := range jobs {
		if err := l.Pipeline.Process(ctx, job); err != nil {
			l.Logger.Error("dispatch: job failed", "job_id", job.ID, "job_type", job.Type, "error", err)
			errs[i] = err
			if errors.Is(err, processor.ErrFilesystemFull) {
				l.Logger.Warn("dispatch: filesystem full, abandoning rest of batch", "job_id", job.ID)
				break
			}
		}
	}
	return errs
}
