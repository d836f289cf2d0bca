package queue

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/mailvault/internal/common"
	"github.com/dmitrijs2005/mailvault/internal/logging"
	"github.com/dmitrijs2005/mailvault/internal/server/models"
	"golang.org/x/sync/semaphore"
)

// Worker claims jobs and runs them with at most concurrency in flight.
type Worker struct {
	queue       *Queue
	handler     Handler
	concurrency int64
	sem         *semaphore.Weighted
	interval    time.Duration
	logger      logging.Logger
}

func NewWorker(q *Queue, h Handler, concurrency int, interval time.Duration, logger logging.Logger) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		queue:       q,
		handler:     h,
		concurrency: int64(concurrency),
		sem:         semaphore.NewWeighted(int64(concurrency)),
		interval:    interval,
		logger:      logger.With("component", "worker"),
	}
}

// Run claims jobs until ctx is cancelled. Jobs already started keep running
// after Run returns; call Drain to wait for them.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.fill(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *Worker) fill(ctx context.Context) {
	for ctx.Err() == nil && w.sem.TryAcquire(1) {
		job, err := w.queue.Claim(ctx)
		if err != nil {
			w.sem.Release(1)
			if !errors.Is(err, common.ErrorNotFound) && ctx.Err() == nil {
				w.logger.Error(ctx, "claiming job", "error", err)
			}
			return
		}

		go func() {
			defer w.sem.Release(1)
			w.process(context.WithoutCancel(ctx), job)
		}()
	}
}

func (w *Worker) process(ctx context.Context, job *models.Job) {
	ctx = logging.ContextWith(ctx, "job_id", job.ID, "uid", job.UID, "attempt", job.Attempts)
	w.logger.Debug(ctx, "job started")

	err := w.handler.Handle(ctx, job)
	if err != nil {
		w.logger.Warn(ctx, "job attempt failed", "error", err)
	}

	if ferr := w.queue.Finish(ctx, job, err, w.handler); ferr != nil {
		w.logger.Error(ctx, "recording job outcome", "error", ferr)
	}
}

// Drain blocks until in-flight jobs finish or ctx is done.
func (w *Worker) Drain(ctx context.Context) error {
	if err := w.sem.Acquire(ctx, w.concurrency); err != nil {
		return err
	}
	w.sem.Release(w.concurrency)
	return nil
}
