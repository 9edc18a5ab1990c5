package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/tsf-backend/internal/models"
)

const popTimeout = 5 * time.Second

// Worker consumes job ids from the Redis queue and runs them one at a time
type Worker struct {
	client  *redis.Client
	store   Store
	runner  *Runner
	timeout time.Duration
	log     *logrus.Logger
}

// NewWorker creates a queue consumer. timeout bounds a single job run.
func NewWorker(client *redis.Client, store Store, runner *Runner, timeout time.Duration, log *logrus.Logger) *Worker {
	return &Worker{client: client, store: store, runner: runner, timeout: timeout, log: log}
}

// Run processes jobs until ctx is cancelled
func (w *Worker) Run(ctx context.Context) error {
	w.log.WithField("queue", QueueKey).Info("Worker started")
	for {
		if err := ctx.Err(); err != nil {
			w.log.Info("Worker stopped")
			return nil
		}
		if _, err := w.ProcessNext(ctx); err != nil && ctx.Err() == nil {
			w.log.WithError(err).Error("Failed to take job from queue")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

// ProcessNext waits up to popTimeout for a job id and runs it. It reports whether a job ran.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	res, err := w.client.BRPop(ctx, popTimeout, QueueKey).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	// BRPOP replies with [key, value]
	id := res[1]
	log := w.log.WithField("job_id", id)

	job, err := w.store.Load(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		log.WithError(err).Warn("Dropping queued job without status")
		return false, nil
	}
	if err != nil {
		// put the id back at the consuming end so the next pop retries it
		if perr := w.client.RPush(context.WithoutCancel(ctx), QueueKey, id).Err(); perr != nil {
			log.WithError(perr).Error("Failed to return job to queue")
		}
		return false, fmt.Errorf("failed to load queued job %s: %w", id, err)
	}
	if job.State != models.JobQueued {
		log.WithField("state", job.State).Info("Skipping job that is no longer queued")
		return false, nil
	}

	runCtx := ctx
	if w.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	log.Info("Worker picked up job")
	w.runner.Run(runCtx, job)
	return true, nil
}
