package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/tsf-backend/internal/metrics"
	"github.com/Dan9191/tsf-backend/internal/models"
)

// Tracker accepts forecast jobs and reports on them
type Tracker interface {
	Submit(ctx context.Context, req models.StartRequest) (string, error)
	Status(ctx context.Context, id string) (*models.Job, error)
	Resume(ctx context.Context, id string) (*models.Job, error)
	Download(ctx context.Context, id string) (string, error)
}

// base holds the status logic both backends share
type base struct {
	store     Store
	heartbeat time.Duration
	log       *logrus.Logger
	now       func() time.Time
}

// quiet reports whether a job has not been touched for longer than the heartbeat
func (b *base) quiet(job *models.Job) bool {
	return b.heartbeat > 0 && b.now().Sub(job.UpdatedAt) > b.heartbeat
}

// stale reports whether an active job has missed its heartbeat
func (b *base) stale(job *models.Job) bool {
	return job.State.Active() && b.quiet(job)
}

func (b *base) newJob(req models.StartRequest) (*models.Job, error) {
	if err := req.Normalize(); err != nil {
		return nil, err
	}
	now := b.now().UTC()
	return &models.Job{
		ID:        uuid.NewString(),
		State:     models.JobQueued,
		Progress:  ProgressQueued,
		Message:   "queued",
		Request:   req,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// requeue resets a job for a full rerun
func (b *base) requeue(ctx context.Context, job *models.Job) error {
	job.State = models.JobQueued
	job.Progress = ProgressQueued
	job.Message = "queued"
	job.Error = ""
	job.OutputFile = ""
	job.UpdatedAt = b.now().UTC()
	return b.store.Save(ctx, job)
}

// Status loads a job, reporting an active job without a recent heartbeat as paused
func (b *base) Status(ctx context.Context, id string) (*models.Job, error) {
	job, err := b.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.stale(job) {
		job.State = models.JobPaused
		job.Message = fmt.Sprintf("no progress for %s, call resume to restart", b.heartbeat)
	}
	return job, nil
}

// Download returns the path of a ready job's output
func (b *base) Download(ctx context.Context, id string) (string, error) {
	job, err := b.store.Load(ctx, id)
	if err != nil {
		return "", err
	}
	if job.State != models.JobReady {
		return "", fmt.Errorf("job %s is %s: %w", id, job.State, models.ErrNotReady)
	}
	if job.OutputFile == "" {
		return "", fmt.Errorf("job %s has no output file: %w", id, models.ErrNotFound)
	}
	if _, err := os.Stat(job.OutputFile); errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("output file of job %s is missing: %w", id, models.ErrNotFound)
	} else if err != nil {
		return "", fmt.Errorf("failed to stat output file: %w", err)
	}
	return job.OutputFile, nil
}

// LocalTracker runs each job in a goroutine of this process
type LocalTracker struct {
	base
	runner *Runner

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

// NewLocalTracker creates a tracker that executes jobs in-process
func NewLocalTracker(store Store, runner *Runner, heartbeat time.Duration, log *logrus.Logger) *LocalTracker {
	return &LocalTracker{
		base:     base{store: store, heartbeat: heartbeat, log: log, now: time.Now},
		runner:   runner,
		inflight: make(map[string]struct{}),
	}
}

// Submit persists a queued job and starts it
func (t *LocalTracker) Submit(ctx context.Context, req models.StartRequest) (string, error) {
	job, err := t.newJob(req)
	if err != nil {
		return "", err
	}
	if err := t.store.Save(ctx, job); err != nil {
		return "", err
	}
	metrics.JobsSubmitted.WithLabelValues("local").Inc()
	t.spawn(job)
	t.log.WithField("job_id", job.ID).Infof("Forecast job submitted for %s", job.Request.TargetValue)
	return job.ID, nil
}

func (t *LocalTracker) spawn(job *models.Job) bool {
	t.mu.Lock()
	if _, running := t.inflight[job.ID]; running {
		t.mu.Unlock()
		return false
	}
	t.inflight[job.ID] = struct{}{}
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() {
			t.mu.Lock()
			delete(t.inflight, job.ID)
			t.mu.Unlock()
		}()
		t.runner.Run(context.Background(), job)
	}()
	return true
}

func (t *LocalTracker) running(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.inflight[id]
	return ok
}

// Resume restarts a job from scratch unless it is ready or still executing here
func (t *LocalTracker) Resume(ctx context.Context, id string) (*models.Job, error) {
	job, err := t.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.State == models.JobReady || t.running(id) {
		return t.Status(ctx, id)
	}
	if err := t.requeue(ctx, job); err != nil {
		return nil, err
	}
	t.spawn(job)
	t.log.WithField("job_id", id).Info("Forecast job resumed")
	return t.Status(ctx, id)
}

// Wait blocks until every spawned job has finished
func (t *LocalTracker) Wait() {
	t.wg.Wait()
}

// QueueTracker hands jobs to external workers through a Redis list
type QueueTracker struct {
	base
	client *redis.Client
}

// NewQueueTracker creates a tracker backed by the Redis queue
func NewQueueTracker(client *redis.Client, store Store, heartbeat time.Duration, log *logrus.Logger) *QueueTracker {
	return &QueueTracker{
		base:   base{store: store, heartbeat: heartbeat, log: log, now: time.Now},
		client: client,
	}
}

func (t *QueueTracker) enqueue(ctx context.Context, id string) error {
	if err := t.client.LPush(ctx, QueueKey, id).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// Submit persists a queued job and pushes its id for a worker
func (t *QueueTracker) Submit(ctx context.Context, req models.StartRequest) (string, error) {
	job, err := t.newJob(req)
	if err != nil {
		return "", err
	}
	if err := t.store.Save(ctx, job); err != nil {
		return "", err
	}
	if err := t.enqueue(ctx, job.ID); err != nil {
		return "", err
	}
	metrics.JobsSubmitted.WithLabelValues("redis").Inc()
	t.log.WithField("job_id", job.ID).Infof("Forecast job queued for %s", job.Request.TargetValue)
	return job.ID, nil
}

// Resume re-enqueues a failed or stalled job. Ready jobs and queued or active jobs
// touched within the heartbeat are left alone. A duplicate queue entry is skipped
// by the worker once the job has left the queued state.
func (t *QueueTracker) Resume(ctx context.Context, id string) (*models.Job, error) {
	job, err := t.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	live := (job.State == models.JobQueued || job.State.Active()) && !t.quiet(job)
	if job.State == models.JobReady || live {
		return t.Status(ctx, id)
	}
	if err := t.requeue(ctx, job); err != nil {
		return nil, err
	}
	if err := t.enqueue(ctx, id); err != nil {
		return nil, err
	}
	t.log.WithField("job_id", id).Info("Forecast job re-queued")
	return t.Status(ctx, id)
}
