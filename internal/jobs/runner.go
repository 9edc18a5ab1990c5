package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Dan9191/tsf-backend/internal/forecast"
	"github.com/Dan9191/tsf-backend/internal/metrics"
	"github.com/Dan9191/tsf-backend/internal/models"
	"github.com/Dan9191/tsf-backend/internal/utils"
)

// Fixed progress milestones of the pipeline
const (
	ProgressQueued     = 5
	ProgressLoading    = forecast.ProgressStart
	ProgressFinalizing = 95
	ProgressReady      = 100
)

// SeriesLoader loads the daily series a job forecasts
type SeriesLoader interface {
	LoadDailySeries(ctx context.Context, parameter, agg string, filters models.SeriesFilters) (models.DailySeries, error)
}

// TableBuilder turns a daily series into a forecast table
type TableBuilder interface {
	BuildForecastTable(ctx context.Context, daily models.DailySeries, progress forecast.ProgressFunc) (*models.ForecastTable, error)
}

// Notifier is told about jobs that reached a terminal state
type Notifier interface {
	JobFinished(job *models.Job) error
}

// Runner executes the load, forecast and write pipeline of one job
type Runner struct {
	loader   SeriesLoader
	builder  TableBuilder
	store    Store
	jobsDir  string
	notifier Notifier
	log      *logrus.Logger
	now      func() time.Time
}

// NewRunner creates a runner. notifier may be nil.
func NewRunner(loader SeriesLoader, builder TableBuilder, store Store, jobsDir string, notifier Notifier, log *logrus.Logger) *Runner {
	return &Runner{
		loader:   loader,
		builder:  builder,
		store:    store,
		jobsDir:  jobsDir,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// reporter persists job transitions and never lets progress go backwards
type reporter struct {
	r   *Runner
	job *models.Job
	log *logrus.Entry
}

func (p *reporter) update(ctx context.Context, state models.JobState, progress int, message string) {
	p.job.State = state
	if progress > p.job.Progress {
		p.job.Progress = progress
	}
	p.job.Message = message
	p.job.UpdatedAt = p.r.now().UTC()
	if err := p.r.store.Save(ctx, p.job); err != nil {
		p.log.WithError(err).Warn("Failed to persist job status")
	}
}

// Run drives job to ready or error. Status writes outlive ctx so a timed out
// job still records its failure.
func (r *Runner) Run(ctx context.Context, job *models.Job) {
	start := r.now()
	saveCtx := context.WithoutCancel(ctx)
	p := &reporter{r: r, job: job, log: r.log.WithField("job_id", job.ID)}

	err := r.safeRun(ctx, saveCtx, p)
	if err != nil {
		msg := utils.RedactError(err)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			msg = "job timed out"
		}
		job.Error = msg
		p.update(saveCtx, models.JobError, job.Progress, "failed")
		p.log.WithError(errors.New(msg)).Error("Forecast job failed")
	} else {
		p.log.WithField("output_file", job.OutputFile).Info("Forecast job ready")
	}

	metrics.JobsFinished.WithLabelValues(string(job.State)).Inc()
	metrics.JobDuration.Observe(r.now().Sub(start).Seconds())

	if r.notifier != nil && job.Request.NotifyEmail != "" {
		if err := r.notifier.JobFinished(job); err != nil {
			p.log.WithError(err).Warn("Failed to send job notification")
		}
	}
}

// safeRun turns a pipeline panic into an error
func (r *Runner) safeRun(ctx, saveCtx context.Context, p *reporter) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			p.log.WithField("stack", string(debug.Stack())).Errorf("Forecast pipeline panicked: %v", rec)
			err = fmt.Errorf("internal error: %v", rec)
		}
	}()
	return r.run(ctx, saveCtx, p)
}

func (r *Runner) run(ctx, saveCtx context.Context, p *reporter) error {
	job := p.job
	req := job.Request

	p.update(saveCtx, models.JobLoadingData, ProgressLoading, "loading data")
	daily, err := r.loader.LoadDailySeries(ctx, req.TargetValue, req.Agg, req.Filters())
	if err != nil {
		return fmt.Errorf("failed to load series: %w", err)
	}
	p.log.WithField("days", len(daily)).Debug("Series loaded")

	progress := func(pct int, label string) {
		p.update(saveCtx, models.JobRunning, pct, label)
	}
	table, err := r.builder.BuildForecastTable(ctx, daily, progress)
	if err != nil {
		return fmt.Errorf("failed to build forecast: %w", err)
	}

	p.update(saveCtx, models.JobFinalizing, ProgressFinalizing, "writing output")
	path := OutputPath(r.jobsDir, job.ID)
	if err := forecast.WriteCSVFile(path, table); err != nil {
		return err
	}

	job.OutputFile = path
	job.Error = ""
	p.update(saveCtx, models.JobReady, ProgressReady, "done")
	return nil
}
