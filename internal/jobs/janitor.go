package jobs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/tsf-backend/internal/metrics"
)

// Janitor removes job status and output files past their retention
type Janitor struct {
	dir       string
	retention time.Duration
	log       *logrus.Logger
	now       func() time.Time
}

// NewJanitor creates a janitor for dir. A zero retention disables cleanup.
func NewJanitor(dir string, retention time.Duration, log *logrus.Logger) *Janitor {
	return &Janitor{dir: dir, retention: retention, log: log, now: time.Now}
}

// Sweep deletes files older than the retention window and returns how many were removed
func (j *Janitor) Sweep() (int, error) {
	if j.retention <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list jobs dir: %w", err)
	}

	cutoff := j.now().Add(-j.retention)
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".csv") || strings.HasSuffix(name, ".tmp")) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(j.dir, name)); err != nil {
			j.log.WithError(err).Warnf("Failed to remove expired job file %s", name)
			continue
		}
		removed++
	}
	metrics.JobFilesRemoved.Add(float64(removed))
	return removed, nil
}

// Schedule registers Sweep on a cron spec and starts the scheduler
func (j *Janitor) Schedule(spec string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		n, err := j.Sweep()
		if err != nil {
			j.log.WithError(err).Error("Job cleanup failed")
			return
		}
		if n > 0 {
			j.log.Infof("Removed %d expired job files", n)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", spec, err)
	}
	c.Start()
	return c, nil
}
