// Package janitor runs the background maintenance work: purging expired
// sessions and sweeping upload files no image row refers to.
package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/catalogkit/catalogd/pkg/observability"
	"github.com/catalogkit/catalogd/pkg/session"
	"github.com/catalogkit/catalogd/pkg/uploads"
)

// ImageIndex lists the filenames the catalog currently references.
type ImageIndex interface {
	ListImageFilenames(ctx context.Context) (map[string]struct{}, error)
}

// Config drives the janitor schedules.
type Config struct {
	// SessionPurgeSchedule and OrphanSweepSchedule are cron expressions,
	// including the @every form.
	SessionPurgeSchedule string
	OrphanSweepSchedule  string

	// OrphanGrace keeps files younger than this out of the sweep, so an
	// upload racing the row insert is never collected.
	OrphanGrace time.Duration
}

// Janitor owns the scheduled maintenance tasks.
type Janitor struct {
	cfg      Config
	sessions *session.Manager
	images   ImageIndex
	files    uploads.FileStore
	logger   *observability.Logger
	metrics  *observability.Metrics
	cron     *cron.Cron
}

// New creates a janitor. files may be nil when no upload store is
// configured; the orphan sweep is then skipped.
func New(cfg Config, sessions *session.Manager, images ImageIndex, files uploads.FileStore, logger *observability.Logger, metrics *observability.Metrics) *Janitor {
	if cfg.OrphanGrace <= 0 {
		cfg.OrphanGrace = time.Hour
	}
	return &Janitor{
		cfg:      cfg,
		sessions: sessions,
		images:   images,
		files:    files,
		logger:   logger,
		metrics:  metrics,
	}
}

// Start registers the cron entries and begins running them.
func (j *Janitor) Start() error {
	c := cron.New()

	if j.cfg.SessionPurgeSchedule != "" {
		_, err := c.AddFunc(j.cfg.SessionPurgeSchedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if _, err := j.PurgeSessions(ctx); err != nil {
				j.logger.WithError(err).Error("session purge failed")
			}
		})
		if err != nil {
			return fmt.Errorf("invalid session purge schedule: %w", err)
		}
	}

	if j.cfg.OrphanSweepSchedule != "" && j.files != nil {
		_, err := c.AddFunc(j.cfg.OrphanSweepSchedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if _, err := j.SweepOrphans(ctx); err != nil {
				j.logger.WithError(err).Error("orphan sweep failed")
			}
		})
		if err != nil {
			return fmt.Errorf("invalid orphan sweep schedule: %w", err)
		}
	}

	c.Start()
	j.cron = c
	return nil
}

// Stop halts the schedules and waits for running jobs to finish.
func (j *Janitor) Stop(ctx context.Context) error {
	if j.cron == nil {
		return nil
	}
	select {
	case <-j.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PurgeSessions removes expired sessions and reports how many went.
func (j *Janitor) PurgeSessions(ctx context.Context) (int64, error) {
	purged, err := j.sessions.PurgeExpired(ctx)
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		j.logger.WithField("purged", purged).Info("purged expired sessions")
	}
	if j.metrics != nil {
		j.metrics.SessionsPurged.Add(float64(purged))
		if active, err := j.sessions.ActiveCount(ctx); err != nil {
			j.logger.WithError(err).Warn("failed to count active sessions")
		} else {
			j.metrics.SessionsActiveEst.Set(float64(active))
		}
	}
	return purged, nil
}

// SweepOrphans removes upload files with no image row, skipping files
// younger than the grace period. A file that disappears mid-sweep is
// counted as already gone.
func (j *Janitor) SweepOrphans(ctx context.Context) (int64, error) {
	referenced, err := j.images.ListImageFilenames(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list referenced images: %w", err)
	}
	files, err := j.files.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list upload files: %w", err)
	}

	cutoff := time.Now().Add(-j.cfg.OrphanGrace)
	var swept int64
	for _, f := range files {
		if _, ok := referenced[f.Name]; ok {
			continue
		}
		if f.ModTime.After(cutoff) {
			continue
		}
		if err := j.files.Remove(ctx, f.Name); err != nil {
			j.logger.WithError(err).WithField("file", f.Name).Warn("failed to remove orphan file")
			continue
		}
		j.logger.WithField("file", f.Name).Info("removed orphan upload")
		swept++
	}

	if j.metrics != nil && swept > 0 {
		j.metrics.OrphanFilesSwept.Add(float64(swept))
	}
	return swept, nil
}
