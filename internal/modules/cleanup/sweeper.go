// Package cleanup periodically deletes stale upload, working and output files.
package cleanup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/nextconvert/silk2mp3/internal/shared/metrics"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Defaults match the service's hourly sweep over a one-day window.
const (
	DefaultInterval  = time.Hour
	DefaultRetention = 24 * time.Hour
)

// Report summarises one sweep.
type Report struct {
	Scanned int
	Deleted int
	Bytes   int64
	Errors  int
}

// Sweeper deletes files older than the retention window from a fixed set of
// directories. Only aged-out files are touched, so it needs no coordination
// with in-flight conversions.
type Sweeper struct {
	dirs      []string
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
	metrics   *metrics.Metrics
	logger    *zap.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewSweeper creates a sweeper over dirs
func NewSweeper(dirs []string, interval, retention time.Duration, m *metrics.Metrics, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Sweeper{
		dirs:      dirs,
		interval:  interval,
		retention: retention,
		now:       time.Now,
		metrics:   m,
		logger:    logger,
	}
}

// Start runs one sweep immediately and then schedules one per interval.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("sweeper already started")
	}

	s.Sweep(ctx)

	c := cron.New(cron.WithChain(
		cron.Recover(cron.PrintfLogger(zap.NewStdLog(s.logger))),
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		s.Sweep(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}
	c.Start()
	s.cron = c

	s.logger.Info("Cleanup sweeper started",
		zap.Strings("dirs", s.dirs),
		zap.Duration("interval", s.interval),
		zap.Duration("retention", s.retention),
	)
	return nil
}

// Stop cancels the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("Cleanup sweeper stopped")
}

// Sweep scans every directory once. A failure on one directory never stops
// the others.
func (s *Sweeper) Sweep(ctx context.Context) Report {
	var total Report
	cutoff := s.now().Add(-s.retention)

	for _, dir := range s.dirs {
		if ctx.Err() != nil {
			break
		}
		r := s.sweepDir(dir, cutoff)
		total.Scanned += r.Scanned
		total.Deleted += r.Deleted
		total.Bytes += r.Bytes
		total.Errors += r.Errors
	}

	s.metrics.RecordSweep()
	if total.Deleted > 0 || total.Errors > 0 {
		s.logger.Info("Cleanup sweep finished",
			zap.Int("scanned", total.Scanned),
			zap.Int("deleted", total.Deleted),
			zap.String("reclaimed", humanize.IBytes(uint64(total.Bytes))),
			zap.Int("errors", total.Errors),
		)
	}
	return total
}

func (s *Sweeper) sweepDir(dir string, cutoff time.Time) Report {
	var r Report

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Debug("Cleanup directory does not exist, skipping", zap.String("dir", dir))
			return r
		}
		s.logger.Error("Failed to read cleanup directory", zap.String("dir", dir), zap.Error(err))
		s.metrics.RecordSweepError(filepath.Base(dir))
		r.Errors++
		return r
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		r.Scanned++

		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			// removed concurrently
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("Failed to delete stale file", zap.String("path", path), zap.Error(err))
			s.metrics.RecordSweepError(filepath.Base(dir))
			r.Errors++
			continue
		}

		r.Deleted++
		r.Bytes += info.Size()
		s.metrics.RecordSweepDeletion(filepath.Base(dir), info.Size())
		s.logger.Info("Deleted stale file",
			zap.String("path", path),
			zap.Duration("age", s.now().Sub(info.ModTime()).Round(time.Second)),
			zap.String("size", humanize.IBytes(uint64(info.Size()))),
		)
	}
	return r
}
