// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package maintenance runs LocalDrop's periodic housekeeping: expiring
// stale resume state and pruning old history entries, on the same
// cron-based scheduling idiom the teacher uses for backup jobs.
package maintenance

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/localdrop/localdrop/internal/history"
	"github.com/localdrop/localdrop/internal/resume"
)

// defaultSchedule runs the janitor once a day, matching resume's 7-day
// default expiry: daily sweeps keep the resume directory from
// accumulating more than a week's worth of abandoned transfers.
const defaultSchedule = "0 3 * * *"

// ResumeMaxAge is how old a resume file may get before the janitor
// deletes it, per spec.md §4.8's 7-day default.
const ResumeMaxAge = 7 * 24 * time.Hour

// Janitor periodically sweeps the resume store and history ring.
type Janitor struct {
	cron          *cron.Cron
	log           *slog.Logger
	resumeMgr     *resume.Manager
	historyStore  *history.Store
	resumeMaxAge  time.Duration
	historyMaxAge int
}

// New builds a Janitor. Either store may be nil, in which case its sweep
// is skipped (a receive-only binary may run without a history store, for
// instance).
func New(resumeMgr *resume.Manager, historyStore *history.Store, historyMaxAgeDays int, log *slog.Logger) *Janitor {
	return &Janitor{
		log:           log.With("component", "maintenance_janitor"),
		resumeMgr:     resumeMgr,
		historyStore:  historyStore,
		resumeMaxAge:  ResumeMaxAge,
		historyMaxAge: historyMaxAgeDays,
	}
}

// Start schedules the janitor's sweep on schedule (a 5-field cron
// expression; empty uses defaultSchedule) and runs it in the background
// until Stop is called.
func (j *Janitor) Start(schedule string) error {
	if schedule == "" {
		schedule = defaultSchedule
	}
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(j.log.Handler(), slog.LevelDebug))))
	if _, err := c.AddFunc(schedule, j.sweep); err != nil {
		return err
	}
	j.cron = c
	c.Start()
	return nil
}

// Stop halts the scheduler, waiting for any in-flight sweep to finish.
func (j *Janitor) Stop() {
	if j.cron != nil {
		ctx := j.cron.Stop()
		<-ctx.Done()
	}
}

// sweep runs one pass of both cleanups; errors are logged, not
// propagated, since a failed sweep should never take down the process
// that scheduled it.
func (j *Janitor) sweep() {
	if j.resumeMgr != nil {
		removed, err := j.resumeMgr.CleanupOlderThan(j.resumeMaxAge)
		if err != nil {
			j.log.Warn("resume cleanup failed", "error", err)
		} else if removed > 0 {
			j.log.Info("expired stale resume state", "removed", removed)
		}
	}
	if j.historyStore != nil {
		removed, err := j.historyStore.PruneOlderThan(j.historyMaxAge)
		if err != nil {
			j.log.Warn("history prune failed", "error", err)
		} else if removed > 0 {
			j.log.Info("pruned old history entries", "removed", removed)
		}
	}
}
