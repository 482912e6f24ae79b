package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/FrankFordB/Restos-sub003/pkg/logger"
	"github.com/robfig/cron/v3"
)

// CronManager schedules the sweep and the reminder job. Both are also
// triggerable over HTTP; the sweep's execution lock keeps the two entry
// points from overlapping.
type CronManager struct {
	cron      *cron.Cron
	sweeper   *Sweeper
	reminders *Reminders
	log       logger.Logger
}

// NewCronManager creates a new cron manager.
func NewCronManager(sweeper *Sweeper, reminders *Reminders, log logger.Logger) *CronManager {
	return &CronManager{
		cron:      cron.New(),
		sweeper:   sweeper,
		reminders: reminders,
		log:       log,
	}
}

// SetupJobs registers the schedules.
func (cm *CronManager) SetupJobs(sweepSchedule, reminderSchedule string) error {
	_, err := cm.cron.AddFunc(sweepSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		start := time.Now()
		stats, err := cm.sweeper.Run(ctx)
		if err != nil {
			if errors.Is(err, ErrSweepRunning) {
				cm.log.Info("scheduled sweep skipped, already running")
				return
			}
			cm.log.Error("scheduled sweep failed", "error", err)
			return
		}
		cm.log.Info("scheduled sweep complete", "duration_ms", time.Since(start).Milliseconds(), "stats", stats)
	})
	if err != nil {
		return err
	}

	_, err = cm.cron.AddFunc(reminderSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		stats, err := cm.reminders.Run(ctx)
		if err != nil {
			cm.log.Error("scheduled reminders failed", "error", err)
			return
		}
		cm.log.Info("scheduled reminders complete", "stats", stats)
	})
	if err != nil {
		return err
	}

	cm.log.Info("cron jobs configured", "sweep", sweepSchedule, "reminders", reminderSchedule)
	return nil
}

// Start starts the cron scheduler.
func (cm *CronManager) Start() {
	cm.cron.Start()
}

// Stop stops the cron scheduler and waits for running jobs.
func (cm *CronManager) Stop() {
	ctx := cm.cron.Stop()
	<-ctx.Done()
}
