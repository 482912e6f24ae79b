package handlers

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/FrankFordB/Restos-sub003/pkg/jobs"
	"github.com/FrankFordB/Restos-sub003/pkg/models"
)

// CronHandler exposes the scheduled jobs to an external scheduler. Every
// route requires the shared cron secret; runs are idempotent so an overlap
// with the in-process schedule is harmless.
type CronHandler struct {
	sweeper   *jobs.Sweeper
	reminders *jobs.Reminders
	secret    string
}

// NewCronHandler creates a new cron handler.
func NewCronHandler(sweeper *jobs.Sweeper, reminders *jobs.Reminders, secret string) *CronHandler {
	return &CronHandler{sweeper: sweeper, reminders: reminders, secret: secret}
}

// Sweep runs one reconciliation pass and reports what changed.
func (h *CronHandler) Sweep(c echo.Context) error {
	if err := h.authorize(c); err != nil {
		return err
	}

	started := time.Now()
	stats, err := h.sweeper.Run(c.Request().Context())
	if err != nil {
		if errors.Is(err, jobs.ErrSweepRunning) {
			return c.JSON(http.StatusConflict, models.ErrorResponse{
				Error:   "sweep_running",
				Message: "A reconciliation sweep is already in progress",
			})
		}
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "sweep_failed",
			Message: "Reconciliation sweep failed",
		})
	}

	return c.JSON(http.StatusOK, models.SweepResponse{
		Stats: models.SweepStats{
			ExpiredDowngraded: stats.ExpiredDowngraded,
			MovedPastDue:      stats.MovedPastDue,
			ChargeAttempts:    stats.ChargeAttempts,
			ChargeRecovered:   stats.ChargeRecovered,
			StaleDowngraded:   stats.StaleDowngraded,
			RepairedFree:      stats.RepairedFree,
			RepairedPaid:      stats.RepairedPaid,
			Errors:            stats.Errors,
		},
		DurationMs: time.Since(started).Milliseconds(),
	})
}

// Reminders runs one renewal reminder pass.
func (h *CronHandler) Reminders(c echo.Context) error {
	if err := h.authorize(c); err != nil {
		return err
	}

	stats, err := h.reminders.Run(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "reminders_failed",
			Message: "Renewal reminder run failed",
		})
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *CronHandler) authorize(c echo.Context) error {
	provided := c.Request().Header.Get("X-Cron-Secret")
	if h.secret == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(h.secret)) != 1 {
		return c.JSON(http.StatusUnauthorized, models.ErrorResponse{
			Error:   "unauthorized",
			Message: "Invalid cron secret",
		})
	}
	return nil
}
