package worker

import (
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/healthpilot/healthpilot/internal/config"
	"github.com/healthpilot/healthpilot/internal/logging"
)

// StartScheduler creates and starts an asynq scheduler that enqueues
// the nightly report batch. Returns a stop function for graceful
// shutdown.
func StartScheduler(cfg *config.Config) (stop func(), err error) {
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	location, err := time.LoadLocation(cfg.ReportTimezone)
	if err != nil {
		location = time.UTC
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if location == time.UTC && cfg.ReportTimezone != "UTC" && cfg.ReportTimezone != "" {
		logger.Warn("Invalid timezone, using UTC", "timezone", cfg.ReportTimezone)
	}

	scheduler := asynq.NewScheduler(
		redisOpt,
		&asynq.SchedulerOpts{
			Location: location,
			LogLevel: asynq.InfoLevel,
			Logger:   &asynqLoggerAdapter{logger: logger},
		},
	)

	task := asynq.NewTask(
		TaskNightlyReports,
		nil, // empty payload, the handler sweeps all users
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Retention(24*time.Hour),
		asynq.Unique(24*time.Hour),
	)

	entryID, err := scheduler.Register(cfg.ReportSchedule, task)
	if err != nil {
		return nil, fmt.Errorf("failed to register report schedule: %w", err)
	}

	if err := scheduler.Start(); err != nil {
		return nil, fmt.Errorf("failed to start scheduler: %w", err)
	}

	logger.Info(
		"Scheduler started",
		"schedule", cfg.ReportSchedule,
		"timezone", cfg.ReportTimezone,
		"entry_id", entryID,
	)

	return func() { scheduler.Shutdown() }, nil
}
