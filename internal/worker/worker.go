// Package worker runs the asynq server for background report
// generation: the on-demand report:generate task and the nightly batch
// that sweeps every user.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/healthpilot/healthpilot/internal/config"
	"github.com/healthpilot/healthpilot/internal/logging"
	"github.com/healthpilot/healthpilot/internal/models"
	"github.com/healthpilot/healthpilot/internal/reports"
	"github.com/healthpilot/healthpilot/internal/webhook"
)

const (
	nightlyConcurrency = 4

	// dedupeTTL keeps a completed (user, date) marker long enough to
	// survive a rescheduled or retried nightly batch.
	dedupeTTL = 48 * time.Hour
)

// asynqLoggerAdapter wraps slog.Logger to implement asynq.Logger.
type asynqLoggerAdapter struct {
	logger *slog.Logger
}

func (a *asynqLoggerAdapter) Debug(args ...interface{}) {
	a.logger.Debug(fmt.Sprint(args...))
}

func (a *asynqLoggerAdapter) Info(args ...interface{}) {
	a.logger.Info(fmt.Sprint(args...))
}

func (a *asynqLoggerAdapter) Warn(args ...interface{}) {
	a.logger.Warn(fmt.Sprint(args...))
}

func (a *asynqLoggerAdapter) Error(args ...interface{}) {
	a.logger.Error(fmt.Sprint(args...))
}

func (a *asynqLoggerAdapter) Fatal(args ...interface{}) {
	a.logger.Error(fmt.Sprint(args...))
	panic(fmt.Sprint(args...))
}

// Start starts the asynq worker in non-blocking mode and returns a stop
// function so the caller can coordinate shutdown.
func Start(cfg *config.Config, db *gorm.DB, compiler *reports.Compiler, notifier *webhook.Notifier) (stop func(), err error) {
	srv, mux, err := newServer(cfg, db, compiler, notifier)
	if err != nil {
		return nil, err
	}
	if err := srv.Start(mux); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}
	return func() { srv.Shutdown() }, nil
}

func newServer(cfg *config.Config, db *gorm.DB, compiler *reports.Compiler, notifier *webhook.Notifier) (*asynq.Server, *asynq.ServeMux, error) {
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)

	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency:     5,
			ShutdownTimeout: 30 * time.Second,
			ErrorHandler:    asynq.ErrorHandlerFunc(makeErrorHandler(logger)),
			Logger:          &asynqLoggerAdapter{logger: logger},
		},
	)

	// Dedicated Redis client for the nightly batch's dedupe markers,
	// separate from the asynq internal connection.
	rdb, err := newDedupeRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create dedupe Redis client: %w", err)
	}

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskGenerateReport, handleGenerateReport(logger, compiler, notifier))
	mux.HandleFunc(TaskNightlyReports, handleNightlyReports(logger, db, rdb, compiler, notifier))

	logger.Info("Worker starting", "concurrency", 5, "redis", cfg.RedisURL)
	return srv, mux, nil
}

func newDedupeRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}

// handleGenerateReport processes a single-user report generation task.
func handleGenerateReport(logger *slog.Logger, compiler *reports.Compiler, notifier *webhook.Notifier) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		var payload struct {
			UserID uint   `json:"user_id"`
			Date   string `json:"date"`
		}
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("invalid payload: %w", asynq.SkipRetry)
		}
		date, err := time.Parse("2006-01-02", payload.Date)
		if err != nil {
			return fmt.Errorf("invalid date %q: %w", payload.Date, asynq.SkipRetry)
		}

		logger.Info("Processing report:generate task", "user_id", payload.UserID, "date", payload.Date)

		report, err := generateAndNotify(ctx, logger, compiler, notifier, payload.UserID, date)
		if err != nil {
			return err
		}

		logger.Info("Report generation completed",
			"user_id", payload.UserID,
			"date", payload.Date,
			"calories_in", report.CaloriesIn,
			"calories_out", report.CaloriesOut,
		)
		return nil
	}
}

// handleNightlyReports sweeps all users and generates each one's report
// for today in that user's timezone. A Redis marker per (user, date)
// keeps a rescheduled batch from regenerating reports twice.
func handleNightlyReports(logger *slog.Logger, db *gorm.DB, rdb *redis.Client, compiler *reports.Compiler, notifier *webhook.Notifier) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		var users []models.User
		if err := db.WithContext(ctx).Find(&users).Error; err != nil {
			return fmt.Errorf("failed to list users: %w", err)
		}

		logger.Info("Processing report:nightly task", "users", len(users))

		g, ctx := errgroup.WithContext(ctx)
		g.SetLimit(nightlyConcurrency)

		for _, user := range users {
			user := user
			g.Go(func() error {
				local := time.Now().In(user.Location())
				dateKey := local.Format("2006-01-02")
				date := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)

				marker := fmt.Sprintf("report:done:%d:%s", user.ID, dateKey)
				acquired, err := rdb.SetNX(ctx, marker, 1, dedupeTTL).Result()
				if err != nil {
					logger.Warn("dedupe check failed, generating anyway", "user_id", user.ID, "error", err)
				} else if !acquired {
					logger.Debug("report already generated, skipping", "user_id", user.ID, "date", dateKey)
					return nil
				}

				if _, err := generateAndNotify(ctx, logger, compiler, notifier, user.ID, date); err != nil {
					// Release the marker so a retried batch picks this
					// user up again.
					rdb.Del(ctx, marker)
					logger.Error("nightly report failed", "user_id", user.ID, "date", dateKey, "error", err)
					return err
				}
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return fmt.Errorf("nightly batch finished with failures: %w", err)
		}
		logger.Info("Nightly report batch completed", "users", len(users))
		return nil
	}
}

// generateAndNotify runs the compiler and fires the webhook. A missing
// narrative is logged but not fatal; numeric stats were persisted.
func generateAndNotify(ctx context.Context, logger *slog.Logger, compiler *reports.Compiler, notifier *webhook.Notifier, userID uint, date time.Time) (*models.Report, error) {
	report, err := compiler.Generate(ctx, userID, date)
	if err != nil {
		if report == nil {
			return nil, fmt.Errorf("report generation failed: %w", err)
		}
		logger.Warn("report generated without narrative", "user_id", userID, "error", err)
	}

	if err := notifier.ReportReady(ctx, webhook.ReportReadyPayload{
		UserID:      userID,
		Date:        report.Date.Format("2006-01-02"),
		CaloriesIn:  report.CaloriesIn,
		CaloriesOut: report.CaloriesOut,
	}); err != nil {
		logger.Warn("report webhook delivery failed", "user_id", userID, "error", err)
	}

	return report, nil
}

// makeErrorHandler creates an error handler function with logger closure.
func makeErrorHandler(logger *slog.Logger) func(context.Context, *asynq.Task, error) {
	return func(ctx context.Context, task *asynq.Task, err error) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)

		logger.Error(
			"Task execution failed",
			"task_type", task.Type(),
			"error", err.Error(),
			"retry_count", retried,
			"max_retry", maxRetry,
		)

		if retried >= maxRetry {
			logger.Error(
				"Task moved to dead letter queue (all retries exhausted)",
				"task_type", task.Type(),
				"payload", string(task.Payload()),
			)
		}
	}
}
