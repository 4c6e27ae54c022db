package worker

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

// Task type constants
const (
	TaskGenerateReport = "report:generate"
	TaskNightlyReports = "report:nightly"
)

// Package-level Asynq client (singleton)
var client *asynq.Client

// InitClient initializes the global Asynq client for task enqueueing.
// Must be called before any EnqueueX functions.
func InitClient(redisURL string) error {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return err
	}

	client = asynq.NewClient(opt)
	return nil
}

// CloseClient closes the Asynq client connection gracefully.
func CloseClient() error {
	if client != nil {
		return client.Close()
	}
	return nil
}

// EnqueueGenerateReport enqueues report generation for one user and
// date (YYYY-MM-DD).
func EnqueueGenerateReport(userID uint, date string) error {
	payload, err := json.Marshal(map[string]interface{}{
		"user_id": userID,
		"date":    date,
	})
	if err != nil {
		return err
	}

	task := asynq.NewTask(
		TaskGenerateReport,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(5*time.Minute),
		asynq.Retention(24*time.Hour),
	)

	_, err = client.Enqueue(task)
	return err
}
