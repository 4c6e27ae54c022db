// Package webhook notifies an external endpoint when a report has been
// generated, so downstream automations (messaging, dashboards) can pick
// it up.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ReportReadyPayload is the notification body for a generated report.
type ReportReadyPayload struct {
	UserID      uint    `json:"user_id"`
	Date        string  `json:"date"`
	CaloriesIn  float64 `json:"calories_in"`
	CaloriesOut float64 `json:"calories_out"`
}

// Notifier posts report-ready notifications. With an empty base URL it
// is disabled; in stub mode it logs instead of calling out, which keeps
// local development independent of the external endpoint.
type Notifier struct {
	baseURL    string
	secret     string
	stubMode   bool
	httpClient *http.Client
	logger     *slog.Logger
}

func NewNotifier(baseURL, secret string, stubMode bool, logger *slog.Logger) *Notifier {
	return &Notifier{
		baseURL:    baseURL,
		secret:     secret,
		stubMode:   stubMode,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// ReportReady delivers the notification. A nil receiver or empty base
// URL is a no-op so callers never need to branch.
func (n *Notifier) ReportReady(ctx context.Context, payload ReportReadyPayload) error {
	if n == nil || n.baseURL == "" {
		return nil
	}
	if n.stubMode {
		n.logger.Info("stub webhook: report ready",
			"user_id", payload.UserID,
			"date", payload.Date,
			"calories_in", payload.CaloriesIn,
			"calories_out", payload.CaloriesOut,
		)
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/report-ready", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Webhook-Secret", n.secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
