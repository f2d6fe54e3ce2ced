package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/omniroute/omniroute/pkg/routing"
)

// Sink delivers one alert to a destination.
type Sink interface {
	SendAlert(ctx context.Context, alert routing.Alert) error
}

// LogSink writes alerts as structured log entries, mapping severity to
// log level.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a logging sink. A nil logger uses the default.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}

	return &LogSink{logger: logger.With(slog.String("component", "alerts"))}
}

// SendAlert implements Sink.
func (s *LogSink) SendAlert(ctx context.Context, alert routing.Alert) error {
	level := slog.LevelInfo

	switch alert.Severity {
	case routing.SeverityWarning:
		level = slog.LevelWarn
	case routing.SeverityCritical:
		level = slog.LevelError
	}

	attrs := []any{
		slog.String("alert_type", string(alert.Kind)),
		slog.String("severity", string(alert.Severity)),
	}

	if alert.Adapter != "" {
		attrs = append(attrs, slog.String("adapter", string(alert.Adapter)))
	}

	if alert.CurrentValue != 0 || alert.ThresholdValue != 0 {
		attrs = append(attrs,
			slog.Float64("current_value", alert.CurrentValue),
			slog.Float64("threshold_value", alert.ThresholdValue))
	}

	s.logger.Log(ctx, level, alert.Message, attrs...)

	return nil
}

// webhookTimeout bounds one delivery attempt.
const webhookTimeout = 5 * time.Second

// WebhookSink POSTs the alert's JSON form to a fixed URL. Non-2xx
// responses and transport failures are dropped after logging; there is
// no retry queue at this tier.
type WebhookSink struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewWebhookSink creates a webhook sink. A nil client gets a private one
// with the delivery timeout applied.
func NewWebhookSink(url string, client *http.Client, logger *slog.Logger) *WebhookSink {
	if client == nil {
		client = &http.Client{Timeout: webhookTimeout}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &WebhookSink{
		url:    url,
		client: client,
		logger: logger.With(slog.String("component", "alerts")),
	}
}

// SendAlert implements Sink.
func (s *WebhookSink) SendAlert(ctx context.Context, alert routing.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post alert webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("alert webhook returned status %d", resp.StatusCode)
	}

	return nil
}
