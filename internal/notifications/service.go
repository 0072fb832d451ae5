package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"belfry/internal/config"
)

const userAgent = "Belfry/0.1.0"

// Service defines the notification surface exposed to the archive workflow.
type Service interface {
	NotifyCycleCompleted(ctx context.Context, processed, failed int, duration time.Duration) error
	NotifyEventArchived(ctx context.Context, doorbell, description, outputPath string) error
	NotifyMergeFailed(ctx context.Context, doorbell, fileID, segmentDir string) error
	NotifyError(ctx context.Context, err error, contextLabel string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by a text-message webhook
// when configured. When no webhook URL is configured, a noop implementation
// is returned.
func NewService(cfg *config.Config) Service {
	endpoint := strings.TrimSpace(cfg.Notifications.WebhookURL)
	if endpoint == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &webhookService{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Noop returns a service that discards every notification.
func Noop() Service {
	return noopService{}
}

type webhookService struct {
	endpoint string
	client   *http.Client
}

func (w *webhookService) NotifyCycleCompleted(ctx context.Context, processed, failed int, duration time.Duration) error {
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}
	if failed == 0 {
		return w.send(ctx, fmt.Sprintf("Belfry cycle complete: %d events archived in %s", processed, duration))
	}
	return w.send(ctx, fmt.Sprintf("Belfry cycle complete with errors: %d archived, %d failed in %s", processed, failed, duration))
}

func (w *webhookService) NotifyEventArchived(ctx context.Context, doorbell, description, outputPath string) error {
	message := fmt.Sprintf("Belfry archived %s: %s", strings.TrimSpace(doorbell), strings.TrimSpace(description))
	if outputPath = strings.TrimSpace(outputPath); outputPath != "" {
		message = fmt.Sprintf("%s\nFile: %s", message, outputPath)
	}
	return w.send(ctx, message)
}

func (w *webhookService) NotifyMergeFailed(ctx context.Context, doorbell, fileID, segmentDir string) error {
	message := fmt.Sprintf(
		"Belfry merge failed for %s event %s\nSegments preserved in: %s",
		strings.TrimSpace(doorbell), strings.TrimSpace(fileID), strings.TrimSpace(segmentDir),
	)
	return w.send(ctx, message)
}

func (w *webhookService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	var builder strings.Builder
	builder.WriteString("Belfry error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}
	return w.send(ctx, builder.String())
}

func (w *webhookService) TestNotification(ctx context.Context) error {
	return w.send(ctx, "Belfry notification test")
}

func (w *webhookService) send(ctx context.Context, content string) error {
	if w == nil || w.client == nil {
		return nil
	}

	body, err := json.Marshal(map[string]any{
		"msgtype": "text",
		"text":    map[string]string{"content": content},
	})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyCycleCompleted(context.Context, int, int, time.Duration) error { return nil }
func (noopService) NotifyEventArchived(context.Context, string, string, string) error   { return nil }
func (noopService) NotifyMergeFailed(context.Context, string, string, string) error     { return nil }
func (noopService) NotifyError(context.Context, error, string) error                    { return nil }
func (noopService) TestNotification(context.Context) error                              { return nil }
