package reminder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// LogNotifier writes reminders to the log.
type LogNotifier struct {
	Log *zap.Logger
}

func (LogNotifier) Name() string { return "log" }

func (n LogNotifier) Notify(ctx context.Context, r Reminder, msg string) error {
	n.Log.Info(msg,
		zap.String("task", r.Task.ID),
		zap.String("kind", string(r.Kind)),
		zap.Time("due", r.Due))
	return nil
}

// Discord posts reminders to a Discord channel webhook.
type Discord struct {
	WebhookURL string
	Client     *http.Client
}

func (Discord) Name() string { return "discord" }

func (d Discord) Notify(ctx context.Context, r Reminder, msg string) error {
	body, err := json.Marshal(map[string]string{"content": msg})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := d.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook status %d: %s", resp.StatusCode, detail)
	}
	return nil
}
