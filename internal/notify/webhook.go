package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/oszuidwest/zwfm-micwatch/internal/types"
	"github.com/oszuidwest/zwfm-micwatch/internal/util"
)

// Webhook delivery settings.
const (
	webhookTimeout  = 10 * time.Second
	webhookAttempts = 3
)

// webhookRetryDelay is the delay between webhook attempts.
var webhookRetryDelay = 2 * time.Second

// Webhook event names.
const (
	EventMicActive   = "mic_active"
	EventMicInactive = "mic_inactive"
	EventTest        = "test"
)

// WebhookPayload represents the data sent to webhook endpoints.
type WebhookPayload struct {
	Event       string `json:"event"`
	Instance    string `json:"instance"`
	Device      string `json:"device,omitempty"`
	Muted       bool   `json:"muted"`
	ActiveSince string `json:"active_since,omitempty"`
	DurationMs  int64  `json:"duration_ms,omitempty"`
	Duration    string `json:"duration,omitempty"`
	Message     string `json:"message,omitempty"`
	Timestamp   string `json:"timestamp"`
}

// newTransitionPayload describes t from the point of view of its edge.
// Deactivations carry the device and start time of the run that ended.
func newTransitionPayload(instance string, t types.Transition) *WebhookPayload {
	p := &WebhookPayload{
		Instance:  instance,
		Muted:     t.Current.Muted,
		Timestamp: timestampUTC(t.At),
	}
	if t.Activated() {
		p.Event = EventMicActive
		p.Device = t.Current.DeviceName
		p.ActiveSince = timestampUTC(t.Current.ActiveSince)
		return p
	}

	p.Event = EventMicInactive
	p.Device = t.Previous.DeviceName
	if !t.Previous.ActiveSince.IsZero() {
		p.ActiveSince = timestampUTC(t.Previous.ActiveSince)
		d := t.At.Sub(t.Previous.ActiveSince)
		p.DurationMs = d.Milliseconds()
		p.Duration = util.FormatDuration(d)
	}
	return p
}

// SendTransitionWebhook notifies the webhook of an activation edge.
func SendTransitionWebhook(ctx context.Context, webhookURL, instance string, t types.Transition) error {
	return sendWebhook(ctx, webhookURL, newTransitionPayload(instance, t))
}

// SendTestWebhook sends a test webhook notification.
func SendTestWebhook(ctx context.Context, webhookURL, instance string) error {
	if webhookURL == "" {
		return fmt.Errorf("webhook URL not configured")
	}

	return sendWebhook(ctx, webhookURL, &WebhookPayload{
		Event:     EventTest,
		Instance:  instance,
		Message:   "This is a test notification from " + instance,
		Timestamp: timestampUTC(time.Now()),
	})
}

// sendWebhook delivers a notification to the configured webhook endpoint.
// Network errors and 5xx responses are retried; other statuses are final.
func sendWebhook(ctx context.Context, webhookURL string, payload *WebhookPayload) error {
	if !util.IsConfigured(webhookURL) {
		return nil // Silently skip if not configured
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal payload", err)
	}

	client := &http.Client{Timeout: webhookTimeout}
	return retry.Do(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(jsonData))
		if err != nil {
			return retry.Unrecoverable(util.WrapError("create webhook request", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return util.WrapError("send webhook request", err)
		}
		defer util.SafeCloseFunc(resp.Body, "webhook response body")()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500:
			return fmt.Errorf("webhook returned status %d", resp.StatusCode)
		default:
			return retry.Unrecoverable(fmt.Errorf("webhook returned status %d", resp.StatusCode))
		}
	},
		retry.Attempts(webhookAttempts),
		retry.Delay(webhookRetryDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			slog.Debug("retrying webhook", "attempt", n+1, "event", payload.Event, "error", err)
		}),
	)
}
