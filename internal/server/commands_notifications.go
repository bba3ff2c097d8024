package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oszuidwest/zwfm-micwatch/internal/notify"
	"github.com/oszuidwest/zwfm-micwatch/internal/types"
)

// testTimeout bounds a notification test including retries.
const testTimeout = 60 * time.Second

// runTest sends a test notification over the given channel.
func (h *CommandHandler) runTest(ctx context.Context, testType string) error {
	cfg := h.cfg.Snapshot()
	switch testType {
	case "webhook":
		return notify.SendTestWebhook(ctx, cfg.WebhookURL, cfg.InstanceName)
	case "email":
		return notify.SendTestEmail(ctx, notify.BuildGraphConfig(cfg), cfg.InstanceName)
	case "zabbix":
		return notify.SendTestZabbix(cfg.ZabbixServer, cfg.ZabbixPort, cfg.ZabbixHost, cfg.ZabbixKey,
			h.detector.State().Active)
	default:
		return fmt.Errorf("unknown test type: %s", testType)
	}
}

// handleTest executes a notification test and sends the result to the client.
func (h *CommandHandler) handleTest(send chan<- any, done <-chan struct{}, testType string) {
	HandleActionAsync("test_result", send, done, func() any {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()

		result := types.WSTestResult{
			Type:     "test_result",
			TestType: testType,
			Success:  true,
		}

		if err := h.runTest(ctx, testType); err != nil {
			slog.Error("test failed", "test", testType, "error", err)
			result.Success = false
			result.Error = err.Error()
		} else {
			slog.Info("test succeeded", "test", testType)
		}
		return result
	})
}
