package server

import (
	"log/slog"
	"time"

	"github.com/oszuidwest/zwfm-micwatch/internal/config"
)

// --- Polling handlers ---

// handlePollingUpdate processes a polling/update command.
func (h *CommandHandler) handlePollingUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *PollingUpdateRequest) error {
		if err := h.cfg.SetPolling(req.FastMs, req.NormalMs); err != nil {
			return err
		}
		slog.Info("polling/update: intervals changed", "fast_ms", req.FastMs, "normal_ms", req.NormalMs)
		h.detector.SetIntervals(
			time.Duration(req.FastMs)*time.Millisecond,
			time.Duration(req.NormalMs)*time.Millisecond,
		)
		return nil
	})
}

// --- Notification handlers ---

// handleWebhookUpdate processes a notifications/webhook/update command.
func (h *CommandHandler) handleWebhookUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *WebhookUpdateRequest) error {
		return h.cfg.SetWebhookURL(req.URL)
	})
}

// handleEmailUpdate processes a notifications/email/update command.
func (h *CommandHandler) handleEmailUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *EmailUpdateRequest) error {
		if err := h.cfg.SetGraphConfig(
			req.TenantID,
			req.ClientID,
			req.ClientSecret,
			req.FromAddress,
			req.Recipients,
		); err != nil {
			return err
		}
		h.notifier.InvalidateGraphClient()
		return nil
	})
}

// handleZabbixUpdate processes a notifications/zabbix/update command.
func (h *CommandHandler) handleZabbixUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *ZabbixUpdateRequest) error {
		port := req.Port
		if port == 0 {
			port = config.DefaultZabbixPort
		}
		return h.cfg.SetZabbix(req.Server, port, req.Host, req.Key)
	})
}
