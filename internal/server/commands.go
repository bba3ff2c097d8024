package server

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-micwatch/internal/config"
	"github.com/oszuidwest/zwfm-micwatch/internal/types"
)

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Detector is the part of the detection engine the commands drive.
type Detector interface {
	State() types.MicState
	SetIntervals(fast, normal time.Duration)
	Evaluate()
}

// Notifier is the transition notifier whose Graph client is cached.
type Notifier interface {
	InvalidateGraphClient()
}

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	cfg      *config.Config
	detector Detector
	notifier Notifier
	devices  func() []types.InputDevice
}

// NewCommandHandler creates a new command handler. devices lists the
// current input devices for devices/list.
func NewCommandHandler(cfg *config.Config, det Detector, notifier Notifier, devices func() []types.InputDevice) *CommandHandler {
	return &CommandHandler{
		cfg:      cfg,
		detector: det,
		notifier: notifier,
		devices:  devices,
	}
}

// Handle processes a WebSocket command and performs the requested action.
// Commands use slash-style format: namespace/action (e.g., "polling/update", "status/get").
// done closes when the client disconnects; replies still pending are then dropped.
func (h *CommandHandler) Handle(cmd WSCommand, send chan<- any, done <-chan struct{}, triggerStatusUpdate func()) {
	// Parse command into namespace and action
	parts := strings.SplitN(cmd.Type, "/", 3)
	namespace := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}
	subaction := ""
	if len(parts) > 2 {
		subaction = parts[2]
	}

	switch namespace {
	case "polling":
		h.handlePolling(action, cmd, send)
	case "notifications":
		h.handleNotifications(action, subaction, cmd, send, done)
	case "devices":
		h.handleDevices(action, send)
	case "status":
		h.handleStatus(action)
	default:
		slog.Warn("unknown WebSocket command", "type", cmd.Type)
	}

	triggerStatusUpdate()
}

// --- Namespace handlers ---

// handlePolling routes polling/* commands
func (h *CommandHandler) handlePolling(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "update":
		h.handlePollingUpdate(cmd, send)
	default:
		slog.Warn("unknown polling action", "action", action)
	}
}

// handleNotifications routes notifications/*/* commands
func (h *CommandHandler) handleNotifications(action, subaction string, cmd WSCommand, send chan<- any, done <-chan struct{}) {
	switch subaction {
	case "update":
		switch action {
		case "webhook":
			h.handleWebhookUpdate(cmd, send)
		case "email":
			h.handleEmailUpdate(cmd, send)
		case "zabbix":
			h.handleZabbixUpdate(cmd, send)
		default:
			slog.Warn("unknown notifications channel", "action", action)
		}
	case "test":
		h.handleTest(send, done, action)
	default:
		slog.Warn("unknown notifications action", "action", action, "subaction", subaction)
	}
}

// handleDevices routes devices/* commands
func (h *CommandHandler) handleDevices(action string, send chan<- any) {
	switch action {
	case "list":
		devices := h.devices()
		if devices == nil {
			devices = []types.InputDevice{}
		}
		SendData(send, types.WSDevicesResponse{Type: "devices", Devices: devices})
	default:
		slog.Warn("unknown devices action", "action", action)
	}
}

// handleStatus routes status/* commands
func (h *CommandHandler) handleStatus(action string) {
	switch action {
	case "get":
		// Status is pushed after every command; also refresh the readings.
		h.detector.Evaluate()
	default:
		slog.Warn("unknown status action", "action", action)
	}
}
