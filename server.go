package main

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/oszuidwest/zwfm-micwatch/internal/apps"
	"github.com/oszuidwest/zwfm-micwatch/internal/audio"
	"github.com/oszuidwest/zwfm-micwatch/internal/config"
	"github.com/oszuidwest/zwfm-micwatch/internal/procstat"
	"github.com/oszuidwest/zwfm-micwatch/internal/server"
	"github.com/oszuidwest/zwfm-micwatch/internal/types"
	"github.com/oszuidwest/zwfm-micwatch/internal/util"
)

// statusInterval is the periodic status push interval.
const statusInterval = 3000 * time.Millisecond

// Detector is the engine surface the server reads and drives.
type Detector interface {
	server.Detector
	Running() bool
	Polling() types.PollingStatus
	Subscribe(buffer int) (<-chan types.Transition, func())
}

// Server is an HTTP server that exposes the microphone state.
type Server struct {
	config   *config.Config
	detector Detector
	enum     audio.Enumerator
	procs    procstat.Table
	commands *server.CommandHandler
	version  *VersionChecker
	now      func() time.Time
}

// NewServer returns a new Server for the given detector and device backend.
func NewServer(cfg *config.Config, det Detector, enum audio.Enumerator, procs procstat.Table, notifier server.Notifier, version *VersionChecker) *Server {
	s := &Server{
		config:   cfg,
		detector: det,
		enum:     enum,
		procs:    procs,
		version:  version,
		now:      time.Now,
	}
	s.commands = server.NewCommandHandler(cfg, det, notifier, s.devices)
	return s
}

// devices returns the wire form of the enumerated input devices.
func (s *Server) devices() []types.InputDevice {
	def, hasDefault := s.enum.DefaultInput()
	list := s.enum.InputDevices()
	out := make([]types.InputDevice, 0, len(list))
	for _, d := range list {
		out = append(out, d.Wire(hasDefault && d.ID == def.ID))
	}
	return out
}

// likelyApp names the probable consumer while the microphone is active.
func (s *Server) likelyApp(state types.MicState) string {
	if !state.Active || s.procs == nil {
		return ""
	}
	name, _ := apps.Lookup(procstat.Names(s.procs))
	return name
}

// handleWebSocket handles bidirectional WebSocket communication for real-time updates.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := server.UpgradeConnection(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	// Only the writer goroutine writes to the connection.
	send := make(chan any, 16)
	done := make(chan struct{})
	statusUpdate := make(chan struct{}, 1)

	go s.runWebSocketWriter(conn, send, done)
	go s.runWebSocketReader(conn, send, done, statusUpdate)

	s.runWebSocketEventLoop(send, done, statusUpdate)
}

// runWebSocketWriter writes messages from the send channel to the connection
// until the reader reports the client gone. send is never closed: command
// replies may still arrive from background goroutines after that.
func (s *Server) runWebSocketWriter(conn server.WebSocketConn, send <-chan any, done <-chan struct{}) {
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("WebSocket close error", "error", err)
		}
	}()
	for {
		select {
		case msg := <-send:
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// runWebSocketReader reads commands from the connection and dispatches them.
func (s *Server) runWebSocketReader(conn server.WebSocketConn, send chan<- any, done chan struct{}, statusUpdate chan<- struct{}) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in WebSocket reader", "panic", r)
		}
		close(done)
	}()

	for {
		var cmd server.WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		s.commands.Handle(cmd, send, done, func() {
			select {
			case statusUpdate <- struct{}{}:
			default:
			}
		})
	}
}

// runWebSocketEventLoop pushes status on every transition, on request and periodically.
func (s *Server) runWebSocketEventLoop(send chan<- any, done, statusUpdate <-chan struct{}) {
	transitions, unsubscribe := s.detector.Subscribe(4)
	defer unsubscribe()

	statusTicker := time.NewTicker(statusInterval)
	defer statusTicker.Stop()

	// trySend attempts to send a message, returning false if done is closed
	trySend := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-done:
			return false
		}
	}

	if !trySend(s.buildWSStatus()) {
		return
	}

	for {
		select {
		case <-done:
			return
		case <-transitions:
			if !trySend(s.buildWSStatus()) {
				return
			}
		case <-statusUpdate:
			if !trySend(s.buildWSStatus()) {
				return
			}
		case <-statusTicker.C:
			if !trySend(s.buildWSStatus()) {
				return
			}
		}
	}
}

// buildWSStatus returns the current status response.
func (s *Server) buildWSStatus() types.WSStatusResponse {
	cfg := s.config.Snapshot()
	state := s.detector.State()

	status := types.WSStatusResponse{
		Type:      "status",
		State:     state,
		LikelyApp: s.likelyApp(state),
		Running:   s.detector.Running(),
		Polling:   s.detector.Polling(),
		Settings: types.WSSettings{
			Platform:       runtime.GOOS,
			WebhookURL:     cfg.WebhookURL,
			ZabbixServer:   cfg.ZabbixServer,
			EmailEnabled:   cfg.HasGraph(),
			DictationProc:  cfg.DictationProcess,
			CPUThresholdMs: cfg.CPUThreshold.Milliseconds(),
		},
	}
	if state.Active {
		status.Duration = util.FormatDuration(state.Duration(s.now()))
	}
	if s.version != nil {
		status.Version = s.version.Info()
	}
	return status
}

// handleStatus handles GET /api/status.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.buildWSStatus())
}

// handleDevices handles GET /api/devices.
func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, types.WSDevicesResponse{Type: "devices", Devices: s.devices()})
}

// writeJSON encodes v as the response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// SetupRoutes returns an [http.Handler] configured with all application routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/devices", s.handleDevices)
	mux.HandleFunc("/ws", s.handleWebSocket)

	return securityHeaders(mux)
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// Start begins the HTTP server.
// Returns an *http.Server that can be used for graceful shutdown.
func (s *Server) Start() *http.Server {
	cfg := s.config.Snapshot()
	addr := net.JoinHostPort(cfg.BindAddress, strconv.Itoa(cfg.WebPort))
	slog.Info("starting web server", "addr", addr)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return srv
}
