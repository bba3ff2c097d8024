// Package types provides shared type definitions used across the detector.
package types

import "time"

// DictationDeviceName is the device label reported for dictation-sourced activations.
const DictationDeviceName = "Dictation"

// ActivationSource identifies the signal credited with the current activation.
type ActivationSource string

const (
	// SourceNone indicates there is no activation.
	SourceNone ActivationSource = ""
	// SourceHAL indicates a hardware running-state activation.
	SourceHAL ActivationSource = "hal"
	// SourceCaptureSession indicates a capture stream held by another process.
	SourceCaptureSession ActivationSource = "capture_session"
	// SourceDictation indicates platform dictation activity.
	SourceDictation ActivationSource = "dictation"
)

// MicState is the reconciled microphone state handed to consumers.
// Values are compared with Equal; the zero value is the inactive state.
type MicState struct {
	Active      bool      `json:"active"`                // Some process is capturing audio
	Muted       bool      `json:"muted"`                 // Default input device is muted
	DeviceName  string    `json:"device_name,omitempty"` // Device or pseudo-device responsible ("" = unknown)
	ActiveSince time.Time `json:"active_since,omitzero"` // Start of the current activation
}

// Equal reports whether s and o describe the same state.
func (s MicState) Equal(o MicState) bool {
	return s.Active == o.Active &&
		s.Muted == o.Muted &&
		s.DeviceName == o.DeviceName &&
		s.ActiveSince.Equal(o.ActiveSince)
}

// Duration returns how long the current activation has lasted at now.
func (s MicState) Duration(now time.Time) time.Duration {
	if !s.Active || s.ActiveSince.IsZero() {
		return 0
	}
	return now.Sub(s.ActiveSince)
}

// Transition describes a single emitted state change.
type Transition struct {
	Previous MicState
	Current  MicState
	At       time.Time
}

// Activated reports whether the transition is an inactive to active edge.
func (t Transition) Activated() bool {
	return !t.Previous.Active && t.Current.Active
}

// Deactivated reports whether the transition is an active to inactive edge.
func (t Transition) Deactivated() bool {
	return t.Previous.Active && !t.Current.Active
}

// InputDevice is the wire form of an enumerated input device.
type InputDevice struct {
	ID      string `json:"id"`              // Backend device identifier
	Name    string `json:"name"`            // Human-readable name
	Running bool   `json:"running"`         // Device is currently capturing
	Muted   *bool  `json:"muted,omitempty"` // nil when mute is unsupported
	Default bool   `json:"default"`         // Device is the default input
}

// PollingStatus reports the poller cadence.
type PollingStatus struct {
	IntervalMs int64 `json:"interval_ms"` // Currently scheduled interval
	FastMs     int64 `json:"fast_ms"`     // Interval used while activity is plausible
	NormalMs   int64 `json:"normal_ms"`   // Interval used otherwise
}

// WSStatusResponse is sent to clients with the current detector status.
type WSStatusResponse struct {
	Type      string        `json:"type"`                 // Message type identifier
	State     MicState      `json:"state"`                // Reconciled microphone state
	Duration  string        `json:"duration,omitempty"`   // Human-readable activation duration
	LikelyApp string        `json:"likely_app,omitempty"` // Best-effort consumer application
	Running   bool          `json:"running"`              // Detector loop is running
	Polling   PollingStatus `json:"polling"`              // Poller cadence
	Settings  WSSettings    `json:"settings"`             // Current settings
	Version   VersionInfo   `json:"version"`              // Version information
}

// WSSettings contains the settings sub-object in status responses.
type WSSettings struct {
	Platform       string `json:"platform"`         // Operating system platform
	WebhookURL     string `json:"webhook_url"`      // Transition webhook target
	ZabbixServer   string `json:"zabbix_server"`    // Zabbix trapper server
	EmailEnabled   bool   `json:"email_enabled"`    // Graph e-mail alerts configured
	DictationProc  string `json:"dictation_proc"`   // Dictation helper process name
	CPUThresholdMs int64  `json:"cpu_threshold_ms"` // Dictation CPU heuristic threshold
}

// WSTestResult is sent to clients after a test operation completes.
type WSTestResult struct {
	Type     string `json:"type"`            // Message type identifier
	TestType string `json:"test_type"`       // Type of test performed
	Success  bool   `json:"success"`         // Test succeeded
	Error    string `json:"error,omitempty"` // Error message if failed
}

// GraphConfig holds Microsoft Graph e-mail settings.
type GraphConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	FromAddress  string
	Recipients   string
}

// VersionInfo contains version comparison data.
type VersionInfo struct {
	Current     string `json:"current"`              // Current version
	Latest      string `json:"latest,omitempty"`     // Latest available version
	UpdateAvail bool   `json:"update_available"`     // Update is available
	Commit      string `json:"commit,omitempty"`     // Git commit hash
	BuildTime   string `json:"build_time,omitempty"` // Build timestamp
}
