// Package audio enumerates audio input devices and reports their running and mute state.
package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/oszuidwest/zwfm-micwatch/internal/types"
	"github.com/oszuidwest/zwfm-micwatch/internal/util"
)

// DeviceID identifies an input device within one backend.
type DeviceID string

// Device represents an audio input device.
type Device struct {
	// ID is the stable backend identifier (source name on PulseAudio).
	ID DeviceID `json:"id"`
	// Index is the backend's volatile numeric handle, used to route change events.
	Index string `json:"index,omitempty"`
	// Name is the device display name.
	Name string `json:"name"`
	// HasInput reports whether the device exposes an input stream.
	HasInput bool `json:"has_input"`
	// Running reports whether some process is capturing from the device.
	Running bool `json:"running"`
	// Muted is nil when the device exposes no mute control.
	Muted *bool `json:"muted,omitempty"`
}

// IsMuted reports the mute state, treating unsupported mute as not muted.
func (d Device) IsMuted() bool {
	return d.Muted != nil && *d.Muted
}

// Wire converts the device to its status-feed form.
func (d Device) Wire(isDefault bool) types.InputDevice {
	return types.InputDevice{
		ID:      string(d.ID),
		Name:    d.Name,
		Running: d.Running,
		Muted:   d.Muted,
		Default: isDefault,
	}
}

// Enumerator lists input devices and answers per-device queries.
// Every method degrades to an empty or false result on failure.
type Enumerator interface {
	InputDevices() []Device
	IsRunning(id DeviceID) bool
	IsMuted(id DeviceID) *bool
	Name(id DeviceID) (string, bool)
	DefaultInput() (Device, bool)
}

// CaptureDetector reports capture streams opened by other processes.
type CaptureDetector interface {
	// CaptureInUse returns true with the device name of the first input device
	// captured by a process other than this one.
	CaptureInUse() (inUse bool, deviceName string)
}

// Backend is the platform implementation of both device queries.
type Backend interface {
	Enumerator
	CaptureDetector
}

// Options configures the platform backend.
type Options struct {
	PactlPath  string        // pactl binary, resolved through PATH when empty
	FFmpegPath string        // ffmpeg binary used for device listing on darwin and windows
	Timeout    time.Duration // per-command timeout
}

// defaultTimeout bounds every helper command.
const defaultTimeout = 2 * time.Second

// Runner executes a helper command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner returns a Runner that runs commands with the C locale and a timeout.
func ExecRunner(timeout time.Duration) Runner {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		cmd := exec.CommandContext(ctx, name, args...)
		cmd.Env = append(os.Environ(), "LC_ALL=C")
		out, err := cmd.Output()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if msg := util.ExtractLastError(string(exitErr.Stderr)); msg != "" {
				return out, fmt.Errorf("%w: %s", err, msg)
			}
		}
		return out, err
	}
}

// combinedRunner is like ExecRunner but includes stderr, which FFmpeg uses for device lists.
func combinedRunner(timeout time.Duration) Runner {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return exec.CommandContext(ctx, name, args...).CombinedOutput()
	}
}
