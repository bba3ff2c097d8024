package audio

import (
	"regexp"
	"strings"
)

var (
	avfoundationPattern = regexp.MustCompile(`\[AVFoundation[^\]]*\]\s*\[(\d+)\]\s*(.+)`)
	dshowPattern        = regexp.MustCompile(`\[dshow[^\]]*\]\s*"([^"]+)"\s*\(audio\)`)
)

func avfoundationListConfig(ffmpeg string) DeviceListConfig {
	return DeviceListConfig{
		Command:          []string{ffmpeg, "-hide_banner", "-f", "avfoundation", "-list_devices", "true", "-i", ""},
		AudioStartMarker: "AVFoundation audio devices:",
		AudioStopMarker:  "AVFoundation video devices:",
		DevicePattern:    avfoundationPattern,
		ParseDevice: func(matches []string) *Device {
			if len(matches) < 3 {
				return nil
			}
			return &Device{
				ID:       DeviceID(":" + matches[1]),
				Index:    matches[1],
				Name:     strings.TrimSpace(matches[2]),
				HasInput: true,
			}
		},
	}
}

func dshowListConfig(ffmpeg string) DeviceListConfig {
	return DeviceListConfig{
		Command: []string{ffmpeg, "-hide_banner", "-f", "dshow", "-list_devices", "true", "-i", "dummy"},
		// FFmpeg versions disagree on the section header, so audio lines are
		// recognized by their "(audio)" suffix instead.
		DevicePattern: dshowPattern,
		ParseDevice: func(matches []string) *Device {
			if len(matches) < 2 {
				return nil
			}
			name := strings.TrimSpace(matches[1])
			return &Device{
				ID:       DeviceID("audio=" + name),
				Name:     name,
				HasInput: true,
			}
		},
	}
}

// FFmpegEnumerator lists devices through FFmpeg. FFmpeg exposes neither
// running nor mute state, so only device names are reported.
type FFmpegEnumerator struct {
	run Runner
	cfg DeviceListConfig
}

func newFFmpegEnumerator(run Runner, cfg DeviceListConfig) *FFmpegEnumerator {
	return &FFmpegEnumerator{run: run, cfg: cfg}
}

// InputDevices returns the audio devices FFmpeg reports.
func (e *FFmpegEnumerator) InputDevices() []Device {
	return listDevices(e.run, e.cfg)
}

// IsRunning always reports false.
func (e *FFmpegEnumerator) IsRunning(DeviceID) bool { return false }

// IsMuted always reports unsupported.
func (e *FFmpegEnumerator) IsMuted(DeviceID) *bool { return nil }

// Name returns the display name of the device.
func (e *FFmpegEnumerator) Name(id DeviceID) (string, bool) {
	for _, d := range e.InputDevices() {
		if d.ID == id {
			return d.Name, true
		}
	}
	return "", false
}

// DefaultInput returns the first listed device, which FFmpeg orders as the system default.
func (e *FFmpegEnumerator) DefaultInput() (Device, bool) {
	devices := e.InputDevices()
	if len(devices) == 0 {
		return Device{}, false
	}
	return devices[0], true
}

// CaptureInUse is not observable through FFmpeg.
func (e *FFmpegEnumerator) CaptureInUse() (inUse bool, deviceName string) {
	return false, ""
}
