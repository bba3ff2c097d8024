package audio

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

// DeviceListConfig defines how to list audio devices through a helper command.
type DeviceListConfig struct {
	// Command and args to list devices.
	Command []string

	// AudioStartMarker indicates the start of audio devices section.
	AudioStartMarker string

	// AudioStopMarker indicates the end of audio devices section (optional).
	AudioStopMarker string

	// DevicePattern is the regex to extract device info.
	DevicePattern *regexp.Regexp

	// ParseDevice converts regex matches to a Device.
	ParseDevice func(matches []string) *Device
}

// listDevices runs the configured command and parses its output.
//
//nolint:gocritic // hugeParam: config is built once per call
func listDevices(run Runner, cfg DeviceListConfig) []Device {
	if len(cfg.Command) == 0 {
		return nil
	}

	output, err := run(context.Background(), cfg.Command[0], cfg.Command[1:]...)
	// FFmpeg exits non-zero after listing devices, so only empty output is a failure.
	if err != nil && len(output) == 0 {
		slog.Debug("failed to list audio devices", "error", err)
		return nil
	}
	return parseDeviceList(cfg, string(output))
}

// parseDeviceList extracts audio devices from command output.
//
//nolint:gocritic // hugeParam: config is built once per call
func parseDeviceList(cfg DeviceListConfig, output string) []Device {
	var devices []Device
	inAudioSection := cfg.AudioStartMarker == ""

	for line := range strings.SplitSeq(output, "\n") {
		if cfg.AudioStartMarker != "" && strings.Contains(line, cfg.AudioStartMarker) {
			inAudioSection = true
			continue
		}
		if cfg.AudioStopMarker != "" && strings.Contains(line, cfg.AudioStopMarker) {
			inAudioSection = false
			continue
		}

		if !inAudioSection {
			continue
		}

		// Skip alternative name lines (Windows DirectShow).
		if strings.Contains(line, "Alternative name") {
			continue
		}

		if cfg.DevicePattern == nil {
			continue
		}

		matches := cfg.DevicePattern.FindStringSubmatch(line)
		if len(matches) > 0 && cfg.ParseDevice != nil {
			if dev := cfg.ParseDevice(matches); dev != nil {
				devices = append(devices, *dev)
			}
		}
	}
	return devices
}
