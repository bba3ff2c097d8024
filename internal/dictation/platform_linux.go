//go:build linux

package dictation

import "time"

// DefaultConfig returns the detection defaults for nerd-dictation under IBus.
func DefaultConfig() Config {
	return Config{
		HelperProcess: "nerd-dictation",
		CPUThreshold:  50 * time.Millisecond,
		InputSources:  []string{"dictation", "speech", "stt"},
	}
}

// NewSourceWatcher returns the IBus engine watcher.
func NewSourceWatcher() SourceWatcher {
	return NewIBusWatcher("")
}
