//go:build !linux && !darwin

package dictation

import "time"

// DefaultConfig returns defaults with no known dictation helper.
func DefaultConfig() Config {
	return Config{CPUThreshold: 50 * time.Millisecond}
}

// NewSourceWatcher returns a watcher without notifications.
func NewSourceWatcher() SourceWatcher {
	return NoopWatcher{}
}
