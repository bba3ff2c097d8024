//go:build darwin

package dictation

import "time"

// DefaultConfig returns the detection defaults for macOS dictation.
func DefaultConfig() Config {
	return Config{
		HelperProcess: "DictationIM",
		CPUThreshold:  50 * time.Millisecond,
		InputSources:  []string{"com.apple.inputmethod.ironwood"},
	}
}

// NewSourceWatcher returns a watcher without notifications; the CPU
// heuristic covers dictation on this platform.
func NewSourceWatcher() SourceWatcher {
	return NoopWatcher{}
}
