//go:build linux

package audio

import "github.com/oszuidwest/zwfm-micwatch/internal/util"

// NewBackend returns the PulseAudio/PipeWire backend.
func NewBackend(opts Options) Backend {
	path := util.ResolveCommandPath(opts.PactlPath, "pactl")
	if path == "" {
		path = "pactl"
	}
	return NewPactlEnumerator(path, ExecRunner(opts.Timeout))
}
