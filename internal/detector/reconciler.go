// Package detector merges device, capture-session and dictation signals into
// one microphone state and drives the re-evaluation cadence.
package detector

import (
	"time"

	"github.com/oszuidwest/zwfm-micwatch/internal/types"
)

// Readings are the raw signal values gathered for one re-evaluation tick.
type Readings struct {
	HAL       bool   // some input device reports running
	HALDevice string // name of the running device

	CaptureInUse  bool   // another process holds a capture stream
	CaptureDevice string // name of the captured device

	Dictation bool // dictation detector reports activity
	Muted     bool // default input device is muted
}

// Reconciler is the activation state machine. Only the source that asserted
// an activation may retract it, except that HAL always takes precedence.
// It is not safe for concurrent use; the engine calls it from one goroutine.
type Reconciler struct {
	state  types.MicState
	source types.ActivationSource
}

// NewReconciler returns a reconciler in the inactive state.
func NewReconciler() *Reconciler {
	return &Reconciler{}
}

// Apply evaluates one tick. It returns the new state and whether it differs
// from the previously emitted one.
func (r *Reconciler) Apply(in Readings, now time.Time) (types.MicState, bool) {
	source, device := r.decide(in)

	next := types.MicState{Muted: in.Muted}
	if source != types.SourceNone {
		next.Active = true
		next.DeviceName = device
		next.ActiveSince = now
		if r.state.Active {
			next.ActiveSince = r.state.ActiveSince
		}
	}
	r.source = source

	if next.Equal(r.state) {
		return r.state, false
	}
	r.state = next
	return next, true
}

func (r *Reconciler) decide(in Readings) (types.ActivationSource, string) {
	switch {
	case in.HAL:
		return types.SourceHAL, in.HALDevice
	case in.CaptureInUse:
		return types.SourceCaptureSession, in.CaptureDevice
	case r.state.Active && r.source != types.SourceNone:
		// HAL and capture-session activations end as soon as their source is false.
		if r.source == types.SourceDictation && in.Dictation {
			return types.SourceDictation, types.DictationDeviceName
		}
		return types.SourceNone, ""
	case in.Dictation:
		return types.SourceDictation, types.DictationDeviceName
	}
	return types.SourceNone, ""
}

// State returns the last emitted state.
func (r *Reconciler) State() types.MicState {
	return r.state
}

// Source returns the signal credited with the current activation.
func (r *Reconciler) Source() types.ActivationSource {
	return r.source
}
