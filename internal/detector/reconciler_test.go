package detector

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-micwatch/internal/types"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

func TestHALActivation(t *testing.T) {
	r := NewReconciler()

	state, changed := r.Apply(Readings{HAL: true, HALDevice: "Built-in Mic"}, at(0))
	require.True(t, changed)
	assert.Equal(t, types.MicState{Active: true, DeviceName: "Built-in Mic", ActiveSince: at(0)}, state)
	assert.Equal(t, types.SourceHAL, r.Source())

	_, changed = r.Apply(Readings{HAL: true, HALDevice: "Built-in Mic"}, at(1))
	assert.False(t, changed, "identical tick must not emit")
}

func TestHALHoldsRegardlessOfOtherSignals(t *testing.T) {
	r := NewReconciler()
	r.Apply(Readings{HAL: true, HALDevice: "Mic"}, at(0))

	for i, in := range []Readings{
		{HAL: true, HALDevice: "Mic", CaptureInUse: true, CaptureDevice: "USB"},
		{HAL: true, HALDevice: "Mic", Dictation: true},
		{HAL: true, HALDevice: "Mic"},
	} {
		state, _ := r.Apply(in, at(i+1))
		assert.True(t, state.Active)
		assert.Equal(t, "Mic", state.DeviceName)
		assert.Equal(t, at(0), state.ActiveSince)
		assert.Equal(t, types.SourceHAL, r.Source())
	}
}

func TestHALRetractsImmediately(t *testing.T) {
	r := NewReconciler()
	r.Apply(Readings{HAL: true, HALDevice: "Mic"}, at(0))

	// Dictation reporting true does not keep a HAL activation alive.
	state, changed := r.Apply(Readings{Dictation: true}, at(1))
	require.True(t, changed)
	assert.Equal(t, types.MicState{}, state)
	assert.Equal(t, types.SourceNone, r.Source())

	// With the state now inactive, dictation may claim it on the next tick.
	state, changed = r.Apply(Readings{Dictation: true}, at(2))
	require.True(t, changed)
	assert.Equal(t, types.DictationDeviceName, state.DeviceName)
	assert.Equal(t, at(2), state.ActiveSince)
}

func TestHALToCaptureSessionKeepsActiveSince(t *testing.T) {
	r := NewReconciler()
	first, _ := r.Apply(Readings{HAL: true, HALDevice: "Built-in Mic"}, at(0))

	state, changed := r.Apply(Readings{CaptureInUse: true, CaptureDevice: "External USB Mic"}, at(3))
	require.True(t, changed)
	assert.True(t, state.Active)
	assert.Equal(t, "External USB Mic", state.DeviceName)
	assert.Equal(t, first.ActiveSince, state.ActiveSince)
	assert.Equal(t, types.SourceCaptureSession, r.Source())

	state, changed = r.Apply(Readings{}, at(4))
	require.True(t, changed)
	assert.False(t, state.Active)
	assert.True(t, state.ActiveSince.IsZero())
	assert.Empty(t, state.DeviceName)
}

func TestDictationActivationAndRetraction(t *testing.T) {
	r := NewReconciler()

	state, changed := r.Apply(Readings{Dictation: true}, at(0))
	require.True(t, changed)
	assert.Equal(t, types.MicState{Active: true, DeviceName: "Dictation", ActiveSince: at(0)}, state)
	assert.Equal(t, types.SourceDictation, r.Source())

	state, changed = r.Apply(Readings{Dictation: true}, at(1))
	assert.False(t, changed)
	assert.Equal(t, at(0), state.ActiveSince)

	state, changed = r.Apply(Readings{}, at(2))
	require.True(t, changed)
	assert.Equal(t, types.MicState{}, state)
}

func TestHALPreemptsDictation(t *testing.T) {
	r := NewReconciler()
	r.Apply(Readings{Dictation: true}, at(0))

	state, changed := r.Apply(Readings{HAL: true, HALDevice: "Mic", Dictation: true}, at(1))
	require.True(t, changed)
	assert.Equal(t, "Mic", state.DeviceName)
	assert.Equal(t, at(0), state.ActiveSince)
	assert.Equal(t, types.SourceHAL, r.Source())

	// Dictation no longer owns the activation.
	state, _ = r.Apply(Readings{Dictation: true}, at(2))
	assert.False(t, state.Active)
}

func TestMuteIsIndependent(t *testing.T) {
	r := NewReconciler()

	state, changed := r.Apply(Readings{Muted: true}, at(0))
	require.True(t, changed)
	assert.Equal(t, types.MicState{Muted: true}, state)

	state, changed = r.Apply(Readings{HAL: true, HALDevice: "Mic", Muted: true}, at(1))
	require.True(t, changed)
	assert.True(t, state.Muted)
	assert.True(t, state.Active)

	state, changed = r.Apply(Readings{HAL: true, HALDevice: "Mic"}, at(2))
	require.True(t, changed)
	assert.False(t, state.Muted)
	assert.Equal(t, at(1), state.ActiveSince)
}

func TestEmissionsNeverRepeatAndActiveSinceIsStable(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	names := []string{"", "Mic", "USB"}

	r := NewReconciler()
	var emitted []types.MicState

	for i := range 5000 {
		in := Readings{
			HAL:           rng.IntN(4) == 0,
			HALDevice:     names[rng.IntN(len(names))],
			CaptureInUse:  rng.IntN(4) == 0,
			CaptureDevice: names[rng.IntN(len(names))],
			Dictation:     rng.IntN(3) == 0,
			Muted:         rng.IntN(5) == 0,
		}
		if state, changed := r.Apply(in, at(i)); changed {
			emitted = append(emitted, state)
		}
	}
	require.NotEmpty(t, emitted)

	for i, s := range emitted {
		assert.Equal(t, s.Active, !s.ActiveSince.IsZero(), "activeSince present iff active")
		if !s.Active {
			assert.Empty(t, s.DeviceName, "device name not observable while inactive")
		}
		if i == 0 {
			continue
		}
		prev := emitted[i-1]
		assert.False(t, s.Equal(prev), "consecutive emissions must differ")
		if prev.Active && s.Active {
			assert.Equal(t, prev.ActiveSince, s.ActiveSince, "activeSince held across an active run")
		}
	}
}
