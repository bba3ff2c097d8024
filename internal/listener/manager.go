// Package listener keeps audio change subscriptions in step with the set of
// enumerated input devices.
package listener

import (
	"errors"
	"log/slog"

	"github.com/oszuidwest/zwfm-micwatch/internal/audio"
	"github.com/oszuidwest/zwfm-micwatch/internal/events"
)

// Dispatcher runs fn on the detector's serialized context.
type Dispatcher func(fn func())

// Manager owns the global and per-device subscriptions. All methods must be
// called on the serialized context; notification callbacks are dispatched
// back onto it before touching any state.
type Manager struct {
	source   events.Source
	enum     audio.Enumerator
	dispatch Dispatcher
	trigger  func()
	log      *slog.Logger

	// generation invalidates callbacks already queued when subscriptions are replaced.
	generation uint64
	registered bool

	global  []events.Subscription
	running map[audio.DeviceID]events.Subscription
	mute    map[audio.DeviceID]events.Subscription
}

// New returns a manager that calls trigger on the serialized context
// whenever a notification arrives.
func New(source events.Source, enum audio.Enumerator, dispatch Dispatcher, trigger func()) *Manager {
	return &Manager{
		source:   source,
		enum:     enum,
		dispatch: dispatch,
		trigger:  trigger,
		log:      slog.Default().With("component", "listener"),
		running:  make(map[audio.DeviceID]events.Subscription),
		mute:     make(map[audio.DeviceID]events.Subscription),
	}
}

// Register subscribes to device-list and default-input changes and to every
// current input device. Calling it while registered is a no-op.
func (m *Manager) Register() {
	if m.registered {
		return
	}
	m.registered = true
	m.generation++

	if sub, err := m.source.DeviceListChanged(m.refreshHandler()); err != nil {
		m.logFailure("device list", "", err)
	} else {
		m.global = append(m.global, sub)
	}
	if sub, err := m.source.DefaultInputChanged(m.refreshHandler()); err != nil {
		m.logFailure("default input", "", err)
	} else {
		m.global = append(m.global, sub)
	}

	m.Refresh()
}

// Unregister releases every subscription. It is safe with none registered.
func (m *Manager) Unregister() {
	m.generation++
	m.registered = false

	for _, sub := range m.global {
		sub.Unsubscribe()
	}
	m.global = nil
	m.unregisterDevices()
}

// Refresh re-enumerates devices and replaces the per-device subscriptions.
// Existing subscriptions are released before new ones are added.
func (m *Manager) Refresh() {
	if !m.registered {
		return
	}
	m.unregisterDevices()

	for _, dev := range m.enum.InputDevices() {
		if sub, err := m.source.RunningChanged(dev, m.deviceHandler()); err != nil {
			m.logFailure("running state", dev.ID, err)
		} else {
			m.running[dev.ID] = sub
		}
		if sub, err := m.source.MuteChanged(dev, m.deviceHandler()); err != nil {
			m.logFailure("mute state", dev.ID, err)
		} else {
			m.mute[dev.ID] = sub
		}
	}
}

// Devices returns the number of devices with a running and a mute subscription.
func (m *Manager) Devices() (running, mute int) {
	return len(m.running), len(m.mute)
}

func (m *Manager) unregisterDevices() {
	for id, sub := range m.running {
		sub.Unsubscribe()
		delete(m.running, id)
	}
	for id, sub := range m.mute {
		sub.Unsubscribe()
		delete(m.mute, id)
	}
}

// refreshHandler re-enumerates before re-evaluating.
func (m *Manager) refreshHandler() events.Handler {
	gen := m.generation
	return func() {
		m.dispatch(func() {
			if gen != m.generation {
				return
			}
			m.Refresh()
			m.trigger()
		})
	}
}

// deviceHandler re-evaluates without re-enumerating.
func (m *Manager) deviceHandler() events.Handler {
	gen := m.generation
	return func() {
		m.dispatch(func() {
			if gen != m.generation {
				return
			}
			m.trigger()
		})
	}
}

func (m *Manager) logFailure(kind string, id audio.DeviceID, err error) {
	if errors.Is(err, events.ErrUnsupported) {
		m.log.Debug("notification unsupported, relying on polling", "kind", kind, "device", id)
		return
	}
	m.log.Warn("subscription failed, relying on polling", "kind", kind, "device", id, "error", err)
}
