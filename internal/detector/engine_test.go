package detector

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-micwatch/internal/audio"
	"github.com/oszuidwest/zwfm-micwatch/internal/dictation"
	"github.com/oszuidwest/zwfm-micwatch/internal/events"
	"github.com/oszuidwest/zwfm-micwatch/internal/procstat"
	"github.com/oszuidwest/zwfm-micwatch/internal/types"
)

type fakeEnumerator struct {
	mu      sync.Mutex
	devices []audio.Device
	def     audio.DeviceID
	lists   atomic.Int32
}

func (f *fakeEnumerator) set(def audio.DeviceID, devices ...audio.Device) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.def = def
	f.devices = devices
}

func (f *fakeEnumerator) InputDevices() []audio.Device {
	f.lists.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]audio.Device(nil), f.devices...)
}

func (f *fakeEnumerator) find(id audio.DeviceID) (audio.Device, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.devices {
		if d.ID == id {
			return d, true
		}
	}
	return audio.Device{}, false
}

func (f *fakeEnumerator) IsRunning(id audio.DeviceID) bool {
	d, _ := f.find(id)
	return d.Running
}

func (f *fakeEnumerator) IsMuted(id audio.DeviceID) *bool {
	d, _ := f.find(id)
	return d.Muted
}

func (f *fakeEnumerator) Name(id audio.DeviceID) (string, bool) {
	d, ok := f.find(id)
	return d.Name, ok
}

func (f *fakeEnumerator) DefaultInput() (audio.Device, bool) {
	f.mu.Lock()
	def := f.def
	f.mu.Unlock()
	return f.find(def)
}

type fakeCapture struct {
	mu     sync.Mutex
	inUse  bool
	device string
}

func (f *fakeCapture) set(inUse bool, device string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inUse, f.device = inUse, device
}

func (f *fakeCapture) CaptureInUse() (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inUse, f.device
}

// fakeEvents counts live subscriptions and fires per-device handlers.
type fakeEvents struct {
	mu   sync.Mutex
	live map[int]string
	hs   map[int]events.Handler
	next int
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{live: make(map[int]string), hs: make(map[int]events.Handler)}
}

func (f *fakeEvents) add(key string, h events.Handler) (events.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := f.next
	f.live[id] = key
	f.hs[id] = h
	return events.SubscriptionFunc(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.live, id)
		delete(f.hs, id)
	}), nil
}

func (f *fakeEvents) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

func (f *fakeEvents) fire(key string) {
	f.mu.Lock()
	var hs []events.Handler
	for id, k := range f.live {
		if k == key {
			hs = append(hs, f.hs[id])
		}
	}
	f.mu.Unlock()
	for _, h := range hs {
		h()
	}
}

func (f *fakeEvents) DeviceListChanged(h events.Handler) (events.Subscription, error) {
	return f.add("devices", h)
}

func (f *fakeEvents) DefaultInputChanged(h events.Handler) (events.Subscription, error) {
	return f.add("default", h)
}

func (f *fakeEvents) RunningChanged(dev audio.Device, h events.Handler) (events.Subscription, error) {
	return f.add("running:"+string(dev.ID), h)
}

func (f *fakeEvents) MuteChanged(dev audio.Device, h events.Handler) (events.Subscription, error) {
	return f.add("mute:"+string(dev.ID), h)
}

type fakeWatcher struct {
	mu      sync.Mutex
	handler func(string)
	watches int
}

func (f *fakeWatcher) Watch(h func(string)) (events.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
	f.watches++
	return events.SubscriptionFunc(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.handler = nil
		f.watches--
	}), nil
}

func (f *fakeWatcher) Current() (string, bool) { return "xkb:us::eng", true }

func (f *fakeWatcher) fire(id string) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(id)
	}
}

type fakeTable struct {
	mu  sync.Mutex
	cpu time.Duration
}

func (f *fakeTable) setCPU(cpu time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cpu = cpu
}

func (f *fakeTable) Processes() []procstat.Process {
	f.mu.Lock()
	defer f.mu.Unlock()
	return []procstat.Process{{PID: 77, Name: "nerd-dictation", CPU: f.cpu}}
}

// fakeClock is the part of the clockwork fake clock the tests drive.
type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
}

type rig struct {
	enum    *fakeEnumerator
	capture *fakeCapture
	events  *fakeEvents
	watcher *fakeWatcher
	table   *fakeTable
	dict    *dictation.Detector
	clock   fakeClock
	engine  *Engine
	changes <-chan types.Transition
}

func newRig(t *testing.T) *rig {
	t.Helper()
	r := &rig{
		enum:    &fakeEnumerator{},
		capture: &fakeCapture{},
		events:  newFakeEvents(),
		watcher: &fakeWatcher{},
		table:   &fakeTable{cpu: time.Second},
		clock:   clockwork.NewFakeClock(),
	}
	r.dict = dictation.NewDetector(dictation.Config{
		HelperProcess: "nerd-dictation",
		CPUThreshold:  50 * time.Millisecond,
		InputSources:  []string{"speech"},
	}, r.table)
	r.engine = New(Options{
		Enumerator:     r.enum,
		Capture:        r.capture,
		Events:         r.events,
		Dictation:      r.dict,
		Sources:        r.watcher,
		Clock:          r.clock,
		FastInterval:   time.Second,
		NormalInterval: 5 * time.Second,
	})
	var cancel func()
	r.changes, cancel = r.engine.Subscribe(16)
	t.Cleanup(func() {
		r.engine.Stop()
		cancel()
	})
	return r
}

func (r *rig) next(t *testing.T) types.Transition {
	t.Helper()
	select {
	case tr := <-r.changes:
		return tr
	case <-time.After(2 * time.Second):
		t.Fatal("no transition emitted")
	}
	return types.Transition{}
}

func (r *rig) quiet(t *testing.T) {
	t.Helper()
	select {
	case tr := <-r.changes:
		t.Fatalf("unexpected transition: %+v", tr.Current)
	case <-time.After(50 * time.Millisecond):
	}
}

// sync waits until the engine loop has processed everything queued before it.
func (r *rig) sync(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	r.engine.dispatch(func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine loop did not drain")
	}
}

func mic(id, name string, running bool) audio.Device {
	return audio.Device{ID: audio.DeviceID(id), Index: id, Name: name, HasInput: true, Running: running}
}

func TestStartEvaluatesImmediately(t *testing.T) {
	r := newRig(t)
	r.enum.set("builtin", mic("builtin", "Built-in Mic", true))

	r.engine.Start()

	tr := r.next(t)
	assert.True(t, tr.Activated())
	assert.Equal(t, "Built-in Mic", tr.Current.DeviceName)
	assert.Equal(t, r.clock.Now(), tr.Current.ActiveSince)
	assert.Equal(t, tr.Current, r.engine.State())
	assert.Equal(t, int64(1000), r.engine.Polling().IntervalMs, "active state polls fast")
}

func TestStartAndStopAreIdempotent(t *testing.T) {
	r := newRig(t)
	r.enum.set("a", mic("a", "A", false), mic("b", "B", false))

	r.engine.Start()
	r.engine.Start()
	r.sync(t)

	// devices + default + running/mute for two devices.
	assert.Equal(t, 6, r.events.count())
	assert.Equal(t, 1, r.watcher.watches)

	r.engine.Stop()
	r.engine.Stop()
	assert.Zero(t, r.events.count())
	assert.Zero(t, r.watcher.watches)
	assert.False(t, r.engine.Running())
	assert.Zero(t, r.engine.Polling().IntervalMs)

	r.engine.Start()
	r.sync(t)
	assert.Equal(t, 6, r.events.count())
	assert.True(t, r.engine.Running())
}

func TestStopWithoutStart(t *testing.T) {
	r := newRig(t)
	assert.NotPanics(t, r.engine.Stop)
}

func TestDeviceNotificationTriggersReevaluation(t *testing.T) {
	r := newRig(t)
	r.enum.set("a", mic("a", "A", false))
	r.engine.Start()
	r.sync(t)

	r.enum.set("a", mic("a", "A", true))
	r.events.fire("running:a")

	tr := r.next(t)
	assert.True(t, tr.Current.Active)
	assert.Equal(t, "A", tr.Current.DeviceName)
}

func TestMuteNotification(t *testing.T) {
	r := newRig(t)
	r.enum.set("a", mic("a", "A", false))
	r.engine.Start()
	r.sync(t)

	muted := true
	dev := mic("a", "A", false)
	dev.Muted = &muted
	r.enum.set("a", dev)
	r.events.fire("mute:a")

	tr := r.next(t)
	assert.True(t, tr.Current.Muted)
	assert.False(t, tr.Current.Active)
}

func TestHALToCaptureSessionScenario(t *testing.T) {
	r := newRig(t)
	r.enum.set("builtin", mic("builtin", "Built-in Mic", true))
	r.engine.Start()
	first := r.next(t)

	r.clock.Advance(2 * time.Second)
	r.enum.set("builtin", mic("builtin", "Built-in Mic", false))
	r.capture.set(true, "External USB Mic")
	r.engine.Evaluate()

	tr := r.next(t)
	assert.True(t, tr.Current.Active)
	assert.Equal(t, "External USB Mic", tr.Current.DeviceName)
	assert.Equal(t, first.Current.ActiveSince, tr.Current.ActiveSince)
}

func TestDictationTrueThenFalseScenario(t *testing.T) {
	r := newRig(t)
	r.engine.Start()
	r.sync(t)
	r.quiet(t)

	// The first evaluation tracked the helper with a one second baseline.
	_, base, tracked := r.dict.Tracking()
	require.True(t, tracked)
	assert.Equal(t, time.Second, base)

	r.watcher.fire("ibus-speech")
	on := r.next(t)
	assert.True(t, on.Activated())
	assert.Equal(t, types.DictationDeviceName, on.Current.DeviceName)

	// The helper burns CPU while dictating; without a reset this would read as activity.
	r.table.setCPU(5 * time.Second)
	r.watcher.fire("xkb:us::eng")
	off := r.next(t)
	assert.True(t, off.Deactivated())

	r.sync(t)
	_, base, tracked = r.dict.Tracking()
	assert.True(t, tracked)
	assert.Equal(t, 5*time.Second, base, "baseline restarted from the current reading")
	r.quiet(t)
}

func TestPollerDrivesEvaluation(t *testing.T) {
	r := newRig(t)
	r.engine.Start()
	r.sync(t)
	assert.Equal(t, int64(1000), r.engine.Polling().IntervalMs, "tracked helper makes dictation plausible")

	r.table.setCPU(2 * time.Second)
	r.clock.Advance(time.Second)

	tr := r.next(t)
	assert.Equal(t, types.DictationDeviceName, tr.Current.DeviceName)
}

func TestNormalIntervalWhenIdle(t *testing.T) {
	r := newRig(t)
	r.engine.opts.Dictation = nil
	r.engine.Start()
	r.sync(t)

	assert.Equal(t, int64(5000), r.engine.Polling().IntervalMs)
	assert.Equal(t, int64(1000), r.engine.Polling().FastMs)

	lists := r.enum.lists.Load()
	r.clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return r.enum.lists.Load() > lists }, time.Second, 5*time.Millisecond)
}

func TestOnChangePanicIsRecovered(t *testing.T) {
	enum := &fakeEnumerator{}
	enum.set("a", mic("a", "A", true))

	e := New(Options{
		Enumerator: enum,
		Clock:      clockwork.NewFakeClock(),
		OnChange:   func(types.Transition) { panic("boom") },
	})
	ch, cancel := e.Subscribe(1)
	defer cancel()

	e.Start()
	defer e.Stop()

	select {
	case tr := <-ch:
		assert.True(t, tr.Current.Active)
	case <-time.After(2 * time.Second):
		t.Fatal("transition not broadcast after callback panic")
	}
}

func TestProbe(t *testing.T) {
	enum := &fakeEnumerator{}
	enum.set("a", mic("a", "A", false))
	capture := &fakeCapture{}
	capture.set(true, "A")

	state := Probe(Options{Enumerator: enum, Capture: capture, Clock: clockwork.NewFakeClock()})
	assert.True(t, state.Active)
	assert.Equal(t, "A", state.DeviceName)
}

func TestGatherPrefersDefaultDevice(t *testing.T) {
	enum := &fakeEnumerator{}
	enum.set("b", mic("a", "A", true), mic("b", "B", true))

	r := gather(Options{Enumerator: enum})
	assert.True(t, r.HAL)
	assert.Equal(t, "B", r.HALDevice)

	enum.set("c", mic("a", "A", true), mic("b", "B", true))
	r = gather(Options{Enumerator: enum})
	assert.Equal(t, "A", r.HALDevice)
}

func TestBroadcasterUnsubscribe(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe(1)
	assert.Equal(t, 1, b.Len())

	b.Publish(types.Transition{})
	b.Publish(types.Transition{}) // dropped, buffer full
	cancel()
	cancel()
	assert.Zero(t, b.Len())

	_, ok := <-ch
	assert.True(t, ok)
	_, ok = <-ch
	assert.False(t, ok)
}

func TestSetIntervalsAppliesToRunningEngine(t *testing.T) {
	r := newRig(t)
	r.engine.opts.Dictation = nil
	r.engine.SetIntervals(0, time.Second)
	assert.Equal(t, int64(5000), r.engine.Polling().NormalMs, "invalid intervals are ignored")

	r.engine.Start()
	r.sync(t)
	r.engine.SetIntervals(500*time.Millisecond, 2*time.Second)
	r.sync(t)

	p := r.engine.Polling()
	assert.Equal(t, int64(2000), p.IntervalMs)
	assert.Equal(t, int64(500), p.FastMs)

	r.engine.Stop()
	r.engine.SetIntervals(time.Second, 3*time.Second)
	r.engine.Start()
	r.sync(t)
	assert.Equal(t, int64(3000), r.engine.Polling().IntervalMs)
	r.engine.Stop()
}
