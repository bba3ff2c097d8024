package detector

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/oszuidwest/zwfm-micwatch/internal/audio"
	"github.com/oszuidwest/zwfm-micwatch/internal/dictation"
	"github.com/oszuidwest/zwfm-micwatch/internal/events"
	"github.com/oszuidwest/zwfm-micwatch/internal/listener"
	"github.com/oszuidwest/zwfm-micwatch/internal/types"
)

// Default poll intervals.
const (
	DefaultFastInterval   = 1 * time.Second
	DefaultNormalInterval = 5 * time.Second
)

// DictationDetector is the dictation signal consumed by the engine.
type DictationDetector interface {
	IsActive() bool
	Plausible() bool
	OnInputSourceChanged(sourceID string)
}

// Options wires the engine to its signal sources.
type Options struct {
	Enumerator audio.Enumerator
	Capture    audio.CaptureDetector
	Events     events.Source           // nil disables push notifications
	Dictation  DictationDetector       // nil disables dictation detection
	Sources    dictation.SourceWatcher // nil disables input-source notifications
	Clock      clockwork.Clock

	FastInterval   time.Duration
	NormalInterval time.Duration

	// OnChange is called on the engine goroutine for every transition.
	OnChange func(types.Transition)
}

func (o *Options) applyDefaults() {
	if o.Events == nil {
		o.Events = events.Unsupported{}
	}
	if o.Sources == nil {
		o.Sources = dictation.NoopWatcher{}
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.FastInterval <= 0 {
		o.FastInterval = DefaultFastInterval
	}
	if o.NormalInterval <= 0 {
		o.NormalInterval = DefaultNormalInterval
	}
}

// Engine runs every notification callback and poller tick on a single
// goroutine, so reconciliation never interleaves.
type Engine struct {
	opts      Options
	log       *slog.Logger
	recon     *Reconciler
	poller    *Poller
	listeners *listener.Manager
	bcast     *Broadcaster
	wake      chan struct{}

	// Owned by the loop goroutine.
	inputSub events.Subscription

	mu         sync.Mutex
	running    bool
	generation uint64
	queue      []func()
	stop       chan struct{}
	done       chan struct{}
	state      types.MicState
	interval   time.Duration
	fast       time.Duration
	normal     time.Duration
}

// New creates a stopped engine.
func New(opts Options) *Engine {
	opts.applyDefaults()
	e := &Engine{
		opts:   opts,
		log:    slog.Default().With("component", "detector"),
		recon:  NewReconciler(),
		poller: NewPoller(opts.Clock, opts.FastInterval, opts.NormalInterval),
		bcast:  NewBroadcaster(),
		wake:   make(chan struct{}, 1),
		fast:   opts.FastInterval,
		normal: opts.NormalInterval,
	}
	e.listeners = listener.New(opts.Events, opts.Enumerator, e.dispatch, e.evaluate)
	return e
}

// Start registers listeners, evaluates once and starts the poller at the
// normal interval. It returns after the first evaluation. Calling Start on a
// running engine is a no-op.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.generation++
	e.queue = nil
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	stop, done := e.stop, e.done
	e.mu.Unlock()

	go e.loop(stop, done)

	started := make(chan struct{})
	e.dispatch(func() {
		e.setup()
		close(started)
	})
	select {
	case <-started:
	case <-done:
	}
	e.log.Info("detector started", "polling", e.Polling())
}

// Stop cancels the poller and releases every subscription. The engine can be
// started again afterwards. Calling Stop on a stopped engine is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.generation++
	e.queue = nil
	stop, done := e.stop, e.done
	e.mu.Unlock()

	close(stop)
	<-done
	e.log.Info("detector stopped")
}

// Running reports whether the engine loop is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// State returns the last emitted state.
func (e *Engine) State() types.MicState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Polling returns the poller cadence.
func (e *Engine) Polling() types.PollingStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return types.PollingStatus{
		IntervalMs: e.interval.Milliseconds(),
		FastMs:     e.fast.Milliseconds(),
		NormalMs:   e.normal.Milliseconds(),
	}
}

// SetIntervals changes the poll intervals. A stopped engine applies them
// on the next Start. Non-positive values are ignored.
func (e *Engine) SetIntervals(fast, normal time.Duration) {
	if fast <= 0 || normal <= 0 {
		return
	}
	e.mu.Lock()
	e.fast, e.normal = fast, normal
	e.mu.Unlock()

	e.dispatch(func() {
		if e.poller.SetIntervals(fast, normal) {
			e.log.Debug("poll interval changed", "interval", e.poller.Interval())
		}
		e.mu.Lock()
		e.interval = e.poller.Interval()
		e.mu.Unlock()
	})
}

// Subscribe returns a channel receiving every transition and a cancel func.
func (e *Engine) Subscribe(buffer int) (<-chan types.Transition, func()) {
	return e.bcast.Subscribe(buffer)
}

// Evaluate requests a re-evaluation on the engine goroutine.
func (e *Engine) Evaluate() {
	e.dispatch(e.evaluate)
}

// dispatch queues fn for the loop. It never blocks and drops work while stopped.
func (e *Engine) dispatch(fn func()) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.queue = append(e.queue, fn)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) takeQueue() []func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	q := e.queue
	e.queue = nil
	return q
}

func (e *Engine) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			e.teardown()
			return
		case <-e.wake:
			for _, fn := range e.takeQueue() {
				select {
				case <-stop:
					e.teardown()
					return
				default:
				}
				fn()
			}
		case <-e.poller.C():
			e.evaluate()
		}
	}
}

func (e *Engine) setup() {
	e.mu.Lock()
	fast, normal := e.fast, e.normal
	e.mu.Unlock()

	e.listeners.Register()
	e.watchInputSource()
	e.poller.SetIntervals(fast, normal)
	e.poller.Start()
	e.evaluate()
}

func (e *Engine) teardown() {
	e.poller.Stop()
	e.listeners.Unregister()
	if e.inputSub != nil {
		e.inputSub.Unsubscribe()
		e.inputSub = nil
	}
	e.mu.Lock()
	e.interval = 0
	e.mu.Unlock()
}

func (e *Engine) watchInputSource() {
	if e.opts.Dictation == nil {
		return
	}
	if current, ok := e.opts.Sources.Current(); ok {
		e.opts.Dictation.OnInputSourceChanged(current)
	}

	e.mu.Lock()
	gen := e.generation
	e.mu.Unlock()

	sub, err := e.opts.Sources.Watch(func(sourceID string) {
		e.dispatch(func() {
			if !e.current(gen) {
				return
			}
			e.opts.Dictation.OnInputSourceChanged(sourceID)
			e.evaluate()
		})
	})
	if err != nil {
		e.log.Debug("input source notifications unavailable", "error", err)
		return
	}
	e.inputSub = sub
}

func (e *Engine) current(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running && e.generation == gen
}

// evaluate is the single re-evaluation entry point; it runs on the loop.
func (e *Engine) evaluate() {
	prev := e.recon.State()
	next, changed := e.recon.Apply(gather(e.opts), e.opts.Clock.Now())

	plausible := next.Active
	if !plausible && e.opts.Dictation != nil {
		plausible = e.opts.Dictation.Plausible()
	}
	if e.poller.Adjust(plausible) {
		e.log.Debug("poll interval changed", "interval", e.poller.Interval())
	}

	e.mu.Lock()
	e.interval = e.poller.Interval()
	if changed {
		e.state = next
	}
	e.mu.Unlock()

	if !changed {
		return
	}

	t := types.Transition{Previous: prev, Current: next, At: e.opts.Clock.Now()}
	e.log.Info("microphone state changed",
		"active", next.Active,
		"muted", next.Muted,
		"device", next.DeviceName,
		"source", e.recon.Source())

	e.notify(t)
	e.bcast.Publish(t)
}

func (e *Engine) notify(t types.Transition) {
	if e.opts.OnChange == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("state change callback panicked", "panic", r)
		}
	}()
	e.opts.OnChange(t)
}

// gather reads every signal once. HAL attributes activity to the default
// input when it is running, else to the first running device.
func gather(opts Options) Readings {
	var r Readings

	def, hasDefault := opts.Enumerator.DefaultInput()
	if hasDefault {
		r.Muted = def.IsMuted()
	}

	for _, dev := range opts.Enumerator.InputDevices() {
		if !dev.Running {
			continue
		}
		if !r.HAL || (hasDefault && dev.ID == def.ID) {
			r.HAL = true
			r.HALDevice = dev.Name
		}
	}

	if !r.HAL && opts.Capture != nil {
		r.CaptureInUse, r.CaptureDevice = opts.Capture.CaptureInUse()
	}

	if opts.Dictation != nil {
		r.Dictation = opts.Dictation.IsActive()
	}
	return r
}

// Probe performs one evaluation outside the engine loop and returns the
// resulting state.
func Probe(opts Options) types.MicState {
	opts.applyDefaults()
	state, _ := NewReconciler().Apply(gather(opts), opts.Clock.Now())
	return state
}
