// Package events delivers audio subsystem change notifications through
// subscriptions that are released with an unsubscribe token.
package events

import (
	"errors"
	"sync"

	"github.com/oszuidwest/zwfm-micwatch/internal/audio"
)

// ErrUnsupported is returned when a source cannot deliver a notification kind.
var ErrUnsupported = errors.New("notification not supported")

// Handler is invoked when the subscribed condition may have changed.
// Notifications carry no payload; handlers must re-query state.
type Handler func()

// Subscription is the token returned for a registered handler.
type Subscription interface {
	// Unsubscribe releases the handler. It is safe to call more than once.
	Unsubscribe()
}

// Source delivers change notifications from the audio subsystem.
// Handlers may be called from any goroutine.
type Source interface {
	DeviceListChanged(h Handler) (Subscription, error)
	DefaultInputChanged(h Handler) (Subscription, error)
	RunningChanged(dev audio.Device, h Handler) (Subscription, error)
	MuteChanged(dev audio.Device, h Handler) (Subscription, error)
}

// SubscriptionFunc adapts a function to the Subscription interface.
// The function runs at most once.
func SubscriptionFunc(fn func()) Subscription {
	return &funcSubscription{fn: fn}
}

type funcSubscription struct {
	once sync.Once
	fn   func()
}

func (s *funcSubscription) Unsubscribe() {
	s.once.Do(s.fn)
}

const (
	topicDevices = "devices"
	topicDefault = "default"
)

func runningTopic(index string) string { return "running:" + index }
func muteTopic(index string) string    { return "mute:" + index }

// hub is a topic keyed handler registry.
type hub struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[string]map[uint64]Handler
	onEmpty  func()
}

func newHub() *hub {
	return &hub{handlers: make(map[string]map[uint64]Handler)}
}

func (h *hub) subscribe(topic string, fn Handler) Subscription {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.handlers[topic] == nil {
		h.handlers[topic] = make(map[uint64]Handler)
	}
	h.handlers[topic][id] = fn
	h.mu.Unlock()

	return SubscriptionFunc(func() {
		h.mu.Lock()
		delete(h.handlers[topic], id)
		if len(h.handlers[topic]) == 0 {
			delete(h.handlers, topic)
		}
		empty := len(h.handlers) == 0
		onEmpty := h.onEmpty
		h.mu.Unlock()

		if empty && onEmpty != nil {
			onEmpty()
		}
	})
}

// publish calls every handler of topic outside the lock.
func (h *hub) publish(topic string) {
	h.mu.Lock()
	fns := make([]Handler, 0, len(h.handlers[topic]))
	for _, fn := range h.handlers[topic] {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (h *hub) empty() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handlers) == 0
}

func (h *hub) count(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handlers[topic])
}
