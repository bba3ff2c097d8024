package dictation

import (
	"github.com/oszuidwest/zwfm-micwatch/internal/events"
)

// SourceWatcher observes the active keyboard/input-method source.
type SourceWatcher interface {
	// Watch calls h with the new source identifier on every change.
	Watch(h func(sourceID string)) (events.Subscription, error)
	// Current returns the active source identifier.
	Current() (string, bool)
}

// NoopWatcher reports no input source and never fires.
type NoopWatcher struct{}

// Watch reports that input source notifications are unavailable.
func (NoopWatcher) Watch(func(string)) (events.Subscription, error) {
	return nil, events.ErrUnsupported
}

// Current reports no source.
func (NoopWatcher) Current() (string, bool) { return "", false }
