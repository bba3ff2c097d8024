package events

import (
	"errors"

	"github.com/oszuidwest/zwfm-micwatch/internal/audio"
)

// Multi combines sources. A subscription succeeds if at least one source
// accepts it; sources reporting ErrUnsupported are skipped.
func Multi(sources ...Source) Source {
	return multiSource(sources)
}

type multiSource []Source

func (m multiSource) subscribe(fn func(Source) (Subscription, error)) (Subscription, error) {
	var subs []Subscription
	var errs []error
	for _, s := range m {
		sub, err := fn(s)
		if err != nil {
			if !errors.Is(err, ErrUnsupported) {
				errs = append(errs, err)
			}
			continue
		}
		subs = append(subs, sub)
	}

	if len(subs) == 0 {
		if len(errs) == 0 {
			return nil, ErrUnsupported
		}
		return nil, errors.Join(errs...)
	}
	return SubscriptionFunc(func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}), nil
}

func (m multiSource) DeviceListChanged(h Handler) (Subscription, error) {
	return m.subscribe(func(s Source) (Subscription, error) { return s.DeviceListChanged(h) })
}

func (m multiSource) DefaultInputChanged(h Handler) (Subscription, error) {
	return m.subscribe(func(s Source) (Subscription, error) { return s.DefaultInputChanged(h) })
}

func (m multiSource) RunningChanged(dev audio.Device, h Handler) (Subscription, error) {
	return m.subscribe(func(s Source) (Subscription, error) { return s.RunningChanged(dev, h) })
}

func (m multiSource) MuteChanged(dev audio.Device, h Handler) (Subscription, error) {
	return m.subscribe(func(s Source) (Subscription, error) { return s.MuteChanged(dev, h) })
}

// Unsupported is a source that delivers nothing. Detection then relies on polling.
type Unsupported struct{}

func (Unsupported) DeviceListChanged(Handler) (Subscription, error) { return nil, ErrUnsupported }

func (Unsupported) DefaultInputChanged(Handler) (Subscription, error) { return nil, ErrUnsupported }

func (Unsupported) RunningChanged(audio.Device, Handler) (Subscription, error) {
	return nil, ErrUnsupported
}

func (Unsupported) MuteChanged(audio.Device, Handler) (Subscription, error) {
	return nil, ErrUnsupported
}
