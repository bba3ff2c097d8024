package detector

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Poller is the re-evaluation timer. The interval shortens while activity is
// plausible and is only rescheduled when the selected interval changes.
type Poller struct {
	clock  clockwork.Clock
	fast   time.Duration
	normal time.Duration

	ticker  clockwork.Ticker
	current time.Duration
}

// NewPoller creates a stopped poller.
func NewPoller(clock clockwork.Clock, fast, normal time.Duration) *Poller {
	return &Poller{clock: clock, fast: fast, normal: normal}
}

// Start begins ticking at the normal interval. It is a no-op while running.
func (p *Poller) Start() {
	if p.ticker != nil {
		return
	}
	p.ticker = p.clock.NewTicker(p.normal)
	p.current = p.normal
}

// Stop cancels the timer. It is safe to call when stopped.
func (p *Poller) Stop() {
	if p.ticker == nil {
		return
	}
	p.ticker.Stop()
	p.ticker = nil
	p.current = 0
}

// C returns the tick channel, or nil while stopped.
func (p *Poller) C() <-chan time.Time {
	if p.ticker == nil {
		return nil
	}
	return p.ticker.Chan()
}

// Adjust selects the fast interval when activity is plausible and the normal
// one otherwise. It reports whether the timer was rescheduled.
func (p *Poller) Adjust(plausible bool) bool {
	if p.ticker == nil {
		return false
	}
	want := p.normal
	if plausible {
		want = p.fast
	}
	if want == p.current {
		return false
	}
	p.ticker.Reset(want)
	p.current = want
	return true
}

// SetIntervals replaces both intervals. A running poller keeps its
// fast or normal selection and is rescheduled if that interval changed.
func (p *Poller) SetIntervals(fast, normal time.Duration) bool {
	wasFast := p.ticker != nil && p.current == p.fast && p.current != p.normal
	p.fast, p.normal = fast, normal
	return p.Adjust(wasFast)
}

// Interval returns the scheduled interval, zero while stopped.
func (p *Poller) Interval() time.Duration {
	return p.current
}
