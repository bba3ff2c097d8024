//go:build !linux

package events

// NewPlatformSource returns a source without push notifications; detection
// on this platform relies on the poller.
func NewPlatformSource(_, _ string) Source {
	return Unsupported{}
}
