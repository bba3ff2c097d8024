//go:build !linux && !darwin && !windows

package audio

// NewBackend returns a backend that reports no devices.
func NewBackend(opts Options) Backend {
	return newFFmpegEnumerator(combinedRunner(opts.Timeout), DeviceListConfig{})
}
