//go:build linux

package events

// NewPlatformSource returns the sound server event stream combined with
// device node hot-plug watching.
func NewPlatformSource(pactlPath, deviceDir string) Source {
	if deviceDir == "" {
		deviceDir = "/dev/snd"
	}
	return Multi(NewPactlSource(pactlPath), NewHotplugWatcher(deviceDir))
}
