package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/oszuidwest/zwfm-micwatch/internal/audio"
	"github.com/oszuidwest/zwfm-micwatch/internal/util"
)

// hotplugDebounce coalesces the burst of node events a single plug produces.
const hotplugDebounce = 250 * time.Millisecond

// HotplugWatcher reports device-list changes when device nodes appear or
// disappear in a directory such as /dev/snd. It delivers no per-device events.
type HotplugWatcher struct {
	dir string
	hub *hub
	log *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewHotplugWatcher returns a watcher for dir.
func NewHotplugWatcher(dir string) *HotplugWatcher {
	w := &HotplugWatcher{
		dir: dir,
		hub: newHub(),
		log: slog.Default().With("component", "hotplug"),
	}
	w.hub.onEmpty = w.stopIfIdle
	return w
}

// DeviceListChanged fires when device nodes are created or removed.
func (w *HotplugWatcher) DeviceListChanged(h Handler) (Subscription, error) {
	sub := w.hub.subscribe(topicDevices, h)
	if err := w.ensureWatching(); err != nil {
		sub.Unsubscribe()
		return nil, err
	}
	return sub, nil
}

// DefaultInputChanged is not observable from device nodes.
func (w *HotplugWatcher) DefaultInputChanged(Handler) (Subscription, error) {
	return nil, ErrUnsupported
}

// RunningChanged is not observable from device nodes.
func (w *HotplugWatcher) RunningChanged(audio.Device, Handler) (Subscription, error) {
	return nil, ErrUnsupported
}

// MuteChanged is not observable from device nodes.
func (w *HotplugWatcher) MuteChanged(audio.Device, Handler) (Subscription, error) {
	return nil, ErrUnsupported
}

func (w *HotplugWatcher) ensureWatching() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return util.WrapError("create device watcher", err)
	}
	if err := watcher.Add(w.dir); err != nil {
		_ = watcher.Close()
		return util.WrapError("watch "+w.dir, err)
	}

	w.watcher = watcher
	w.done = make(chan struct{})
	go w.loop(watcher, w.done)
	return nil
}

func (w *HotplugWatcher) stopIfIdle() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil || !w.hub.empty() {
		return
	}
	close(w.done)
	if err := w.watcher.Close(); err != nil {
		w.log.Debug("closing device watcher failed", "error", err)
	}
	w.watcher = nil
}

func (w *HotplugWatcher) loop(watcher *fsnotify.Watcher, done <-chan struct{}) {
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-done:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(hotplugDebounce, func() {
				w.hub.publish(topicDevices)
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("device watcher error", "error", err)
		}
	}
}
