package events

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-micwatch/internal/audio"
	"github.com/oszuidwest/zwfm-micwatch/internal/util"
)

const (
	restartInitialDelay = 1 * time.Second
	restartMaxDelay     = 30 * time.Second
	// stableRunTime is how long a child must live before its backoff resets.
	stableRunTime = 10 * time.Second
)

var eventPattern = regexp.MustCompile(`^Event '([a-z]+)' on ([a-z-]+)(?: #(\d+))?`)

// serverEvent is one parsed "pactl subscribe" line.
type serverEvent struct {
	kind     string // new, change, remove
	facility string // source, sink, server, card, ...
	index    string
}

func parseEvent(line string) (serverEvent, bool) {
	m := eventPattern.FindStringSubmatch(line)
	if m == nil {
		return serverEvent{}, false
	}
	return serverEvent{kind: m[1], facility: m[2], index: m[3]}, true
}

// topics maps a server event to the subscription topics it fires.
func (e serverEvent) topics() []string {
	switch e.facility {
	case "source":
		if e.kind == "change" {
			if e.index == "" {
				return nil
			}
			return []string{runningTopic(e.index), muteTopic(e.index)}
		}
		return []string{topicDevices}
	case "card":
		if e.kind != "change" {
			return []string{topicDevices}
		}
	case "server":
		return []string{topicDefault}
	}
	return nil
}

// spawnFunc starts the event stream and returns its output and a wait function.
type spawnFunc func(ctx context.Context) (io.Reader, func() error, error)

// PactlSource demultiplexes one shared "pactl subscribe" child into
// per-topic notifications. The child runs while any subscription exists
// and is restarted with backoff when it exits.
type PactlSource struct {
	hub   *hub
	spawn spawnFunc
	log   *slog.Logger

	initialDelay time.Duration
	maxDelay     time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewPactlSource returns a source backed by "pactl subscribe".
func NewPactlSource(pactlPath string) *PactlSource {
	if pactlPath == "" {
		pactlPath = "pactl"
	}
	s := newPactlSource(func(ctx context.Context) (io.Reader, func() error, error) {
		cmd := exec.CommandContext(ctx, pactlPath, "subscribe")
		cmd.Env = append(os.Environ(), "LC_ALL=C")
		cmd.Cancel = func() error { return util.GracefulSignal(cmd.Process) }
		cmd.WaitDelay = 2 * time.Second
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, nil, err
		}
		if err := cmd.Start(); err != nil {
			return nil, nil, util.WrapError("start pactl subscribe", err)
		}
		return stdout, cmd.Wait, nil
	})
	return s
}

func newPactlSource(spawn spawnFunc) *PactlSource {
	s := &PactlSource{
		hub:          newHub(),
		spawn:        spawn,
		log:          slog.Default().With("component", "pactl-events"),
		initialDelay: restartInitialDelay,
		maxDelay:     restartMaxDelay,
	}
	s.hub.onEmpty = s.stopIfIdle
	return s
}

func (s *PactlSource) add(topic string, h Handler) Subscription {
	sub := s.hub.subscribe(topic, h)
	s.ensureRunning()
	return sub
}

// DeviceListChanged fires on source and card hot-plug.
func (s *PactlSource) DeviceListChanged(h Handler) (Subscription, error) {
	return s.add(topicDevices, h), nil
}

// DefaultInputChanged fires on server changes, which include the default source.
func (s *PactlSource) DefaultInputChanged(h Handler) (Subscription, error) {
	return s.add(topicDefault, h), nil
}

// RunningChanged fires on any change to the source.
func (s *PactlSource) RunningChanged(dev audio.Device, h Handler) (Subscription, error) {
	if dev.Index == "" {
		return nil, fmt.Errorf("device %q has no source index", dev.ID)
	}
	return s.add(runningTopic(dev.Index), h), nil
}

// MuteChanged fires on any change to the source.
func (s *PactlSource) MuteChanged(dev audio.Device, h Handler) (Subscription, error) {
	if dev.Index == "" {
		return nil, fmt.Errorf("device %q has no source index", dev.ID)
	}
	return s.add(muteTopic(dev.Index), h), nil
}

func (s *PactlSource) ensureRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx)
}

func (s *PactlSource) stopIfIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil || !s.hub.empty() {
		return
	}
	s.cancel()
	s.cancel = nil
}

func (s *PactlSource) run(ctx context.Context) {
	backoff := util.NewBackoff(s.initialDelay, s.maxDelay)
	for {
		started := time.Now()
		err := s.stream(ctx)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > stableRunTime {
			backoff.Reset()
		}
		s.log.Warn("event stream ended, restarting", "error", err)

		// Events may have been lost while the stream was down.
		s.hub.publish(topicDevices)

		if !backoff.Wait(ctx) {
			return
		}
	}
}

func (s *PactlSource) stream(ctx context.Context) error {
	out, wait, err := s.spawn(ctx)
	if err != nil {
		return err
	}
	scanner := bufio.NewScanner(out)
	for scanner.Scan() {
		s.handleLine(scanner.Text())
	}
	if err := wait(); err != nil {
		return err
	}
	return scanner.Err()
}

func (s *PactlSource) handleLine(line string) {
	ev, ok := parseEvent(line)
	if !ok {
		return
	}
	for _, topic := range ev.topics() {
		s.hub.publish(topic)
	}
}
