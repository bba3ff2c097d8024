package dictation

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/oszuidwest/zwfm-micwatch/internal/events"
	"github.com/oszuidwest/zwfm-micwatch/internal/util"
)

const (
	ibusInterface     = "org.freedesktop.IBus"
	ibusEngineChanged = "GlobalEngineChanged"
	ibusTimeout       = 2 * time.Second
)

var errNoIBus = errors.New("ibus bus address not available")

// IBusWatcher follows the IBus global engine over the IBus D-Bus connection.
type IBusWatcher struct {
	ibusPath string
	log      *slog.Logger
	run      func(ctx context.Context, args ...string) (string, error)
	connect  func(address string) (*dbus.Conn, error)

	mu   sync.Mutex
	conn *dbus.Conn
}

// NewIBusWatcher returns a watcher using the ibus CLI at ibusPath.
func NewIBusWatcher(ibusPath string) *IBusWatcher {
	if ibusPath == "" {
		ibusPath = "ibus"
	}
	w := &IBusWatcher{
		ibusPath: ibusPath,
		log:      slog.Default().With("component", "ibus"),
		connect: func(address string) (*dbus.Conn, error) {
			return dbus.Connect(address)
		},
	}
	w.run = func(ctx context.Context, args ...string) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, ibusTimeout)
		defer cancel()
		out, err := exec.CommandContext(ctx, w.ibusPath, args...).Output()
		return strings.TrimSpace(string(out)), err
	}
	return w
}

func (w *IBusWatcher) address() (string, error) {
	if addr := os.Getenv("IBUS_ADDRESS"); addr != "" {
		return addr, nil
	}
	addr, err := w.run(context.Background(), "address")
	if err != nil {
		return "", util.WrapError("query ibus address", err)
	}
	if addr == "" || addr == "(null)" {
		return "", errNoIBus
	}
	return addr, nil
}

// Current returns the active IBus engine name.
func (w *IBusWatcher) Current() (string, bool) {
	engine, err := w.run(context.Background(), "engine")
	if err != nil || engine == "" {
		return "", false
	}
	return engine, true
}

// Watch subscribes to GlobalEngineChanged signals. Only one watch may be active.
func (w *IBusWatcher) Watch(h func(sourceID string)) (events.Subscription, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		return nil, errors.New("ibus watch already active")
	}

	addr, err := w.address()
	if err != nil {
		return nil, err
	}
	conn, err := w.connect(addr)
	if err != nil {
		return nil, util.WrapError("connect to ibus", err)
	}
	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(ibusInterface),
		dbus.WithMatchMember(ibusEngineChanged),
	); err != nil {
		_ = conn.Close()
		return nil, util.WrapError("add ibus signal match", err)
	}

	// The connection closes signals itself on Close or when the bus drops.
	signals := make(chan *dbus.Signal, 10)
	conn.Signal(signals)
	w.conn = conn

	unsubscribed := make(chan struct{})
	var once sync.Once

	go func() {
		for sig := range signals {
			if engine, ok := engineFromSignal(sig); ok {
				h(engine)
			}
		}
		select {
		case <-unsubscribed:
			return
		default:
		}
		w.log.Warn("ibus connection lost")
		w.release(conn)
		h("")
	}()

	return events.SubscriptionFunc(func() {
		once.Do(func() {
			close(unsubscribed)
			if err := conn.Close(); err != nil {
				w.log.Debug("closing ibus connection failed", "error", err)
			}
			w.release(conn)
		})
	}), nil
}

// release forgets conn so a later Watch can connect again.
func (w *IBusWatcher) release(conn *dbus.Conn) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == conn {
		w.conn = nil
	}
}

func engineFromSignal(sig *dbus.Signal) (string, bool) {
	if sig == nil || sig.Name != ibusInterface+"."+ibusEngineChanged || len(sig.Body) == 0 {
		return "", false
	}
	engine, ok := sig.Body[0].(string)
	return engine, ok
}
