//go:build windows

package util

import "os"

// ShutdownSignals returns the signals to listen for graceful shutdown.
func ShutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// GracefulSignal terminates a helper process. Windows has no SIGTERM, so this kills.
func GracefulSignal(p *os.Process) error {
	return p.Kill()
}
