// Package dictation infers voice dictation activity from input-method changes
// and from the CPU usage of the dictation helper process.
package dictation

import (
	"strings"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-micwatch/internal/procstat"
)

// Config holds the dictation detection parameters.
type Config struct {
	HelperProcess string        // helper process name scanned by the CPU heuristic
	CPUThreshold  time.Duration // CPU consumed between ticks above which the helper counts as dictating
	InputSources  []string      // input source identifiers, or fragments, that denote dictation
}

// Detector combines the instantaneous input-source signal with the CPU heuristic.
// It is safe for concurrent use.
type Detector struct {
	cfg   Config
	procs procstat.Table

	mu            sync.Mutex
	instantaneous bool
	tracking      bool
	trackedPID    int
	lastCPU       time.Duration
}

// NewDetector creates a detector reading processes from procs.
func NewDetector(cfg Config, procs procstat.Table) *Detector {
	return &Detector{cfg: cfg, procs: procs}
}

// IsDictationSource reports whether sourceID names a dictation input method.
func (d *Detector) IsDictationSource(sourceID string) bool {
	if sourceID == "" {
		return false
	}
	id := strings.ToLower(sourceID)
	for _, s := range d.cfg.InputSources {
		if s != "" && strings.Contains(id, strings.ToLower(s)) {
			return true
		}
	}
	return false
}

// OnInputSourceChanged records the current input source. When dictation
// ends the CPU baseline is dropped so a later burst is not read as a new session.
func (d *Detector) OnInputSourceChanged(sourceID string) {
	active := d.IsDictationSource(sourceID)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.instantaneous && !active {
		d.resetLocked()
	}
	d.instantaneous = active
}

// IsActive reports dictation activity. The instantaneous signal
// short-circuits the process scan.
func (d *Detector) IsActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.instantaneous {
		return true
	}
	return d.cpuHeuristicLocked()
}

// Plausible reports whether dictation may be active: the input source names
// dictation or the helper process is being tracked.
func (d *Detector) Plausible() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.instantaneous || d.tracking
}

// Tracking returns the tracked helper PID and its last CPU reading.
func (d *Detector) Tracking() (pid int, cpu time.Duration, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.trackedPID, d.lastCPU, d.tracking
}

func (d *Detector) cpuHeuristicLocked() bool {
	if d.cfg.HelperProcess == "" || d.procs == nil {
		return false
	}

	proc, found := procstat.Find(d.procs, d.cfg.HelperProcess)
	if !found {
		d.resetLocked()
		return false
	}

	// First sighting only establishes the baseline.
	if !d.tracking || proc.PID != d.trackedPID {
		d.tracking = true
		d.trackedPID = proc.PID
		d.lastCPU = proc.CPU
		return false
	}

	delta := proc.CPU - d.lastCPU
	d.lastCPU = proc.CPU
	return delta > d.cfg.CPUThreshold
}

func (d *Detector) resetLocked() {
	d.tracking = false
	d.trackedPID = 0
	d.lastCPU = 0
}
