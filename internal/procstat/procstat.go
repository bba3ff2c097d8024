// Package procstat reads the process table and per-process cumulative CPU time.
package procstat

import (
	"path/filepath"
	"time"
)

// Process is one process table entry.
type Process struct {
	PID  int
	Name string        // executable name
	Args []string      // command line, may be empty
	CPU  time.Duration // cumulative user+system CPU time
}

// Matches reports whether the process runs the named program, either as the
// executable itself or as a script passed to an interpreter.
func (p Process) Matches(name string) bool {
	if p.Name == name {
		return true
	}
	for i, arg := range p.Args {
		if i > 1 {
			break
		}
		if filepath.Base(arg) == name {
			return true
		}
	}
	return false
}

// Table is a snapshot source for running processes.
type Table interface {
	// Processes returns the current process table. Failures yield nil.
	Processes() []Process
}

// Find returns the lowest-PID process matching name.
func Find(t Table, name string) (Process, bool) {
	var found Process
	ok := false
	for _, p := range t.Processes() {
		if p.Matches(name) && (!ok || p.PID < found.PID) {
			found = p
			ok = true
		}
	}
	return found, ok
}

// Names returns the distinct executable names of running processes.
func Names(t Table) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, p := range t.Processes() {
		if _, dup := seen[p.Name]; dup || p.Name == "" {
			continue
		}
		seen[p.Name] = struct{}{}
		names = append(names, p.Name)
	}
	return names
}
