package procstat

import (
	"context"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/process"
)

// scanTimeout bounds one walk of the process table.
const scanTimeout = 2 * time.Second

// handle is the per-process view a scan reads. *process.Process satisfies it.
type handle interface {
	NameWithContext(ctx context.Context) (string, error)
	CmdlineSliceWithContext(ctx context.Context) ([]string, error)
	TimesWithContext(ctx context.Context) (*cpu.TimesStat, error)
}

type entry struct {
	pid int
	h   handle
}

// System is the host process table.
type System struct {
	list func(ctx context.Context) ([]entry, error)
}

// NewTable returns the process table of the running host.
func NewTable() *System {
	return &System{list: listHost}
}

func listHost(ctx context.Context) ([]entry, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]entry, 0, len(procs))
	for _, p := range procs {
		entries = append(entries, entry{pid: int(p.Pid), h: p})
	}
	return entries, nil
}

// Processes implements Table. Processes that exit mid-scan are skipped; CPU
// is zero where the host does not expose it to this user.
func (s *System) Processes() []Process {
	ctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
	defer cancel()

	entries, err := s.list(ctx)
	if err != nil {
		slog.Debug("process scan failed", "error", err)
		return nil
	}

	procs := make([]Process, 0, len(entries))
	for _, e := range entries {
		name, err := e.h.NameWithContext(ctx)
		if err != nil || name == "" {
			continue
		}
		p := Process{PID: e.pid, Name: name}
		if args, err := e.h.CmdlineSliceWithContext(ctx); err == nil {
			p.Args = args
		}
		if times, err := e.h.TimesWithContext(ctx); err == nil && times != nil {
			p.CPU = cpuTime(times)
		}
		procs = append(procs, p)
	}
	return procs
}

// cpuTime converts user+system seconds to a duration.
func cpuTime(t *cpu.TimesStat) time.Duration {
	return time.Duration((t.User + t.System) * float64(time.Second)).Round(time.Millisecond)
}
