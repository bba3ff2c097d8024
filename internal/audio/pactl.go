package audio

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// pactlBlock is one "Source #N" or "Source Output #N" section of pactl list output.
type pactlBlock struct {
	index  string
	fields map[string]string
	props  map[string]string
}

// parsePactlBlocks splits pactl list output into sections introduced by header.
// Top-level fields are indented by one tab; properties are "key = "value"" lines
// indented by two tabs.
func parsePactlBlocks(output, header string) []pactlBlock {
	var blocks []pactlBlock
	var cur *pactlBlock
	prefix := header + " #"

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, prefix) {
			blocks = append(blocks, pactlBlock{
				index:  strings.TrimSpace(strings.TrimPrefix(line, prefix)),
				fields: make(map[string]string),
				props:  make(map[string]string),
			})
			cur = &blocks[len(blocks)-1]
			continue
		}
		if cur == nil || strings.TrimSpace(line) == "" {
			continue
		}
		if !strings.HasPrefix(line, "\t") {
			// Another section type.
			cur = nil
			continue
		}

		if strings.HasPrefix(line, "\t\t") {
			key, value, ok := strings.Cut(strings.TrimSpace(line), " = ")
			if ok {
				cur.props[key] = strings.Trim(value, `"`)
			}
			continue
		}

		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if ok {
			cur.fields[key] = strings.TrimSpace(value)
		}
	}
	return blocks
}

// sourceFromBlock converts a parsed source section to a Device.
func sourceFromBlock(b pactlBlock) Device {
	name := b.fields["Name"]
	dev := Device{
		ID:      DeviceID(name),
		Index:   b.index,
		Name:    b.fields["Description"],
		Running: b.fields["State"] == "RUNNING",
	}
	if dev.Name == "" {
		dev.Name = name
	}

	monitorOf := b.fields["Monitor of Sink"]
	isMonitor := (monitorOf != "" && monitorOf != "n/a") ||
		strings.HasSuffix(name, ".monitor") ||
		b.props["device.class"] == "monitor"
	dev.HasInput = !isMonitor

	switch b.fields["Mute"] {
	case "yes":
		muted := true
		dev.Muted = &muted
	case "no":
		muted := false
		dev.Muted = &muted
	}
	return dev
}

// PactlEnumerator queries PulseAudio or PipeWire through the pactl client.
type PactlEnumerator struct {
	path    string
	run     Runner
	selfPID int
}

// NewPactlEnumerator returns an enumerator that shells out to pactl at path.
func NewPactlEnumerator(path string, run Runner) *PactlEnumerator {
	if path == "" {
		path = "pactl"
	}
	if run == nil {
		run = ExecRunner(defaultTimeout)
	}
	return &PactlEnumerator{path: path, run: run, selfPID: os.Getpid()}
}

func (e *PactlEnumerator) pactl(args ...string) (string, bool) {
	out, err := e.run(context.Background(), e.path, args...)
	if err != nil {
		slog.Debug("pactl query failed", "args", strings.Join(args, " "), "error", err)
		return "", false
	}
	return string(out), true
}

// sources returns every source, monitors included.
func (e *PactlEnumerator) sources() []Device {
	out, ok := e.pactl("list", "sources")
	if !ok {
		return nil
	}
	blocks := parsePactlBlocks(out, "Source")
	devices := make([]Device, 0, len(blocks))
	for _, b := range blocks {
		devices = append(devices, sourceFromBlock(b))
	}
	return devices
}

// InputDevices returns all non-monitor sources.
func (e *PactlEnumerator) InputDevices() []Device {
	var inputs []Device
	for _, d := range e.sources() {
		if d.HasInput {
			inputs = append(inputs, d)
		}
	}
	return inputs
}

func (e *PactlEnumerator) lookup(id DeviceID) (Device, bool) {
	for _, d := range e.InputDevices() {
		if d.ID == id {
			return d, true
		}
	}
	return Device{}, false
}

// IsRunning reports whether the source is in the RUNNING state.
func (e *PactlEnumerator) IsRunning(id DeviceID) bool {
	d, ok := e.lookup(id)
	return ok && d.Running
}

// IsMuted returns the mute state, or nil when unknown.
func (e *PactlEnumerator) IsMuted(id DeviceID) *bool {
	d, ok := e.lookup(id)
	if !ok {
		return nil
	}
	return d.Muted
}

// Name returns the source description.
func (e *PactlEnumerator) Name(id DeviceID) (string, bool) {
	d, ok := e.lookup(id)
	if !ok {
		return "", false
	}
	return d.Name, true
}

// DefaultInput returns the default source if it is an input device.
func (e *PactlEnumerator) DefaultInput() (Device, bool) {
	out, ok := e.pactl("get-default-source")
	if !ok {
		return Device{}, false
	}
	name := strings.TrimSpace(out)
	if name == "" {
		return Device{}, false
	}
	return e.lookup(DeviceID(name))
}

// CaptureInUse inspects source outputs for an uncorked stream owned by another process.
func (e *PactlEnumerator) CaptureInUse() (inUse bool, deviceName string) {
	out, ok := e.pactl("list", "source-outputs")
	if !ok {
		return false, ""
	}
	return captureInUse(parsePactlBlocks(out, "Source Output"), e.InputDevices(), e.selfPID)
}

func captureInUse(outputs []pactlBlock, inputs []Device, selfPID int) (bool, string) {
	byIndex := make(map[string]Device, len(inputs))
	for _, d := range inputs {
		byIndex[d.Index] = d
	}

	for _, o := range outputs {
		if o.fields["Corked"] == "yes" {
			continue
		}
		if pid, err := strconv.Atoi(o.props["application.process.id"]); err == nil && pid == selfPID {
			continue
		}
		if dev, ok := byIndex[o.fields["Source"]]; ok {
			return true, dev.Name
		}
	}
	return false, ""
}
