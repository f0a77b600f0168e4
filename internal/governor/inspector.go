package governor

import (
	"errors"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Process is one helper candidate.
type Process struct {
	PID     int32
	Name    string
	Created time.Time
}

// ProcessInspector is the OS introspection the governor relies on. Any
// method may fail on platforms gopsutil does not cover.
type ProcessInspector interface {
	SelfRSS() (uint64, error)
	// Descendants lists every process spawned (directly or not) by this one.
	Descendants() ([]Process, error)
	Kill(pid int32) error
}

// HostInspector implements ProcessInspector with gopsutil.
type HostInspector struct {
	pid int32
}

func NewHostInspector() *HostInspector {
	return &HostInspector{pid: int32(os.Getpid())}
}

func (h *HostInspector) SelfRSS() (uint64, error) {
	p, err := process.NewProcess(h.pid)
	if err != nil {
		return 0, err
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return mem.RSS, nil
}

func (h *HostInspector) Descendants() ([]Process, error) {
	self, err := process.NewProcess(h.pid)
	if err != nil {
		return nil, err
	}
	var out []Process
	if err := collect(self, &out, 0); err != nil {
		return nil, err
	}
	return out, nil
}

func collect(p *process.Process, out *[]Process, depth int) error {
	if depth > 8 {
		return nil
	}
	children, err := p.Children()
	if err != nil {
		if errors.Is(err, process.ErrorNoChildren) {
			return nil
		}
		return err
	}
	for _, c := range children {
		name, err := c.Name()
		if err != nil {
			// exited between listing and inspection
			continue
		}
		created, _ := c.CreateTime()
		*out = append(*out, Process{PID: c.Pid, Name: name, Created: time.UnixMilli(created)})
		if err := collect(c, out, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (h *HostInspector) Kill(pid int32) error {
	p, err := process.NewProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
