// Package probetest provides a fake probe.Probe for exercising the
// configurator, watchpoint manager, and pump without real hardware.
package probetest

import (
	"sync"

	"github.com/coretrace/swotrace/internal/traceerr"
)

// Fake is an in-memory probe.Probe. Zero value is ready to use (Mem is
// allocated on the first write) with
// Voltage defaulting to 0; set it before use or calls to TargetVoltage
// will read as a power-loss condition.
type Fake struct {
	mu sync.Mutex

	Mem     map[uint32]uint32
	Voltage float64
	Core    uint32

	TraceQueue [][]byte // successive ReadTrace() return values
	Running    bool

	WriteErr error // if set, WriteMem32/ReadMem32 fail with this
	ReadErr  error // if set, ReadTrace/TraceBufferedCount fail with this

	LeaveCalls int
	EnterCalls int
	SetupCalls int // bumped by callers that want to observe re-configuration
}

// New returns a Fake with an empty register map and 3.3V target voltage.
func New() *Fake {
	return &Fake{Mem: make(map[uint32]uint32), Voltage: 3.3}
}

func (f *Fake) WriteMem32(addr uint32, value uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WriteErr != nil {
		return f.WriteErr
	}
	if f.Mem == nil {
		f.Mem = make(map[uint32]uint32)
	}
	f.Mem[addr] = value
	return nil
}

func (f *Fake) ReadMem32(addr uint32) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WriteErr != nil {
		return 0, f.WriteErr
	}
	return f.Mem[addr], nil
}

func (f *Fake) TargetVoltage() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Voltage, nil
}

func (f *Fake) CoreID() (uint32, error) {
	return f.Core, nil
}

func (f *Fake) StartTraceRX() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Running = true
	return nil
}

func (f *Fake) StopTraceRX() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Running = false
	return nil
}

func (f *Fake) TraceBufferedCount() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadErr != nil {
		return 0, f.ReadErr
	}
	if len(f.TraceQueue) == 0 {
		return 0, nil
	}
	return len(f.TraceQueue[0]), nil
}

func (f *Fake) ReadTrace() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadErr != nil {
		return nil, f.ReadErr
	}
	if len(f.TraceQueue) == 0 {
		return nil, nil
	}
	block := f.TraceQueue[0]
	f.TraceQueue = f.TraceQueue[1:]
	return block, nil
}

func (f *Fake) LeaveState() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.LeaveCalls++
	return nil
}

func (f *Fake) EnterDebugSWD() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.EnterCalls++
	return nil
}

func (f *Fake) Close() error { return nil }

// Unavailable returns a probe.OpenFunc-compatible error for tests covering
// the no-probe-attached path.
func Unavailable() error {
	return traceerr.ErrProbeUnavailable
}
