// Package probe defines the contract this module needs from the underlying
// USB debug-probe transport (an ST-Link V2 in practice). The transport
// itself — USB enumeration, the ST-Link vendor protocol framing, SWD line
// state control — is an external collaborator (spec section 1); this
// package only declares the primitives the driver and pump assume are
// available, so the rest of the module can be built and tested against a
// fake.
package probe

import "context"

// Probe is the set of operations the trace configurator, watchpoint
// manager, and SWO pump perform against the debug probe. Implementations
// must be safe to use from a single goroutine at a time; the module's own
// concurrency model (spec section 5) never calls a Probe method from two
// goroutines concurrently.
type Probe interface {
	// WriteMem32 writes a single 32-bit word to a target memory address.
	WriteMem32(addr uint32, value uint32) error

	// ReadMem32 reads a single 32-bit word from a target memory address.
	ReadMem32(addr uint32) (uint32, error)

	// TargetVoltage reports the measured target supply voltage in volts.
	TargetVoltage() (float64, error)

	// CoreID reads the SWD core identification code (e.g. the Cortex-M
	// DAP IDCODE), used only for session.CoreID().
	CoreID() (uint32, error)

	// StartTraceRX begins buffering SWO bytes on the probe side.
	StartTraceRX() error

	// StopTraceRX stops buffering SWO bytes on the probe side.
	StopTraceRX() error

	// TraceBufferedCount reports how many SWO bytes are currently
	// buffered on the probe, without consuming them.
	TraceBufferedCount() (int, error)

	// ReadTrace reads and consumes whatever SWO bytes are currently
	// buffered. It may return fewer bytes than TraceBufferedCount
	// reported; callers must not assume a fixed block size.
	ReadTrace() ([]byte, error)

	// LeaveState and EnterDebugSWD re-establish the SWD debug connection
	// after a target power cycle (spec section 4.4, power-loss recovery).
	LeaveState() error
	EnterDebugSWD() error

	// Close releases the underlying USB handle. Safe to call once the
	// pump has fully stopped.
	Close() error
}

// OpenFunc constructs a Probe, returning ErrProbeUnavailable (wrapped) if no
// compatible probe is attached. Concrete transports (e.g. an ST-Link HID
// adapter) implement this signature; cmd/swotrace selects one at startup.
type OpenFunc func(ctx context.Context) (Probe, error)
