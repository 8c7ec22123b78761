// Package tpiu implements the TPIU/ITM byte-fed parser (spec section 4.5):
// a table-driven state machine, re-architected per spec section 9 as a
// tagged discriminant over {WaitingForHeader, SoftwareBody, HardwareBody}
// rather than the teacher-adjacent polymorphic-state-object style, since
// spec section 9 explicitly calls for this: allocation-free, one dispatch
// over the current tag.
package tpiu

// HSPSubtype classifies a Hardware Source Packet (spec section 3).
type HSPSubtype int

const (
	HSPEventCount HSPSubtype = iota
	HSPExceptionTrace
	HSPPCSample
	HSPDataTracePC
	HSPDataTraceOffset
	HSPDataTraceData
	HSPUnknown
)

func (s HSPSubtype) String() string {
	switch s {
	case HSPEventCount:
		return "EventCount"
	case HSPExceptionTrace:
		return "ExceptionTrace"
	case HSPPCSample:
		return "PCSample"
	case HSPDataTracePC:
		return "DataTracePC"
	case HSPDataTraceOffset:
		return "DataTraceOffset"
	case HSPDataTraceData:
		return "DataTraceData"
	default:
		return "Unknown"
	}
}

// SIT is a completed Software Instrumentation Trace frame (spec section 3).
type SIT struct {
	Chan int
	Data []byte
	Sum  uint32
}

// HSP is a completed Hardware Source Packet (spec section 3). DWTIndex is
// only meaningful for the DataTrace* subtypes; IsWrite only for
// DataTraceData.
type HSP struct {
	Subtype  HSPSubtype
	DWTIndex int
	IsWrite  bool
	Value    uint32
}

// Handlers are the named callbacks the parser invokes as it completes each
// frame (spec section 4.5: "it calls handlers registered by name"). A nil
// handler is simply skipped.
type Handlers struct {
	OnOverflow func()
	OnSync     func()
	OnSIT      func(SIT)
	OnHSP      func(HSP)
	OnDuffByte func(byte)
}
