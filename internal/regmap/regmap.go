// Package regmap is a centralized reference for every Cortex-M debug
// register address this module touches. Individual components
// (internal/traceconfig, internal/dwt) own the bit-level meaning of their
// own registers; this file exists so the address map has one source of
// truth, the way registers.go does for the teacher's I/O memory map.
package regmap

// Fixed 32-bit addresses, authoritative per spec section 6.
const (
	DEMCR    = 0xE000EDFC // Debug Exception and Monitor Control Register
	TPIUSel  = 0xE0040004 // TPIU_SPPR-or-selector (pin protocol selector)
	TPIUACPR = 0xE0040010 // TPIU Async Clock Prescaler
	TPIUSPPR = 0xE00400F0 // TPIU Selected Pin Protocol Register
	TPIUFFCR = 0xE0040304 // TPIU Formatter and Flush Control Register
	DBGMCU   = 0xE0042004

	DWTCTRL = 0xE0001000

	ITMLAR = 0xE0000FB0 // ITM Lock Access Register
	ITMTCR = 0xE0000E80 // ITM Trace Control Register
	ITMTER = 0xE0000E00 // ITM Trace Enable Register, ports 0-31
)

// FPB comparator registers, zeroed during setup (not otherwise used).
var FPBComparators = [...]uint32{
	0xE0002008, 0xE000200C, 0xE0002010, 0xE0002014,
	0xE0002018, 0xE000201C, 0xE0002020, 0xE0002024,
}

// DWT comparator registers are spaced 16 bytes apart starting at DWT_COMP0.
const (
	dwtCompBase     = 0xE0001020
	dwtMaskBase     = 0xE0001024
	dwtFunctionBase = 0xE0001028
	dwtStride       = 16
)

// DWTComp returns the DWT_COMPn address for comparator n (0..3).
func DWTComp(n int) uint32 { return dwtCompBase + uint32(n)*dwtStride }

// DWTMask returns the DWT_MASKn address for comparator n (0..3).
func DWTMask(n int) uint32 { return dwtMaskBase + uint32(n)*dwtStride }

// DWTFunction returns the DWT_FUNCTIONn address for comparator n (0..3).
func DWTFunction(n int) uint32 { return dwtFunctionBase + uint32(n)*dwtStride }

// NumDWTComparators is the number of hardware data watchpoint comparators
// on the Cortex-M DWT unit this module targets.
const NumDWTComparators = 4

// Fixed register values written verbatim during setup.
const (
	DEMCRTRCENA   = 0x01000000
	TPIUSelAsync  = 0x00000001
	TPIUSPPRAsync = 0x00000002
	TPIUFFCROff   = 0x00000100
	DBGMCUValue   = 0x00000327
	ITMUnlockKey  = 0xC5ACCE55
	ITMTCRValue   = 0x00010009
	ITMTERAllOn   = 0xFFFFFFFF
)
