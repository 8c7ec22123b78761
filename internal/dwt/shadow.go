// Package dwt implements the Watchpoint Manager (spec section 4.3) and the
// DWT_CTRL shadow register (spec section 3 and 9). The shadow pattern
// mirrors the bit-level Get/Set/Clear/SetN helpers the pack's bare-metal
// register package (internal/reg in the tamago repos) uses for real
// memory-mapped registers, adapted here to operate on an in-process mirror
// instead of live memory: the shadow IS the source of truth, and every
// mutation is followed by one synchronous whole-word write to the probe —
// never a read-modify-write against the target (spec section 9: "do not
// add a read-back, it introduces a race during active tracing").
package dwt

import (
	"github.com/coretrace/swotrace/internal/probe"
	"github.com/coretrace/swotrace/internal/regmap"
)

// Bit positions within DWT_CTRL that this module manages.
const (
	bitCYCCNTENA   = 0
	posPOSTINIT    = 1 // 4-bit field, bits 4:1
	maskPOSTINIT   = 0xF
	bitCYCTAP      = 9
	bitPCSAMPLEENA = 12
	bitEXCTRCENA   = 16
)

// Shadow is the 32-bit in-memory mirror of DWT_CTRL. All updates go
// through its set/clear helpers and Apply, which writes the full word.
type Shadow struct {
	word uint32
}

func (s *Shadow) setBit(pos uint) { s.word |= 1 << pos }
func (s *Shadow) clearBit(pos uint) { s.word &^= 1 << pos }

func (s *Shadow) setField(pos uint, mask uint32, val uint32) {
	s.word = (s.word &^ (mask << pos)) | ((val & mask) << pos)
}

// Word returns the current shadow value (for tests and display).
func (s *Shadow) Word() uint32 { return s.word }

// Apply writes the full shadow word to DWT_CTRL over the probe (spec
// section 4.2: apply_dwt_ctrl).
func (s *Shadow) Apply(p probe.Probe) error {
	return p.WriteMem32(regmap.DWTCTRL, s.word)
}

// SetExceptionTracing toggles DWT_CTRL bit 16 (spec section 4.2).
func (s *Shadow) SetExceptionTracing(on bool) {
	if on {
		s.setBit(bitEXCTRCENA)
	} else {
		s.clearBit(bitEXCTRCENA)
	}
}

// SetProfiling toggles PC sampling (spec section 4.2: set_profiling). The
// "on" path sets PCSAMPLEENA, CYCTAP (sample clock = cpu/1024),
// POSTINIT/POSTPRESET to reload&0xF, and CYCCNTENA. The "off" path clears
// only PCSAMPLEENA and CYCCNTENA, leaving CYCTAP/POSTINIT untouched.
func (s *Shadow) SetProfiling(on bool, reload uint8) {
	if on {
		s.setBit(bitPCSAMPLEENA)
		s.setBit(bitCYCTAP)
		s.setField(posPOSTINIT, maskPOSTINIT, uint32(reload&0xF))
		s.setBit(bitCYCCNTENA)
	} else {
		s.clearBit(bitPCSAMPLEENA)
		s.clearBit(bitCYCCNTENA)
	}
}
