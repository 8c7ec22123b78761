package dwt

import (
	"testing"

	"github.com/coretrace/swotrace/internal/probe/probetest"
	"github.com/coretrace/swotrace/internal/regmap"
)

func TestShadowExceptionTracingBit(t *testing.T) {
	var s Shadow
	s.SetExceptionTracing(true)
	if s.Word()&(1<<16) == 0 {
		t.Fatalf("word = %#x, want bit 16 set", s.Word())
	}
	s.SetExceptionTracing(false)
	if s.Word() != 0 {
		t.Fatalf("word = %#x, want 0 after clearing", s.Word())
	}
}

func TestShadowProfilingOnSetsExpectedBits(t *testing.T) {
	var s Shadow
	s.SetProfiling(true, 7)
	word := s.Word()

	if word&(1<<12) == 0 {
		t.Errorf("PCSAMPLEENA (bit 12) not set: %#x", word)
	}
	if word&(1<<9) == 0 {
		t.Errorf("CYCTAP (bit 9) not set: %#x", word)
	}
	if word&(1<<0) == 0 {
		t.Errorf("CYCCNTENA (bit 0) not set: %#x", word)
	}
	if field := (word >> 1) & 0xF; field != 7 {
		t.Errorf("POSTINIT field = %d, want 7", field)
	}
}

func TestShadowProfilingOffLeavesCyctapAndPostinit(t *testing.T) {
	var s Shadow
	s.SetProfiling(true, 9)
	s.SetProfiling(false, 0)
	word := s.Word()

	if word&(1<<12) != 0 || word&(1<<0) != 0 {
		t.Fatalf("word = %#x, want PCSAMPLEENA and CYCCNTENA cleared", word)
	}
	if word&(1<<9) == 0 {
		t.Errorf("CYCTAP cleared by profiling off, want it left alone: %#x", word)
	}
	if field := (word >> 1) & 0xF; field != 9 {
		t.Errorf("POSTINIT field changed by profiling off: got %d, want 9", field)
	}
}

func TestShadowApplyWritesWholeWordNoReadback(t *testing.T) {
	p := probetest.New()
	var s Shadow
	s.SetExceptionTracing(true)
	s.SetProfiling(true, 3)

	if err := s.Apply(p); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := p.Mem[regmap.DWTCTRL]; got != s.Word() {
		t.Fatalf("DWT_CTRL = %#x, want %#x", got, s.Word())
	}
}
