package dwt

import (
	"testing"

	"github.com/coretrace/swotrace/internal/probe/probetest"
	"github.com/coretrace/swotrace/internal/regmap"
)

type fakeLookup struct {
	addrs map[string]uint64
	sizes map[string]uint64
}

func (f fakeLookup) NameToAddr(name string) (uint64, bool) { a, ok := f.addrs[name]; return a, ok }
func (f fakeLookup) NameToSize(name string) (uint64, bool) { s, ok := f.sizes[name]; return s, ok }

func TestSetWatchAppliesAllThreeRegisters(t *testing.T) {
	p := probetest.New()
	m := NewManager()

	if err := m.SetWatch(p, 0, Entry{Addr: 0x20001000, Size: 4, GetData: true}); err != nil {
		t.Fatalf("SetWatch: %v", err)
	}
	if p.Mem[regmap.DWTComp(0)] != 0x20001000 {
		t.Errorf("DWT_COMP0 = %#x, want 0x20001000", p.Mem[regmap.DWTComp(0)])
	}
	if p.Mem[regmap.DWTMask(0)] != 2 {
		t.Errorf("DWT_MASK0 = %d, want 2", p.Mem[regmap.DWTMask(0)])
	}
	if p.Mem[regmap.DWTFunction(0)] != 0x02 {
		t.Errorf("DWT_FUNCTION0 = %#x, want 0x02", p.Mem[regmap.DWTFunction(0)])
	}
}

func TestSetWatchRejectsNonPowerOfTwoSize(t *testing.T) {
	p := probetest.New()
	m := NewManager()
	if err := m.SetWatch(p, 0, Entry{Size: 5}); err == nil {
		t.Fatal("expected error for non-power-of-two size")
	}
}

func TestSetWatchRejectsOutOfRangeIndex(t *testing.T) {
	p := probetest.New()
	m := NewManager()
	if err := m.SetWatch(p, 4, Entry{}); err == nil {
		t.Fatal("expected error for index 4 (only 0-3 valid)")
	}
}

func TestReapplyAllWritesAllFourIncludingDisabled(t *testing.T) {
	p := probetest.New()
	m := NewManager()
	_ = m.SetWatch(p, 1, Entry{Addr: 0x40000000, Size: 4, GetPC: true})

	// Clear memory to verify ReapplyAll re-issues every comparator,
	// including the three still-disabled ones.
	p.Mem = make(map[uint32]uint32)
	if err := m.ReapplyAll(p); err != nil {
		t.Fatalf("ReapplyAll: %v", err)
	}
	for i := 0; i < regmap.NumDWTComparators; i++ {
		if _, ok := p.Mem[regmap.DWTFunction(i)]; !ok {
			t.Errorf("comparator %d was not re-applied", i)
		}
	}
}

func TestSetupWatchSymbolThenAddrOverride(t *testing.T) {
	p := probetest.New()
	m := NewManager()
	lookup := fakeLookup{
		addrs: map[string]uint64{"counter": 0x20000100},
		sizes: map[string]uint64{"counter": 2},
	}

	render, err := m.SetupWatch(p, 0, lookup, "counter", nil, nil, "dw")
	if err != nil {
		t.Fatalf("SetupWatch: %v", err)
	}
	if !render.DisplayWrite {
		t.Errorf("render = %+v, want DisplayWrite true", render)
	}
	if p.Mem[regmap.DWTComp(0)] != 0x20000100 {
		t.Errorf("COMP0 = %#x, want symbol address 0x20000100", p.Mem[regmap.DWTComp(0)])
	}

	explicitAddr := uint32(0x30000000)
	_, err = m.SetupWatch(p, 0, lookup, "counter", &explicitAddr, nil, "d")
	if err != nil {
		t.Fatalf("SetupWatch with override: %v", err)
	}
	if p.Mem[regmap.DWTComp(0)] != explicitAddr {
		t.Errorf("COMP0 = %#x, want explicit override 0x30000000", p.Mem[regmap.DWTComp(0)])
	}
}

func TestSetupWatchDefaultsSizeToFour(t *testing.T) {
	p := probetest.New()
	m := NewManager()
	_, err := m.SetupWatch(p, 2, nil, "", nil, nil, "p")
	if err != nil {
		t.Fatalf("SetupWatch: %v", err)
	}
	if p.Mem[regmap.DWTMask(2)] != 2 { // log2(4) == 2
		t.Errorf("MASK2 = %d, want 2 (size 4 default)", p.Mem[regmap.DWTMask(2)])
	}
}
