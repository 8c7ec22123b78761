package dwt

import (
	"fmt"
	"strings"

	"github.com/coretrace/swotrace/internal/probe"
	"github.com/coretrace/swotrace/internal/regmap"
	"github.com/coretrace/swotrace/internal/traceerr"
)

// RenderFlags are the three flag-string bits (spec section 4.3) that do
// not correspond to hardware: r (display reads), w (display writes), and
// u (deduplicate repeats). internal/dispatch consumes these per DWT index.
type RenderFlags struct {
	DisplayRead  bool
	DisplayWrite bool
	Unique       bool
}

// SymbolLookup is the subset of the Symbol Resolver that SetupWatch needs.
type SymbolLookup interface {
	NameToAddr(name string) (uint64, bool)
	NameToSize(name string) (uint64, bool)
}

// Manager holds the desired state of DWT0-3 and keeps it applied against
// the live target (spec section 4.3).
type Manager struct {
	entries [regmap.NumDWTComparators]Entry
	render  [regmap.NumDWTComparators]RenderFlags
}

// NewManager returns a Manager with all four comparators disabled.
func NewManager() *Manager {
	return &Manager{}
}

// Entry returns the current desired configuration of comparator idx.
func (m *Manager) Entry(idx int) Entry { return m.entries[idx] }

// RenderFlags returns the display flags for comparator idx.
func (m *Manager) RenderFlags(idx int) RenderFlags { return m.render[idx] }

// SetWatch updates comparator idx's desired entry and immediately applies
// it against the live target (spec section 4.3: "any set_watch call both
// updates the entry and applies it").
func (m *Manager) SetWatch(p probe.Probe, idx int, e Entry) error {
	if err := m.checkIndex(idx); err != nil {
		return err
	}
	if !e.IsPowerOfTwo() {
		return traceerr.New("dwt.SetWatch", traceerr.KindConfigInvalid,
			fmt.Errorf("size %d is not a power of two", e.Size))
	}
	m.entries[idx] = e
	return m.apply(p, idx)
}

func (m *Manager) checkIndex(idx int) error {
	if idx < 0 || idx >= regmap.NumDWTComparators {
		return traceerr.New("dwt", traceerr.KindConfigInvalid, fmt.Errorf("comparator index %d out of range", idx))
	}
	return nil
}

// apply writes comparator idx's current entry to the target (spec section
// 4.3's application formula), regardless of whether it is enabled —
// disabled entries still get function 0 written so the comparator is
// cleanly idle.
func (m *Manager) apply(p probe.Probe, idx int) error {
	e := m.entries[idx]
	if err := p.WriteMem32(regmap.DWTComp(idx), e.Addr); err != nil {
		return traceerr.New("dwt.apply(COMP)", traceerr.KindTransportError, err)
	}
	if err := p.WriteMem32(regmap.DWTMask(idx), e.Mask()); err != nil {
		return traceerr.New("dwt.apply(MASK)", traceerr.KindTransportError, err)
	}
	if err := p.WriteMem32(regmap.DWTFunction(idx), e.Function()); err != nil {
		return traceerr.New("dwt.apply(FUNCTION)", traceerr.KindTransportError, err)
	}
	return nil
}

// ReapplyAll re-applies all four comparators, including disabled ones
// (spec section 4.3: after a power-cycle recovery, "all four entries are
// re-applied, including disabled (function=0) ones to ensure clean
// state").
func (m *Manager) ReapplyAll(p probe.Probe) error {
	for idx := 0; idx < regmap.NumDWTComparators; idx++ {
		if err := m.apply(p, idx); err != nil {
			return err
		}
	}
	return nil
}

// SetupWatch is the CLI-facing helper from spec section 4.3: it resolves a
// symbol (if given), lets an explicit addr/size override the symbol's, and
// applies the defaults from §4.3 (size 4 if neither source provides one).
// flags is parsed one rune at a time: d/p/o set the hardware DWT_FUNCTIONn
// bits, r/w/u set RenderFlags consumed by internal/dispatch.
func (m *Manager) SetupWatch(p probe.Probe, idx int, lookup SymbolLookup, sym string, addr, size *uint32, flags string) (RenderFlags, error) {
	if err := m.checkIndex(idx); err != nil {
		return RenderFlags{}, err
	}

	var resolvedAddr, resolvedSize uint32
	if sym != "" && lookup != nil {
		if a, ok := lookup.NameToAddr(sym); ok {
			resolvedAddr = uint32(a)
		}
		if s, ok := lookup.NameToSize(sym); ok {
			resolvedSize = uint32(s)
		}
	}

	finalAddr := resolvedAddr
	if addr != nil {
		finalAddr = *addr // explicit addr overrides symbol lookup
	}
	finalSize := resolvedSize
	if size != nil {
		finalSize = *size // explicit size overrides map-derived size
	}
	if finalSize == 0 {
		finalSize = 4 // default if neither source provides one
	}

	getPC, getData, getOffset, render := parseFlags(flags)

	entry := Entry{Addr: finalAddr, Size: finalSize, GetPC: getPC, GetData: getData, GetOffset: getOffset}
	if err := m.SetWatch(p, idx, entry); err != nil {
		return RenderFlags{}, err
	}
	m.render[idx] = render
	return render, nil
}

func parseFlags(flags string) (getPC, getData, getOffset bool, render RenderFlags) {
	for _, r := range strings.ToLower(flags) {
		switch r {
		case 'd':
			getData = true
		case 'p':
			getPC = true
		case 'o':
			getOffset = true
		case 'r':
			render.DisplayRead = true
		case 'w':
			render.DisplayWrite = true
		case 'u':
			render.Unique = true
		}
	}
	return
}
