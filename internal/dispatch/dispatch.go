// Package dispatch implements the Event Dispatcher (spec section 4.7): it
// consumes typed tpiu.Parser events and renders them to an operator-facing
// text sink, deriving PC-sample histograms, exception traces, and data
// watchpoint hits along the way.
package dispatch

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/coretrace/swotrace/internal/dwt"
	"github.com/coretrace/swotrace/internal/scripting"
	"github.com/coretrace/swotrace/internal/termio"
	"github.com/coretrace/swotrace/internal/timestamp"
	"github.com/coretrace/swotrace/internal/tpiu"
)

// Stimulus ports with structured meaning (spec section 3, glossary).
const (
	chanTextFirst  = 0
	chanTextLast   = 7
	chanTimestamp  = 8
	chanQFSigDisp  = 9
	chanQFStateEnt = 11
)

// FunctionResolver is the subset of the Symbol Resolver the dispatcher
// needs: resolving a PC to its containing function, and resolving a raw
// address to a known symbol name.
type FunctionResolver interface {
	AddrToFunction(addr uint64) string
	AddrToName(addr uint64) (string, bool)
}

// WatchInfo is looked up per DWT index to decide how a DataTraceData event
// renders (spec section 4.7): the flags from setup_watch, and the name of
// whatever is being watched (falls back to "DWT<i>" if unnamed).
type WatchInfo struct {
	Render dwt.RenderFlags
	Name   string // watched symbol name, or "" to fall back to "DWT<i>"
}

// Dispatcher renders parsed trace events to Out (default os.Stdout).
type Dispatcher struct {
	Out      io.Writer
	Resolver FunctionResolver
	Watches  [4]WatchInfo
	// Triggers optionally attaches a Lua trigger script to a DWT index
	// (spec section 6 supplement: per-watchpoint scripting). A nil entry
	// means hits for that index are not filtered by a script; the render
	// flags and dedup still apply.
	Triggers [4]*scripting.Trigger

	// ProfileInterval is the gprof display epoch (spec section 3:
	// "Gprof Histogram ... reset on each display epoch (≈0.7 s)").
	ProfileInterval time.Duration
	// Now lets tests control epoch timing; defaults to time.Now.
	Now func() time.Time
	// Width reports the terminal column width for sizing histogram bars;
	// defaults to termio.Width. Overridable so tests don't need a real tty.
	Width func() int

	ts *timestamp.State

	textLines [8]strings.Builder

	gprofHist      map[string]int
	gprofTotal     int
	gprofEpochFrom time.Time

	overflowCount int

	lastDataValue [4]uint32
	lastDataValid [4]bool
}

// New returns a Dispatcher writing to os.Stdout with a 0.7s profile epoch.
func New() *Dispatcher {
	d := &Dispatcher{
		Out:             os.Stdout,
		ProfileInterval: 700 * time.Millisecond,
		Now:             time.Now,
		Width:           termio.Width,
		ts:              &timestamp.State{},
		gprofHist:       make(map[string]int),
	}
	d.gprofEpochFrom = d.Now()
	return d
}

// Timestamp exposes the dispatcher's timestamp state (read-only use by
// callers that want to report current trace time alongside other status).
func (d *Dispatcher) Timestamp() *timestamp.State { return d.ts }

// Handlers returns a tpiu.Handlers wired to this dispatcher's methods, for
// registration with a tpiu.Parser.
func (d *Dispatcher) Handlers() tpiu.Handlers {
	return tpiu.Handlers{
		OnOverflow: d.onOverflow,
		OnSync:     func() {},
		OnSIT:      d.onSIT,
		OnHSP:      d.onHSP,
		OnDuffByte: func(byte) {},
	}
}

func (d *Dispatcher) print(format string, args ...any) {
	fmt.Fprintf(d.Out, format+"\n", args...)
}

// onOverflow accounts overflow frames and warns every 50 (spec section 4.7
// and the concrete scenario in section 8: the 50th overflow warns and
// resets the counter).
func (d *Dispatcher) onOverflow() {
	d.overflowCount++
	if d.overflowCount == 50 {
		d.print("WARN: 50 trace overflows since last warning")
		d.overflowCount = 0
	}
}

func (d *Dispatcher) onSIT(sit tpiu.SIT) {
	switch {
	case sit.Chan >= chanTextFirst && sit.Chan <= chanTextLast:
		d.onText(sit)
	case sit.Chan == chanTimestamp:
		d.ts.Update16(uint16(sit.Sum))
		d.print("%s  timer update", d.ts.FmtAbs())
	case sit.Chan == chanQFSigDisp:
		d.onQFSigDispatch(sit)
	case sit.Chan == chanQFStateEnt:
		d.onQFStateEntry(sit)
	}
}

func (d *Dispatcher) onText(sit tpiu.SIT) {
	acc := &d.textLines[sit.Chan]
	switch len(sit.Data) {
	case 1:
		b := sit.Data[0]
		if b == '\n' {
			d.print("%s", acc.String())
			acc.Reset()
		} else {
			acc.WriteByte(b)
		}
	case 2, 4:
		fmt.Fprintf(acc, "%d(0x%x)", sit.Sum, sit.Sum)
	}
}

func (d *Dispatcher) onQFSigDispatch(sit tpiu.SIT) {
	switch len(sit.Data) {
	case 1:
		d.ts.Update8(sit.Data[0])
	case 4:
		ao := sit.Data[3]
		sig := uint32(sit.Data[0]) | uint32(sit.Data[1])<<8 | uint32(sit.Data[2])<<16
		d.print("%s  ao sig;  %02x -> %04x", d.ts.FmtAbs(), ao, sig)
	}
}

func (d *Dispatcher) onQFStateEntry(sit tpiu.SIT) {
	switch len(sit.Data) {
	case 1:
		d.ts.Update8(sit.Data[0])
	case 4:
		addr := sit.Sum
		line := fmt.Sprintf("%s  QTRAN addr %08x", d.ts.FmtDiff(), addr)
		if d.Resolver != nil {
			if name, ok := d.Resolver.AddrToName(uint64(addr)); ok {
				line += " [" + name + "]"
			}
		}
		d.print("%s", line)
	}
}

func (d *Dispatcher) onHSP(hsp tpiu.HSP) {
	switch hsp.Subtype {
	case tpiu.HSPPCSample, tpiu.HSPDataTracePC:
		d.onPCSample(hsp.Value)
	case tpiu.HSPDataTraceData:
		d.onDataTraceData(hsp)
	case tpiu.HSPExceptionTrace:
		d.onExceptionTrace(hsp.Value)
	}
}

func (d *Dispatcher) onPCSample(pc uint32) {
	fn := ""
	if d.Resolver != nil {
		fn = d.Resolver.AddrToFunction(uint64(pc))
	}
	key := fn
	if key == "" {
		key = fmt.Sprintf("0x%08x", pc)
	}
	d.gprofHist[key]++
	d.gprofTotal++
	d.print("PC: %08x # %s", pc, fn)

	if d.Now().Sub(d.gprofEpochFrom) >= d.ProfileInterval {
		d.flushGprof()
	}
}

// flushGprof renders the current histogram sorted by descending count,
// then resets it for the next epoch (spec section 3: "reset on each
// display epoch").
func (d *Dispatcher) flushGprof() {
	type bin struct {
		name  string
		count int
	}
	bins := make([]bin, 0, len(d.gprofHist))
	for name, count := range d.gprofHist {
		bins = append(bins, bin{name, count})
	}
	sort.Slice(bins, func(i, j int) bool { return bins[i].count > bins[j].count })

	barSpace := d.Width() - 40
	if barSpace < 10 {
		barSpace = 10
	}
	for _, b := range bins {
		pct := 100 * float64(b.count) / float64(d.gprofTotal)
		barLen := int(pct / 100 * float64(barSpace))
		d.print("gprof: %-32s %5.1f%% %s", b.name, pct, strings.Repeat("#", barLen))
	}

	d.gprofHist = make(map[string]int)
	d.gprofTotal = 0
	d.gprofEpochFrom = d.Now()
}

func (d *Dispatcher) onDataTraceData(hsp tpiu.HSP) {
	idx := hsp.DWTIndex
	if idx < 0 || idx >= len(d.Watches) {
		return
	}
	w := d.Watches[idx]

	if hsp.IsWrite && !w.Render.DisplayWrite {
		return
	}
	if !hsp.IsWrite && !w.Render.DisplayRead {
		return
	}
	if w.Render.Unique && d.lastDataValid[idx] && d.lastDataValue[idx] == hsp.Value {
		return
	}
	d.lastDataValue[idx] = hsp.Value
	d.lastDataValid[idx] = true

	note := ""
	if trig := d.Triggers[idx]; trig != nil {
		verdict := trig.Eval(scripting.Event{Index: idx, Value: hsp.Value, IsWrite: hsp.IsWrite})
		if !verdict.Show {
			return
		}
		note = verdict.Note
	}

	dest := w.Name
	if dest == "" {
		dest = fmt.Sprintf("DWT%d", idx)
	}
	dir := "->"
	if hsp.IsWrite {
		dir = "<-"
	}
	line := fmt.Sprintf("DWT%d: %s %s %08x", idx, dest, dir, hsp.Value)
	if d.Resolver != nil {
		if name, ok := d.Resolver.AddrToName(uint64(hsp.Value)); ok {
			line += " " + name
		}
	}
	if note != "" {
		line += "  ; " + note
	}
	d.print("%s", line)
}

func (d *Dispatcher) onExceptionTrace(value uint32) {
	byte0 := value & 0xFF
	byte1 := (value >> 8) & 0xFF
	excNum := byte0 | ((byte1 & 0x1) << 8)
	funcCode := (byte1 >> 4) & 0x3

	funcNames := [...]string{"RESERVED", "ENTER", "EXIT", "RE-ENTER"}
	d.print("EXC: %d: %s", int(excNum)-16, funcNames[funcCode])
}
