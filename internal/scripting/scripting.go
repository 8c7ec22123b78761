// Package scripting gives an optional, per-watchpoint Lua trigger a home:
// when a DataTraceData event fires for a DWT index with a script attached,
// the script's on_event function is called with the event's
// address/value/direction as arguments and decides whether the event
// should be displayed and what extra annotation to attach. The address
// argument is 0 for events passed in by internal/dispatch, which does not
// fill Event.Addr. This generalises the teacher's macro feature
// (MachineMonitor's macros map[string][]string, recorded and replayed
// command sequences in debug_monitor.go) from "replay a fixed command
// list" to "evaluate a condition per event" — the natural shape once the
// trigger source is itself a small script rather than a canned transcript.
package scripting

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// Event is the subset of a DataTraceData hit a trigger script can see.
type Event struct {
	Index   int
	Addr    uint32
	Value   uint32
	IsWrite bool
}

// Verdict is what a trigger script decides about one Event.
type Verdict struct {
	Show bool
	Note string
}

// Trigger wraps one compiled Lua script bound to a single DWT index. A
// Trigger is not safe for concurrent use; the dispatcher invokes triggers
// one event at a time, in wire order.
type Trigger struct {
	state *lua.LState
	fn    *lua.LFunction
}

// Compile parses src as a Lua chunk that must define a global function
// `on_event(addr, value, is_write) -> show, note`. Only a boolean show
// hides the event when false; any other value displays it. note, if it is
// a string, is appended to the dispatcher's line for that
// event.
func Compile(src string) (*Trigger, error) {
	L := lua.NewState()
	if err := L.DoString(src); err != nil {
		L.Close()
		return nil, fmt.Errorf("scripting: compile: %w", err)
	}
	fn, ok := L.GetGlobal("on_event").(*lua.LFunction)
	if !ok {
		L.Close()
		return nil, fmt.Errorf("scripting: compile: script does not define on_event")
	}
	return &Trigger{state: L, fn: fn}, nil
}

// Eval runs the trigger against ev. A Lua runtime error degrades to
// Verdict{Show: true} (spec section 7's rule for handler failures: caught
// and reduced to a harmless default rather than propagating).
func (t *Trigger) Eval(ev Event) Verdict {
	t.state.Push(t.fn)
	t.state.Push(lua.LNumber(ev.Addr))
	t.state.Push(lua.LNumber(ev.Value))
	t.state.Push(lua.LBool(ev.IsWrite))

	if err := t.state.PCall(3, 2, nil); err != nil {
		return Verdict{Show: true}
	}
	defer t.state.Pop(2)

	show := true
	if b, ok := t.state.Get(-2).(lua.LBool); ok {
		show = bool(b)
	}
	note := ""
	if s, ok := t.state.Get(-1).(lua.LString); ok {
		note = string(s)
	}
	return Verdict{Show: show, Note: note}
}

// Close releases the underlying Lua state.
func (t *Trigger) Close() {
	t.state.Close()
}
